package decode

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/screencontrol/sc-console/internal/console/h264"
	"github.com/screencontrol/sc-console/internal/util"
)

// Kind identifies the active decode backend.
type Kind int

const (
	KindUnselected Kind = iota
	KindHardware
	KindSoftware
	KindSegmentMux
)

func (k Kind) String() string {
	switch k {
	case KindHardware:
		return "hardware"
	case KindSoftware:
		return "software"
	case KindSegmentMux:
		return "segment-mux"
	}
	return "unselected"
}

// maxHardFailures is the number of consecutive hard decode failures after
// which the hardware backend is permanently demoted.
const maxHardFailures = 3

// SelectorOptions tunes backend choice.
type SelectorOptions struct {
	// Preferred selects a backend explicitly. KindUnselected picks
	// hardware when available, software otherwise.
	Preferred Kind

	// Media is required when the segment-muxing backend is selected.
	Media MediaSink

	// OnBackendChange is invoked, if set, whenever the active backend
	// kind changes, including the initial selection.
	OnBackendChange func(Kind)

	// Probe overrides platform hardware detection when set.
	Probe func() bool

	// Factory overrides backend construction when set. Embedders and
	// tests use it to supply their own decoders.
	Factory func(kind Kind, sink Sink) (Backend, error)
}

// Selector owns the active decode backend and the fallback policy: start on
// hardware when the platform supports it, demote permanently to software
// after repeated hard failures, and gate every (re)initialization on a
// keyframe. Failure state is scoped to the selector instance, so a new
// session starts clean.
type Selector struct {
	mu     sync.Mutex
	sink   Sink
	logger *slog.Logger
	opts   SelectorOptions

	backend      Backend
	kind         Kind
	configured   bool
	demoted      bool
	exhausted    bool
	hardFailures int

	asyncFailures atomic.Int32

	hwAvailable func() bool
	newHardware func(Sink) (Backend, error)
	newSoftware func(Sink) (Backend, error)
	newSegment  func(Sink) (Backend, error)
}

// NewSelector creates a selector delivering decoded output to sink.
func NewSelector(sink Sink, opts SelectorOptions) *Selector {
	s := &Selector{
		sink:        sink,
		logger:      util.GetLogger(),
		opts:        opts,
		hwAvailable: HardwareAvailable,
		newHardware: func(sk Sink) (Backend, error) {
			return NewHardwareBackend(sk)
		},
		newSoftware: func(sk Sink) (Backend, error) {
			return NewSoftwareBackend(sk)
		},
	}
	s.newSegment = func(sk Sink) (Backend, error) {
		if opts.Media == nil {
			return nil, fmt.Errorf("segment-mux backend requires a media sink")
		}
		return NewSegmentMuxBackend(sk, opts.Media), nil
	}
	if opts.Probe != nil {
		s.hwAvailable = opts.Probe
	}
	if opts.Factory != nil {
		s.newHardware = func(sk Sink) (Backend, error) { return opts.Factory(KindHardware, sk) }
		s.newSoftware = func(sk Sink) (Backend, error) { return opts.Factory(KindSoftware, sk) }
		s.newSegment = func(sk Sink) (Backend, error) { return opts.Factory(KindSegmentMux, sk) }
	}
	return s
}

// selectorSink forwards backend output to the caller's sink while counting
// asynchronous hard failures for the fallback policy. The count is drained
// on the next frame so demotion never runs inside a backend callback.
type selectorSink struct {
	s *Selector
}

func (a *selectorSink) FrameReady(f Frame) { a.s.sink.FrameReady(f) }

func (a *selectorSink) Resized(w, h int) { a.s.sink.Resized(w, h) }

func (a *selectorSink) DecodeError(err error) {
	a.s.asyncFailures.Add(1)
	a.s.sink.DecodeError(err)
}

// HandleFrame routes one Annex-B access unit through the active backend.
// Non-keyframes arriving while no backend is configured are dropped
// silently; a keyframe (re)initializes the backend from its parameter sets.
func (s *Selector) HandleFrame(data []byte, keyframe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n := s.asyncFailures.Swap(0); n > 0; n-- {
		s.recordFailureLocked(fmt.Errorf("asynchronous decode failure"))
	}

	if s.exhausted {
		return
	}
	if s.backend == nil && !s.selectBackendLocked() {
		return
	}

	if !s.configured {
		if !keyframe {
			return
		}
		sps, pps := h264.ExtractParameterSets(data)
		if sps == nil || pps == nil {
			s.logger.Debug("keyframe without parameter sets, dropping")
			return
		}
		cfg, err := buildBackendConfig(sps, pps)
		if err != nil {
			s.logger.Warn("unusable parameter sets", "error", err)
			return
		}
		if err := s.backend.Init(cfg); err != nil {
			s.recordFailureLocked(fmt.Errorf("init backend: %w", err))
			return
		}
		s.configured = true
	}

	if err := s.backend.PushFrame(data, keyframe); err != nil {
		s.recordFailureLocked(err)
		return
	}
	s.hardFailures = 0
}

// selectBackendLocked instantiates the preferred backend, falling back to
// software when hardware is not an option.
func (s *Selector) selectBackendLocked() bool {
	adapter := &selectorSink{s: s}

	want := s.opts.Preferred
	if want == KindUnselected {
		want = KindHardware
	}
	if s.demoted {
		want = KindSoftware
	}

	if want == KindSegmentMux {
		backend, err := s.newSegment(adapter)
		if err != nil {
			s.logger.Warn("segment-mux backend unavailable", "error", err)
			want = KindHardware
		} else {
			s.setBackendLocked(backend, KindSegmentMux)
			return true
		}
	}

	if want == KindHardware {
		if s.hwAvailable() {
			backend, err := s.newHardware(adapter)
			if err == nil {
				s.setBackendLocked(backend, KindHardware)
				return true
			}
			s.logger.Warn("hardware backend unavailable", "error", err)
		} else {
			s.logger.Info("no hardware decode capability, using software")
		}
	}

	backend, err := s.newSoftware(adapter)
	if err != nil {
		s.logger.Error("software backend unavailable", "error", err)
		s.markExhaustedLocked(fmt.Errorf("no decode backend available: %w", err))
		return false
	}
	s.setBackendLocked(backend, KindSoftware)
	return true
}

// markExhaustedLocked surfaces one diagnostic when no backend can serve the
// stream, and stops further backend selection attempts.
func (s *Selector) markExhaustedLocked(err error) {
	if s.exhausted {
		return
	}
	s.exhausted = true
	s.sink.DecodeError(err)
}

func (s *Selector) setBackendLocked(b Backend, kind Kind) {
	s.backend = b
	s.kind = kind
	s.configured = false
	s.hardFailures = 0
	s.logger.Info("decode backend selected", "backend", kind.String())
	if s.opts.OnBackendChange != nil {
		s.opts.OnBackendChange(kind)
	}
}

// recordFailureLocked applies the fallback policy to one hard failure.
func (s *Selector) recordFailureLocked(err error) {
	s.hardFailures++
	s.logger.Warn("decode failure", "backend", s.kind.String(), "consecutive", s.hardFailures, "error", err)

	if s.hardFailures < maxHardFailures {
		return
	}

	if s.kind == KindHardware {
		s.logger.Warn("hardware decoder demoted permanently")
		s.demoted = true
		if s.backend != nil {
			_ = s.backend.Close()
			s.backend = nil
		}
		s.configured = false
		s.hardFailures = 0
		s.selectBackendLocked()
		return
	}

	s.markExhaustedLocked(fmt.Errorf("all decode backends failing repeatedly"))
	s.hardFailures = 0
}

// Reset discards stream configuration. The backend stays alive but waits
// for the next keyframe, which is required after a monitor switch or a
// resolution change.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = false
}

// Kind returns the active backend kind.
func (s *Selector) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Configured reports whether the backend holds a usable stream config.
func (s *Selector) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// Close tears down the active backend.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	s.configured = false
	s.kind = KindUnselected
	return err
}

// buildBackendConfig derives the backend configuration from raw parameter
// sets: dimensions from the SPS, the decoder configuration record and the
// codec identifier from the reframer.
func buildBackendConfig(sps, pps []byte) (Config, error) {
	var parsed mch264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return Config{}, fmt.Errorf("parse SPS: %w", err)
	}

	record, err := h264.BuildDecoderConfig(sps, pps)
	if err != nil {
		return Config{}, err
	}
	codec, err := h264.CodecString(sps)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Width:         parsed.Width(),
		Height:        parsed.Height(),
		DecoderConfig: record,
		Codec:         codec,
	}, nil
}
