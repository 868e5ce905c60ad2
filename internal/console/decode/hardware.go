package decode

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/screencontrol/sc-console/internal/console/h264"
	"github.com/screencontrol/sc-console/internal/util"
)

// maxHardwareQueueDepth bounds the number of access units waiting inside the
// platform decoder. Frames beyond it are skipped rather than queued so the
// live view never drifts behind.
const maxHardwareQueueDepth = 3

// Picture is one decoded RGBA picture from the platform decoder.
type Picture struct {
	Pixels []byte
	Width  int
	Height int
}

// platformDecoder is the minimal surface of the native decode session the
// hardware backend drives. Tests substitute a fake.
type platformDecoder interface {
	Configure(cfg Config) error
	Submit(avcc []byte, keyframe bool) error
	Poll() (*Picture, error)
	Close() error
}

// HardwareAvailable probes whether this platform can hardware-decode H.264.
func HardwareAvailable() bool {
	return hardwareDecoderAvailable()
}

// HardwareBackend feeds length-prefixed access units to the platform decode
// API and drains completed pictures back to the sink.
type HardwareBackend struct {
	mu         sync.Mutex
	dec        platformDecoder
	sink       Sink
	reframer   *h264.Reframer
	logger     *slog.Logger
	configured bool
	closed     bool
	pending    int
	lastW      int
	lastH      int
}

// NewHardwareBackend creates a hardware backend bound to sink.
func NewHardwareBackend(sink Sink) (*HardwareBackend, error) {
	dec, err := newNativeHardwareDecoder()
	if err != nil {
		return nil, err
	}
	return newHardwareBackend(sink, dec), nil
}

func newHardwareBackend(sink Sink, dec platformDecoder) *HardwareBackend {
	return &HardwareBackend{
		dec:      dec,
		sink:     sink,
		reframer: h264.NewReframer(),
		logger:   util.GetLogger(),
	}
}

// Init configures the platform decode session from keyframe parameter sets.
func (b *HardwareBackend) Init(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if err := b.dec.Configure(cfg); err != nil {
		return fmt.Errorf("configure hardware decoder: %w", err)
	}
	b.configured = true
	b.pending = 0
	b.lastW, b.lastH = cfg.Width, cfg.Height
	b.logger.Debug("hardware decoder configured", "width", cfg.Width, "height", cfg.Height, "codec", cfg.Codec)
	return nil
}

// PushFrame submits one Annex-B access unit. Frames are skipped without
// error while the decoder queue is at capacity.
func (b *HardwareBackend) PushFrame(data []byte, keyframe bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if !b.configured {
		return ErrNotConfigured
	}

	b.drainLocked()

	if b.pending >= maxHardwareQueueDepth {
		b.logger.Debug("hardware queue full, skipping frame", "pending", b.pending, "keyframe", keyframe)
		return nil
	}

	avcc := b.reframer.Convert(data)
	if len(avcc) == 0 {
		return nil
	}
	if err := b.dec.Submit(avcc, keyframe); err != nil {
		return fmt.Errorf("submit frame: %w", err)
	}
	b.pending++

	b.drainLocked()
	return nil
}

func (b *HardwareBackend) drainLocked() {
	for {
		pic, err := b.dec.Poll()
		if err != nil {
			b.sink.DecodeError(err)
			return
		}
		if pic == nil {
			return
		}
		if b.pending > 0 {
			b.pending--
		}
		if pic.Width != b.lastW || pic.Height != b.lastH {
			b.lastW, b.lastH = pic.Width, pic.Height
			b.sink.Resized(pic.Width, pic.Height)
		}
		b.sink.FrameReady(Frame{Pixels: pic.Pixels, Width: pic.Width, Height: pic.Height})
	}
}

// Close releases the platform decode session.
func (b *HardwareBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.configured = false
	return b.dec.Close()
}
