package decode

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/screencontrol/sc-console/internal/console/h264"
	"github.com/screencontrol/sc-console/internal/util"
)

const (
	// displayPollInterval is the cadence at which presented frames are
	// polled from the media sink, roughly one display refresh.
	displayPollInterval = 16 * time.Millisecond

	// trimKeepBehind is how much already-played media survives a quota
	// trim, so small seeks backward do not stall.
	trimKeepBehind = 1.0

	defaultFrameRate = 30
)

// SegmentMuxBackend remuxes the Annex-B stream into fragmented MP4 and
// appends it to a platform media sink. Decoded pixels never surface here;
// FrameReady carries presentation notifications with nil Pixels.
type SegmentMuxBackend struct {
	mu       sync.Mutex
	sink     Sink
	media    MediaSink
	reframer *h264.Reframer
	logger   *slog.Logger

	sps, pps   []byte
	width      int
	height     int
	configured bool
	closed     bool

	pending  [][]byte
	seq      uint32
	nextPTS  int64
	frameDur int64
	lastPos  float64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSegmentMuxBackend creates a segment-muxing backend appending to media.
func NewSegmentMuxBackend(sink Sink, media MediaSink) *SegmentMuxBackend {
	return &SegmentMuxBackend{
		sink:     sink,
		media:    media,
		reframer: h264.NewReframer(),
		logger:   util.GetLogger(),
		seq:      1,
		frameDur: segmentTimescale / defaultFrameRate,
	}
}

// Init writes the fMP4 init segment and starts the presentation poller.
func (b *SegmentMuxBackend) Init(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	sps, pps, err := h264.ParseDecoderConfig(cfg.DecoderConfig)
	if err != nil {
		return fmt.Errorf("parse decoder config: %w", err)
	}
	b.sps, b.pps = sps, pps
	b.width, b.height = cfg.Width, cfg.Height

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        1,
				TimeScale: segmentTimescale,
				Codec: &mp4.CodecH264{
					SPS: sps,
					PPS: pps,
				},
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal init segment: %w", err)
	}

	b.pending = append(b.pending, buf.Bytes())
	b.flushPendingLocked()

	if !b.configured {
		b.configured = true
		b.done = make(chan struct{})
		b.wg.Add(1)
		go b.pollPresented()
	}
	b.logger.Debug("segment muxer configured", "width", cfg.Width, "height", cfg.Height, "codec", cfg.Codec)
	return nil
}

// PushFrame muxes one access unit into a single-sample fragment and queues
// it for append.
func (b *SegmentMuxBackend) PushFrame(data []byte, keyframe bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if !b.configured {
		return ErrNotConfigured
	}

	avcc := b.reframer.Convert(data)
	if len(avcc) == 0 {
		return nil
	}

	// Keyframes carry their parameter sets in-band so the pipeline can
	// resume mid-stream after a trim.
	payload := avcc
	if keyframe {
		payload = prependParameterSets(avcc, b.sps, b.pps)
	} else {
		payload = make([]byte, len(avcc))
		copy(payload, avcc)
	}

	part := &fmp4.Part{
		SequenceNumber: b.seq,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       1,
				BaseTime: uint64(b.nextPTS),
				Samples: []*fmp4.Sample{
					{
						Duration:        uint32(b.frameDur),
						IsNonSyncSample: !keyframe,
						Payload:         payload,
					},
				},
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}

	b.seq++
	b.nextPTS += b.frameDur
	b.pending = append(b.pending, buf.Bytes())
	b.flushPendingLocked()
	return nil
}

// flushPendingLocked appends queued fragments in order. A busy sink leaves
// the queue intact for the next poll tick; a full sink triggers a trim of
// already-played media and one retry.
func (b *SegmentMuxBackend) flushPendingLocked() {
	for len(b.pending) > 0 {
		err := b.media.AppendSegment(b.pending[0])
		switch {
		case err == nil:
			b.pending = b.pending[1:]

		case err == ErrUpdating:
			return

		case err == ErrQuotaExceeded:
			if !b.trimConsumedLocked() {
				b.sink.DecodeError(fmt.Errorf("media sink full and nothing to trim"))
				b.pending = b.pending[1:]
				continue
			}
			if err := b.media.AppendSegment(b.pending[0]); err != nil {
				if err == ErrUpdating {
					return
				}
				b.sink.DecodeError(fmt.Errorf("append after trim: %w", err))
				b.pending = b.pending[1:]
				continue
			}
			b.pending = b.pending[1:]

		default:
			b.sink.DecodeError(fmt.Errorf("append segment: %w", err))
			b.pending = b.pending[1:]
		}
	}
}

func (b *SegmentMuxBackend) trimConsumedLocked() bool {
	start, _ := b.media.Buffered()
	cutoff := b.media.Position() - trimKeepBehind
	if cutoff <= start {
		return false
	}
	if err := b.media.RemoveRange(start, cutoff); err != nil {
		b.logger.Debug("trim failed", "error", err)
		return false
	}
	b.logger.Debug("trimmed consumed media", "from", start, "to", cutoff)
	return true
}

// pollPresented runs at display cadence: it retries queued appends and
// reports presentation progress as frame notifications.
func (b *SegmentMuxBackend) pollPresented() {
	defer b.wg.Done()

	ticker := time.NewTicker(displayPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			if b.closed {
				b.mu.Unlock()
				return
			}
			b.flushPendingLocked()
			pos := b.media.Position()
			advanced := pos > b.lastPos
			if advanced {
				b.lastPos = pos
			}
			w, h := b.width, b.height
			b.mu.Unlock()

			if advanced {
				b.sink.FrameReady(Frame{Width: w, Height: h})
			}
		}
	}
}

// Close stops the poller and drops queued fragments.
func (b *SegmentMuxBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.pending = nil
	configured := b.configured
	b.mu.Unlock()

	if configured {
		close(b.done)
		b.wg.Wait()
	}
	return nil
}

// prependParameterSets builds a new AVCC buffer with length-prefixed SPS and
// PPS records ahead of the access unit.
func prependParameterSets(avcc, sps, pps []byte) []byte {
	out := make([]byte, 0, 8+len(sps)+len(pps)+len(avcc))
	out = appendLengthPrefixed(out, sps)
	out = appendLengthPrefixed(out, pps)
	return append(out, avcc...)
}

func appendLengthPrefixed(dst, nal []byte) []byte {
	n := uint32(len(nal))
	dst = append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(dst, nal...)
}
