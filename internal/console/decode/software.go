package decode

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/screencontrol/sc-console/internal/console/h264"
	"github.com/screencontrol/sc-console/internal/util"
)

// rawDecoder consumes one raw NAL unit at a time and occasionally emits a
// picture. Tests substitute a fake.
type rawDecoder interface {
	DecodeNAL(nal []byte) (*yuvPicture, error)
	Close() error
}

type decodeRequest struct {
	data     []byte
	keyframe bool
}

type pictureResult struct {
	frame   Frame
	resized bool
	err     error
}

// SoftwareBackend decodes on a dedicated worker goroutine so the network
// read loop never blocks on pixel conversion. Requests and results travel
// over a typed channel pair; the worker owns the decoder and the reusable
// RGBA buffer, the dispatcher goroutine owns sink delivery.
type SoftwareBackend struct {
	mu         sync.Mutex
	sink       Sink
	logger     *slog.Logger
	requests   chan decodeRequest
	results    chan pictureResult
	done       chan struct{}
	wg         sync.WaitGroup
	configured bool
	closed     bool
}

// NewSoftwareBackend creates a software backend bound to sink.
func NewSoftwareBackend(sink Sink) (*SoftwareBackend, error) {
	dec, err := newNativeSoftwareDecoder()
	if err != nil {
		return nil, err
	}
	return newSoftwareBackend(sink, dec), nil
}

func newSoftwareBackend(sink Sink, dec rawDecoder) *SoftwareBackend {
	b := &SoftwareBackend{
		sink:     sink,
		logger:   util.GetLogger(),
		requests: make(chan decodeRequest, 16),
		results:  make(chan pictureResult, 16),
		done:     make(chan struct{}),
	}

	b.wg.Add(2)
	go b.worker(dec)
	go b.dispatcher()
	return b
}

// Init primes the worker with the stream parameter sets rebuilt as an
// Annex-B access unit. The backend performs its own reframing.
func (b *SoftwareBackend) Init(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	sps, pps, err := h264.ParseDecoderConfig(cfg.DecoderConfig)
	if err != nil {
		return fmt.Errorf("parse decoder config: %w", err)
	}

	primer := make([]byte, 0, 8+len(sps)+len(pps))
	primer = append(primer, 0x00, 0x00, 0x00, 0x01)
	primer = append(primer, sps...)
	primer = append(primer, 0x00, 0x00, 0x00, 0x01)
	primer = append(primer, pps...)

	select {
	case b.requests <- decodeRequest{data: primer, keyframe: true}:
	case <-b.done:
		return ErrClosed
	}
	b.configured = true
	b.logger.Debug("software decoder configured", "width", cfg.Width, "height", cfg.Height, "codec", cfg.Codec)
	return nil
}

// PushFrame hands one Annex-B access unit to the worker. The buffer is
// copied because ownership transfers to the worker. When the queue is full
// the frame is dropped so the live view keeps up.
func (b *SoftwareBackend) PushFrame(data []byte, keyframe bool) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if !b.configured {
		b.mu.Unlock()
		return ErrNotConfigured
	}
	b.mu.Unlock()

	owned := make([]byte, len(data))
	copy(owned, data)

	select {
	case b.requests <- decodeRequest{data: owned, keyframe: keyframe}:
	default:
		b.logger.Debug("software queue full, dropping frame", "keyframe", keyframe)
	}
	return nil
}

func (b *SoftwareBackend) worker(dec rawDecoder) {
	defer b.wg.Done()
	defer close(b.results)
	defer dec.Close()

	var rgba []byte
	lastW, lastH := 0, 0

	for {
		select {
		case <-b.done:
			return
		case req := <-b.requests:
			for _, nal := range h264.SplitNALUnits(req.data) {
				pic, err := dec.DecodeNAL(nal)
				if err != nil {
					b.emit(pictureResult{err: err})
					continue
				}
				if pic == nil {
					continue
				}

				n := pic.Width * pic.Height * 4
				if len(rgba) != n {
					rgba = make([]byte, n)
				}
				yuvToRGBA(rgba, pic)

				out := make([]byte, n)
				copy(out, rgba)

				resized := pic.Width != lastW || pic.Height != lastH
				lastW, lastH = pic.Width, pic.Height
				b.emit(pictureResult{
					frame:   Frame{Pixels: out, Width: pic.Width, Height: pic.Height},
					resized: resized,
				})
			}
		}
	}
}

func (b *SoftwareBackend) emit(res pictureResult) {
	select {
	case b.results <- res:
	case <-b.done:
	}
}

func (b *SoftwareBackend) dispatcher() {
	defer b.wg.Done()
	for res := range b.results {
		if res.err != nil {
			b.sink.DecodeError(res.err)
			continue
		}
		if res.resized {
			b.sink.Resized(res.frame.Width, res.frame.Height)
		}
		b.sink.FrameReady(res.frame)
	}
}

// Close stops both goroutines and releases the decoder.
func (b *SoftwareBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.configured = false
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
