package decode

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"log/slog"

	"github.com/screencontrol/sc-console/internal/util"
)

// maxJPEGInFlight bounds concurrent JPEG decodes. Frames arriving while both
// slots are busy are dropped; for a live view the newest frame always
// supersedes a stale one.
const maxJPEGInFlight = 2

// JPEGDecoder decodes still-image frames off the read loop.
type JPEGDecoder struct {
	sink   Sink
	slots  chan struct{}
	logger *slog.Logger
}

// NewJPEGDecoder creates a decoder delivering to sink.
func NewJPEGDecoder(sink Sink) *JPEGDecoder {
	return &JPEGDecoder{
		sink:   sink,
		slots:  make(chan struct{}, maxJPEGInFlight),
		logger: util.GetLogger(),
	}
}

// Decode schedules one JPEG frame. It never blocks the caller.
func (d *JPEGDecoder) Decode(data []byte) {
	select {
	case d.slots <- struct{}{}:
	default:
		d.logger.Debug("jpeg decoders busy, dropping frame", "size", len(data))
		return
	}

	go func() {
		defer func() { <-d.slots }()

		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			d.sink.DecodeError(err)
			return
		}

		bounds := img.Bounds()
		rgba, ok := img.(*image.RGBA)
		if !ok {
			rgba = image.NewRGBA(bounds)
			draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
		}

		d.sink.FrameReady(Frame{
			Pixels: rgba.Pix,
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		})
	}()
}
