// Package decode turns the incoming H.264 elementary stream into displayable
// frames. Three interchangeable backends implement the same contract: a
// hardware-accelerated platform decoder, a pure worker-thread software
// decoder, and a segment muxer that hands fragmented MP4 to a platform media
// pipeline. The Selector owns backend choice and fallback.
package decode

import "errors"

var (
	// ErrNotConfigured is returned when a frame is pushed before Init.
	ErrNotConfigured = errors.New("decoder not configured")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("decoder closed")

	// ErrHardwareUnavailable means the platform has no usable hardware
	// decode capability.
	ErrHardwareUnavailable = errors.New("hardware decoder unavailable")

	// ErrUpdating means the media sink is busy with a previous append.
	ErrUpdating = errors.New("media sink updating")

	// ErrQuotaExceeded means the media sink buffer is full and must be
	// trimmed before more data is appended.
	ErrQuotaExceeded = errors.New("media sink quota exceeded")
)

// Config carries everything a backend needs to initialize.
type Config struct {
	Width  int
	Height int

	// DecoderConfig is the AVC decoder configuration record extracted
	// from the stream's parameter sets.
	DecoderConfig []byte

	// Codec is the RFC 6381 identifier, e.g. "avc1.64001f".
	Codec string
}

// Frame is one decoded picture. Pixels is tightly packed RGBA. Backends that
// present through a media sink deliver frames with nil Pixels; the sink owns
// the actual image.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

// Sink receives backend output and failures. Implementations must be safe
// for calls from backend-owned goroutines.
type Sink interface {
	FrameReady(f Frame)
	Resized(width, height int)
	DecodeError(err error)
}

// Backend is the capability contract every decoder implements.
type Backend interface {
	// Init prepares the decoder. The configuration must come from a
	// keyframe's parameter sets.
	Init(cfg Config) error

	// PushFrame submits one Annex-B access unit. A nil return means the
	// frame was accepted or deliberately dropped; an error is a hard
	// decode failure.
	PushFrame(data []byte, keyframe bool) error

	// Close releases decoder resources. Safe to call more than once.
	Close() error
}
