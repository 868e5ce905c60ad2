package decode

import (
	"sync"
)

// captureSink records everything a backend delivers.
type captureSink struct {
	mu      sync.Mutex
	frames  []Frame
	resizes [][2]int
	errs    []error
}

func (s *captureSink) FrameReady(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *captureSink) Resized(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, [2]int{w, h})
}

func (s *captureSink) DecodeError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *captureSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *captureSink) errCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

// Parameter sets captured from a real baseline (profile 66, level 30)
// stream, shared across backend tests.
var (
	decSPS = []byte{
		0x67, 0x42, 0xC0, 0x1E, 0xAB, 0x40, 0xF0, 0x28,
		0x0F, 0x68, 0x40, 0x00, 0x00, 0x03, 0x00, 0x40,
		0x00, 0x00, 0x07, 0xA3, 0xC7, 0x08,
	}
	decPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
	decIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10, 0xFF, 0xFE}
)

func keyframeAnnexB() []byte {
	var out []byte
	for _, nal := range [][]byte{decSPS, decPPS, decIDR} {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, nal...)
	}
	return out
}

func deltaAnnexB() []byte {
	nal := []byte{0x41, 0x9a, 0x02, 0x05}
	return append([]byte{0x00, 0x00, 0x00, 0x01}, nal...)
}
