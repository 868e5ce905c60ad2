package decode

import (
	"bytes"
	"fmt"
	"sync"

	gomp4 "github.com/abema/go-mp4"
)

// MediaSink is the platform media pipeline element the segment-muxing
// backend appends fragmented MP4 to. Appends can be refused transiently
// (ErrUpdating) or because the buffer is full (ErrQuotaExceeded); the
// backend is responsible for retrying and trimming.
type MediaSink interface {
	// AppendSegment appends one init segment or media fragment.
	AppendSegment(data []byte) error

	// RemoveRange evicts buffered media between start and end, in seconds.
	RemoveRange(start, end float64) error

	// Buffered returns the currently buffered time range in seconds.
	Buffered() (start, end float64)

	// Position returns the playback position in seconds.
	Position() float64
}

// segmentTimescale is the track timescale the muxer writes and the buffered
// sink assumes when reading fragment timing back out of the boxes.
const segmentTimescale = 90000

type bufferedSegment struct {
	start float64
	end   float64
	size  int
}

// BufferedMediaSink is an in-memory MediaSink backed by box-level parsing of
// the appended fragments. It models the quota and updating behavior of a
// real platform pipeline buffer and doubles as the sink used by the headless
// CLI, where nothing renders the media.
type BufferedMediaSink struct {
	mu        sync.Mutex
	segments  []bufferedSegment
	usedBytes int
	quota     int
	updating  bool
	position  float64
	hasInit   bool
}

// NewBufferedMediaSink creates a sink holding at most quota bytes of media.
func NewBufferedMediaSink(quota int) *BufferedMediaSink {
	return &BufferedMediaSink{quota: quota}
}

func (s *BufferedMediaSink) AppendSegment(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updating {
		return ErrUpdating
	}
	if s.usedBytes+len(data) > s.quota {
		return ErrQuotaExceeded
	}

	start, end, isInit, err := parseSegmentTiming(data)
	if err != nil {
		return fmt.Errorf("parse segment: %w", err)
	}
	if isInit {
		s.hasInit = true
		return nil
	}
	if !s.hasInit {
		return fmt.Errorf("media fragment appended before init segment")
	}

	s.segments = append(s.segments, bufferedSegment{start: start, end: end, size: len(data)})
	s.usedBytes += len(data)
	return nil
}

func (s *BufferedMediaSink) RemoveRange(start, end float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.segments[:0]
	for _, seg := range s.segments {
		if seg.end <= end && seg.start >= start {
			s.usedBytes -= seg.size
			continue
		}
		kept = append(kept, seg)
	}
	s.segments = kept
	return nil
}

func (s *BufferedMediaSink) Buffered() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.segments) == 0 {
		return 0, 0
	}
	return s.segments[0].start, s.segments[len(s.segments)-1].end
}

func (s *BufferedMediaSink) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// AdvanceTo moves the playback position, normally driven by the renderer.
func (s *BufferedMediaSink) AdvanceTo(position float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position > s.position {
		s.position = position
	}
}

// SetUpdating toggles the busy state a real pipeline enters while it
// processes a prior append.
func (s *BufferedMediaSink) SetUpdating(updating bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updating = updating
}

// parseSegmentTiming reads fragment timing out of the moof boxes. An init
// segment (ftyp/moov, no moof) reports isInit.
func parseSegmentTiming(data []byte) (start, end float64, isInit bool, err error) {
	r := bytes.NewReader(data)

	tfdts, err := gomp4.ExtractBoxWithPayload(r, nil, gomp4.BoxPath{
		gomp4.BoxTypeMoof(), gomp4.BoxTypeTraf(), gomp4.BoxTypeTfdt(),
	})
	if err != nil {
		return 0, 0, false, err
	}
	if len(tfdts) == 0 {
		return 0, 0, true, nil
	}

	tfdt, ok := tfdts[0].Payload.(*gomp4.Tfdt)
	if !ok {
		return 0, 0, false, fmt.Errorf("unexpected tfdt payload type")
	}
	base := uint64(tfdt.BaseMediaDecodeTimeV0)
	if tfdt.Version == 1 {
		base = tfdt.BaseMediaDecodeTimeV1
	}
	start = float64(base) / segmentTimescale

	if _, err := r.Seek(0, 0); err != nil {
		return 0, 0, false, err
	}
	truns, err := gomp4.ExtractBoxWithPayload(r, nil, gomp4.BoxPath{
		gomp4.BoxTypeMoof(), gomp4.BoxTypeTraf(), gomp4.BoxTypeTrun(),
	})
	if err != nil {
		return 0, 0, false, err
	}

	var duration uint64
	for _, b := range truns {
		trun, ok := b.Payload.(*gomp4.Trun)
		if !ok {
			continue
		}
		for _, entry := range trun.Entries {
			duration += uint64(entry.SampleDuration)
		}
	}

	end = start + float64(duration)/segmentTimescale
	return start, end, false, nil
}
