package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screencontrol/sc-console/internal/console/h264"
)

// fakeRawDecoder emits one solid-color picture per slice NAL and swallows
// parameter sets, mirroring how a real decoder buffers until it has a frame.
type fakeRawDecoder struct {
	pics   chan *yuvPicture
	nals   [][]byte
	closed bool
}

func newFakeRawDecoder() *fakeRawDecoder {
	return &fakeRawDecoder{pics: make(chan *yuvPicture, 16)}
}

func (d *fakeRawDecoder) DecodeNAL(nal []byte) (*yuvPicture, error) {
	owned := make([]byte, len(nal))
	copy(owned, nal)
	d.nals = append(d.nals, owned)

	t := h264.NALType(nal)
	if t != h264.NALUnitTypeIDR && t != h264.NALUnitTypeNonIDR {
		return nil, nil
	}
	select {
	case pic := <-d.pics:
		return pic, nil
	default:
		return solidPicture(4, 2, 128, 128, 128), nil
	}
}

func (d *fakeRawDecoder) Close() error {
	d.closed = true
	return nil
}

func solidPicture(w, h int, y, u, v byte) *yuvPicture {
	pic := &yuvPicture{
		Width: w, Height: h,
		YStride: w, UVStride: w / 2,
		Y: make([]byte, w*h),
		U: make([]byte, (w/2)*(h/2)),
		V: make([]byte, (w/2)*(h/2)),
	}
	for i := range pic.Y {
		pic.Y[i] = y
	}
	for i := range pic.U {
		pic.U[i] = u
	}
	for i := range pic.V {
		pic.V[i] = v
	}
	return pic
}

func swConfig(t *testing.T) Config {
	t.Helper()
	record, err := h264.BuildDecoderConfig(decSPS, decPPS)
	require.NoError(t, err)
	return Config{Width: 64, Height: 48, DecoderConfig: record, Codec: "avc1.42c01e"}
}

func waitFrames(t *testing.T, sink *captureSink, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for sink.frameCount() < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, sink.frameCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSoftwarePushBeforeInit(t *testing.T) {
	sink := &captureSink{}
	b := newSoftwareBackend(sink, newFakeRawDecoder())
	defer b.Close()

	assert.ErrorIs(t, b.PushFrame(deltaAnnexB(), false), ErrNotConfigured)
}

func TestSoftwareInitPrimesParameterSets(t *testing.T) {
	sink := &captureSink{}
	dec := newFakeRawDecoder()
	b := newSoftwareBackend(sink, dec)
	defer b.Close()

	require.NoError(t, b.Init(swConfig(t)))
	require.NoError(t, b.PushFrame(deltaAnnexB(), false))
	waitFrames(t, sink, 1)

	// Worker fed the parameter sets one NAL at a time before the slice.
	require.GreaterOrEqual(t, len(dec.nals), 3)
	assert.Equal(t, h264.NALUnitTypeSPS, h264.NALType(dec.nals[0]))
	assert.Equal(t, h264.NALUnitTypePPS, h264.NALType(dec.nals[1]))
}

func TestSoftwareDecodeAndConvert(t *testing.T) {
	sink := &captureSink{}
	dec := newFakeRawDecoder()
	// Pure gray: Y=128, U=V=128 converts to RGB(128,128,128).
	dec.pics <- solidPicture(4, 2, 128, 128, 128)
	b := newSoftwareBackend(sink, dec)
	defer b.Close()

	require.NoError(t, b.Init(swConfig(t)))
	require.NoError(t, b.PushFrame(deltaAnnexB(), false))
	waitFrames(t, sink, 1)

	sink.mu.Lock()
	frame := sink.frames[0]
	sink.mu.Unlock()

	assert.Equal(t, 4, frame.Width)
	assert.Equal(t, 2, frame.Height)
	require.Len(t, frame.Pixels, 4*2*4)
	assert.Equal(t, []byte{128, 128, 128, 255}, frame.Pixels[:4])
}

func TestSoftwareResizeNotification(t *testing.T) {
	sink := &captureSink{}
	dec := newFakeRawDecoder()
	dec.pics <- solidPicture(4, 2, 16, 128, 128)
	dec.pics <- solidPicture(8, 4, 16, 128, 128)
	b := newSoftwareBackend(sink, dec)
	defer b.Close()

	require.NoError(t, b.Init(swConfig(t)))
	require.NoError(t, b.PushFrame(deltaAnnexB(), false))
	require.NoError(t, b.PushFrame(deltaAnnexB(), false))
	waitFrames(t, sink, 2)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.resizes, 2)
	assert.Equal(t, [2]int{4, 2}, sink.resizes[0])
	assert.Equal(t, [2]int{8, 4}, sink.resizes[1])
}

func TestSoftwareCloseStopsWorker(t *testing.T) {
	sink := &captureSink{}
	dec := newFakeRawDecoder()
	b := newSoftwareBackend(sink, dec)

	require.NoError(t, b.Init(swConfig(t)))
	require.NoError(t, b.Close())
	assert.True(t, dec.closed)
	assert.ErrorIs(t, b.PushFrame(deltaAnnexB(), false), ErrClosed)
}

func TestYUVToRGBAConversion(t *testing.T) {
	tests := []struct {
		name    string
		y, u, v byte
		want    [3]byte
	}{
		{"gray", 128, 128, 128, [3]byte{128, 128, 128}},
		{"black", 0, 128, 128, [3]byte{0, 0, 0}},
		{"white", 255, 128, 128, [3]byte{255, 255, 255}},
		// Y=81 U=90 V=240: standard red test vector.
		{"red", 81, 90, 240, [3]byte{238, 14, 13}},
		// Saturated chroma must clamp, not wrap.
		{"clamp_high", 235, 16, 255, [3]byte{255, 182, 36}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pic := solidPicture(2, 2, tt.y, tt.u, tt.v)
			dst := make([]byte, 2*2*4)
			yuvToRGBA(dst, pic)

			for px := 0; px < 4; px++ {
				o := px * 4
				assert.InDelta(t, tt.want[0], dst[o], 1, "R pixel %d", px)
				assert.InDelta(t, tt.want[1], dst[o+1], 1, "G pixel %d", px)
				assert.InDelta(t, tt.want[2], dst[o+2], 1, "B pixel %d", px)
				assert.Equal(t, byte(255), dst[o+3])
			}
		})
	}
}
