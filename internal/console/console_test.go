package console

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screencontrol/sc-console/internal/console/decode"
	"github.com/screencontrol/sc-console/internal/console/protocol"
	"github.com/screencontrol/sc-console/internal/console/session"
)

// testListener records every console callback.
type testListener struct {
	mu         sync.Mutex
	states     []session.State
	frames     []decode.Frame
	monitors   [][]protocol.Monitor
	actives    []int
	resolution [][2]int
	fps        []int
	latencies  []time.Duration
	tiers      []session.Tier
	clipboards []string
	cursors    [][3]int
	errs       []error
}

func (l *testListener) StatusChanged(s session.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *testListener) FrameReady(f decode.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
}

func (l *testListener) MonitorsChanged(active int, monitors []protocol.Monitor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actives = append(l.actives, active)
	l.monitors = append(l.monitors, monitors)
}

func (l *testListener) ResolutionChanged(w, h int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolution = append(l.resolution, [2]int{w, h})
}

func (l *testListener) FPSChanged(fps int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fps = append(l.fps, fps)
}

func (l *testListener) LatencyChanged(rtt time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latencies = append(l.latencies, rtt)
}

func (l *testListener) TierChanged(tier session.Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tiers = append(l.tiers, tier)
}

func (l *testListener) ClipboardReceived(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clipboards = append(l.clipboards, text)
}

func (l *testListener) CursorMoved(x, y int, visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := 0
	if visible {
		v = 1
	}
	l.cursors = append(l.cursors, [3]int{x, y, v})
}

func (l *testListener) Diagnostic(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *testListener) sawState(want session.State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.states {
		if s == want {
			return true
		}
	}
	return false
}

func (l *testListener) frameCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

// consoleServer is a minimal session endpoint that answers heartbeats.
type consoleServer struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []*protocol.Envelope
}

func newConsoleServer(t *testing.T) (*consoleServer, *httptest.Server) {
	cs := &consoleServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := cs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.mu.Lock()
		cs.conns = append(cs.conns, conn)
		cs.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			if env.Kind == protocol.KindPing {
				_ = conn.WriteMessage(websocket.BinaryMessage, protocol.EncodePong(env.Ping.Timestamp))
				continue
			}
			cs.mu.Lock()
			cs.received = append(cs.received, env)
			cs.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return cs, srv
}

func (cs *consoleServer) lastConn() *websocket.Conn {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.conns[len(cs.conns)-1]
}

func (cs *consoleServer) send(t *testing.T, data []byte) {
	t.Helper()
	require.NoError(t, cs.lastConn().WriteMessage(websocket.BinaryMessage, data))
}

func (cs *consoleServer) receivedKinds() []protocol.Kind {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	kinds := make([]protocol.Kind, 0, len(cs.received))
	for _, env := range cs.received {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

func startConsole(t *testing.T, srv *httptest.Server) (*Console, *testListener) {
	t.Helper()
	lis := &testListener{}
	c := New(Options{ServerURL: srv.URL, SessionID: "sess-it", AuthToken: "tok"}, lis)
	c.Connect()
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, func() bool { return lis.sawState(session.StateConnected) },
		5*time.Second, 10*time.Millisecond)
	return c, lis
}

// Parameter sets captured from a real baseline (profile 66, level 30)
// stream.
var (
	h264SPS = []byte{
		0x67, 0x42, 0xC0, 0x1E, 0xAB, 0x40, 0xF0, 0x28,
		0x0F, 0x68, 0x40, 0x00, 0x00, 0x03, 0x00, 0x40,
		0x00, 0x00, 0x07, 0xA3, 0xC7, 0x08,
	}
	h264PPS = []byte{0x68, 0xCE, 0x3C, 0x80}
	h264IDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10, 0xFF, 0xFE}
)

func h264Keyframe() []byte {
	var out []byte
	for _, nal := range [][]byte{h264SPS, h264PPS, h264IDR} {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, nal...)
	}
	return out
}

// fakeBackend stands in for a platform decoder and renders one solid frame
// per access unit.
type fakeBackend struct {
	sink decode.Sink

	mu     sync.Mutex
	cfg    decode.Config
	pushes int
}

func (b *fakeBackend) Init(cfg decode.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	return nil
}

func (b *fakeBackend) PushFrame(data []byte, keyframe bool) error {
	b.mu.Lock()
	cfg := b.cfg
	b.pushes++
	b.mu.Unlock()
	b.sink.FrameReady(decode.Frame{
		Width:  cfg.Width,
		Height: cfg.Height,
		Pixels: make([]byte, cfg.Width*cfg.Height*4),
	})
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func encodeConsoleJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 60, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestConsoleScreenInfoUpdatesState(t *testing.T) {
	cs, srv := newConsoleServer(t)
	c, lis := startConsole(t, srv)

	info := protocol.ScreenInfo{
		ActiveMonitor: 1,
		Monitors: []protocol.Monitor{
			{Width: 1920, Height: 1080, Primary: true},
			{Width: 1280, Height: 720},
		},
	}
	cs.send(t, protocol.EncodeScreenInfo(info))

	require.Eventually(t, func() bool {
		active, monitors := c.Monitors()
		return active == 1 && len(monitors) == 2
	}, 2*time.Second, 10*time.Millisecond)

	w, h := c.Resolution()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	lis.mu.Lock()
	defer lis.mu.Unlock()
	require.NotEmpty(t, lis.monitors)
	assert.Equal(t, 1, lis.actives[len(lis.actives)-1])
	assert.Contains(t, lis.resolution, [2]int{1280, 720})
}

func TestConsoleDecodesJPEGFrame(t *testing.T) {
	cs, srv := newConsoleServer(t)
	c, lis := startConsole(t, srv)

	cs.send(t, protocol.EncodeVideoFrame(protocol.CodecJPEG, true, encodeConsoleJPEG(t, 8, 6)))

	require.Eventually(t, func() bool { return lis.frameCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	lis.mu.Lock()
	frame := lis.frames[0]
	lis.mu.Unlock()
	assert.Equal(t, 8, frame.Width)
	assert.Equal(t, 6, frame.Height)
	assert.Len(t, frame.Pixels, 8*6*4)
	assert.GreaterOrEqual(t, c.FPS(), 1)
}

func TestConsoleDecodesH264Keyframe(t *testing.T) {
	cs, srv := newConsoleServer(t)
	lis := &testListener{}

	var mu sync.Mutex
	var kinds []decode.Kind
	backend := &fakeBackend{}
	c := New(Options{
		ServerURL:    srv.URL,
		SessionID:    "sess-h264",
		DecoderProbe: func() bool { return true },
		DecoderFactory: func(kind decode.Kind, sink decode.Sink) (decode.Backend, error) {
			mu.Lock()
			kinds = append(kinds, kind)
			mu.Unlock()
			backend.sink = sink
			return backend, nil
		},
	}, lis)
	c.Connect()
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, func() bool { return lis.sawState(session.StateConnected) },
		5*time.Second, 10*time.Millisecond)

	cs.send(t, protocol.EncodeVideoFrame(protocol.CodecH264, true, h264Keyframe()))

	require.Eventually(t, func() bool { return lis.frameCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	assert.Equal(t, decode.KindHardware, c.DecoderKind())
	mu.Lock()
	assert.Equal(t, []decode.Kind{decode.KindHardware}, kinds)
	mu.Unlock()

	// The backend was configured from the keyframe's parameter sets.
	backend.mu.Lock()
	cfg := backend.cfg
	backend.mu.Unlock()
	assert.Equal(t, "avc1.42c01e", cfg.Codec)
	assert.NotEmpty(t, cfg.DecoderConfig)

	lis.mu.Lock()
	frame := lis.frames[0]
	lis.mu.Unlock()
	assert.Equal(t, cfg.Width, frame.Width)
	assert.Equal(t, cfg.Height, frame.Height)
}

func TestConsoleSuppressesRepeatedMonitorSwitch(t *testing.T) {
	cs, srv := newConsoleServer(t)
	c, _ := startConsole(t, srv)

	c.SwitchMonitor(1)
	c.SwitchMonitor(1)
	c.SwitchMonitor(2)

	countSwitches := func() int {
		n := 0
		for _, k := range cs.receivedKinds() {
			if k == protocol.KindMonitorSwitch {
				n++
			}
		}
		return n
	}

	require.Eventually(t, func() bool { return countSwitches() == 2 },
		2*time.Second, 10*time.Millisecond)

	// The duplicate request never reaches the wire.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, countSwitches())
}

func TestConsoleClipboardAndCursor(t *testing.T) {
	cs, srv := newConsoleServer(t)
	_, lis := startConsole(t, srv)

	cs.send(t, protocol.EncodeClipboardData("remote text"))
	cs.send(t, protocol.EncodeCursorPosition(320, 240, true))

	require.Eventually(t, func() bool {
		lis.mu.Lock()
		defer lis.mu.Unlock()
		return len(lis.clipboards) == 1 && len(lis.cursors) == 1
	}, 2*time.Second, 10*time.Millisecond)

	lis.mu.Lock()
	defer lis.mu.Unlock()
	assert.Equal(t, "remote text", lis.clipboards[0])
	assert.Equal(t, [3]int{320, 240, 1}, lis.cursors[0])
}

func TestConsoleReportsReconnecting(t *testing.T) {
	cs, srv := newConsoleServer(t)
	_, lis := startConsole(t, srv)

	cs.lastConn().Close()

	require.Eventually(t, func() bool { return lis.sawState(session.StateReconnecting) },
		2*time.Second, 10*time.Millisecond)
}

func TestConsoleLatencyDrivesQuality(t *testing.T) {
	cs, srv := newConsoleServer(t)
	c, lis := startConsole(t, srv)

	// The loopback heartbeat round trip is far below the ultra threshold.
	require.Eventually(t, func() bool {
		lis.mu.Lock()
		defer lis.mu.Unlock()
		return len(lis.latencies) > 0
	}, 2*heartbeatWait(), 10*time.Millisecond)

	assert.Less(t, c.Latency(), time.Second)
	require.Eventually(t, func() bool { return c.QualityTier() == session.TierUltra },
		heartbeatWait(), 10*time.Millisecond)

	// The tier change was pushed to the server.
	require.Eventually(t, func() bool {
		for _, k := range cs.receivedKinds() {
			if k == protocol.KindQualitySettings {
				return true
			}
		}
		return false
	}, heartbeatWait(), 10*time.Millisecond)

	lis.mu.Lock()
	defer lis.mu.Unlock()
	assert.Contains(t, lis.tiers, session.TierUltra)
}

func heartbeatWait() time.Duration {
	return 5 * time.Second
}

func TestConsoleManualQualityPreset(t *testing.T) {
	cs, srv := newConsoleServer(t)
	c, _ := startConsole(t, srv)

	c.SetQualityTier(session.TierLow)
	assert.False(t, c.AutoQuality())
	assert.Equal(t, session.TierLow, c.QualityTier())

	require.Eventually(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		for _, env := range cs.received {
			if env.Kind == protocol.KindQualitySettings && env.QualitySettings.Quality == 25 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	c.SetAutoQuality(true)
	assert.True(t, c.AutoQuality())
}

func TestConsoleForwardsInput(t *testing.T) {
	cs, srv := newConsoleServer(t)
	c, _ := startConsole(t, srv)

	c.Input().Key(true, 0x41, protocol.ModCtrl)
	c.SendClipboard("local text")
	c.SwitchMonitor(1)
	c.SendRawInput(protocol.EncodeMouseMove(12, 34))

	require.Eventually(t, func() bool {
		kinds := cs.receivedKinds()
		var key, clip, mon, move bool
		for _, k := range kinds {
			switch k {
			case protocol.KindKeyEvent:
				key = true
			case protocol.KindClipboardData:
				clip = true
			case protocol.KindMonitorSwitch:
				mon = true
			case protocol.KindMouseMove:
				move = true
			}
		}
		return key && clip && mon && move
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsoleFPSWindow(t *testing.T) {
	lis := &testListener{}
	c := New(Options{ServerURL: "http://127.0.0.1:1", SessionID: "s", AuthToken: ""}, lis)

	for i := 0; i < 5; i++ {
		c.FrameReady(decode.Frame{Width: 2, Height: 2, Pixels: make([]byte, 16)})
	}
	assert.Equal(t, 5, c.FPS())

	lis.mu.Lock()
	defer lis.mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, lis.fps)
	assert.Len(t, lis.frames, 5)
}

func TestConsoleResizedCallback(t *testing.T) {
	lis := &testListener{}
	c := New(Options{ServerURL: "http://127.0.0.1:1", SessionID: "s", AuthToken: ""}, lis)

	c.Resized(640, 480)
	w, h := c.Resolution()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	lis.mu.Lock()
	defer lis.mu.Unlock()
	assert.Equal(t, [][2]int{{640, 480}}, lis.resolution)
}

func TestConsoleCloseIdempotent(t *testing.T) {
	_, srv := newConsoleServer(t)
	c, lis := startConsole(t, srv)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, session.StateDisconnected, c.Status())
	assert.True(t, lis.sawState(session.StateDisconnected))
}
