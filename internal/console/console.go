// Package console wires the streaming pipeline together and exposes the
// handle the hosting frontend talks to: connection lifecycle, decoded
// frames, monitor layout, latency and quality control, and input relay.
package console

import (
	"log/slog"
	"sync"
	"time"

	"github.com/screencontrol/sc-console/internal/console/decode"
	"github.com/screencontrol/sc-console/internal/console/protocol"
	"github.com/screencontrol/sc-console/internal/console/session"
	"github.com/screencontrol/sc-console/internal/util"
)

// fpsWindow is the sliding window over which the render rate is measured.
const fpsWindow = time.Second

// Listener receives console state changes. All callbacks run on console
// goroutines; implementations must not block.
type Listener interface {
	StatusChanged(state session.State)
	FrameReady(frame decode.Frame)
	MonitorsChanged(active int, monitors []protocol.Monitor)
	ResolutionChanged(width, height int)
	FPSChanged(fps int)
	LatencyChanged(rtt time.Duration)
	TierChanged(tier session.Tier)
	ClipboardReceived(text string)
	CursorMoved(x, y int, visible bool)
	Diagnostic(err error)
}

// Options configures a console.
type Options struct {
	ServerURL string
	SessionID string
	AuthToken string

	// Backend optionally forces a decode backend; the zero value lets
	// the selector probe the platform.
	Backend decode.Kind

	// Media must be set when Backend is the segment muxer.
	Media decode.MediaSink

	// DecoderProbe overrides platform hardware detection when set.
	DecoderProbe func() bool

	// DecoderFactory overrides decode backend construction when set.
	// Embedders and tests use it to supply their own decoders.
	DecoderFactory func(decode.Kind, decode.Sink) (decode.Backend, error)
}

// Console is the boundary handle for one remote desktop session.
type Console struct {
	listener Listener
	logger   *slog.Logger

	sess     *session.Session
	selector *decode.Selector
	jpeg     *decode.JPEGDecoder
	quality  *session.QualityController
	input    *session.InputRelay

	mu         sync.Mutex
	monitors   []protocol.Monitor
	active     int
	width      int
	height     int
	latency    time.Duration
	fps        int
	frameTimes []time.Time
	closed     bool
}

// New assembles a console from options. Call Connect to start.
func New(opts Options, listener Listener) *Console {
	c := &Console{
		listener: listener,
		logger:   util.GetLogger(),
	}

	c.sess = session.New(opts.ServerURL, opts.SessionID, opts.AuthToken, session.Handlers{
		OnState:   c.onState,
		OnMessage: c.onMessage,
		OnRTT:     c.onRTT,
	})
	c.selector = decode.NewSelector(c, decode.SelectorOptions{
		Preferred: opts.Backend,
		Media:     opts.Media,
		Probe:     opts.DecoderProbe,
		Factory:   opts.DecoderFactory,
	})
	c.jpeg = decode.NewJPEGDecoder(c)
	c.quality = session.NewQualityController(
		func(q protocol.QualitySettings) {
			if err := c.sess.Send(protocol.EncodeQualitySettings(q)); err != nil {
				c.logger.Debug("quality request not sent", "error", err)
			}
		},
		func(tier session.Tier) {
			c.listener.TierChanged(tier)
		},
	)
	c.input = session.NewInputRelay(c.sess)
	return c
}

// Connect starts the session. It returns immediately; progress arrives
// through the listener.
func (c *Console) Connect() {
	c.sess.Start()
}

// Close ends the session and tears the pipeline down.
func (c *Console) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.sess.Close()
	if cerr := c.selector.Close(); err == nil {
		err = cerr
	}
	return err
}

// Status returns the connection state.
func (c *Console) Status() session.State {
	return c.sess.State()
}

// Monitors returns the remote monitor layout and the active monitor index.
func (c *Console) Monitors() (int, []protocol.Monitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Monitor, len(c.monitors))
	copy(out, c.monitors)
	return c.active, out
}

// Resolution returns the active stream dimensions.
func (c *Console) Resolution() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// FPS returns the current render rate.
func (c *Console) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// Latency returns the last measured round-trip time.
func (c *Console) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// QualityTier returns the active quality tier.
func (c *Console) QualityTier() session.Tier {
	return c.quality.Tier()
}

// AutoQuality reports whether adaptive quality is on.
func (c *Console) AutoQuality() bool {
	return c.quality.Auto()
}

// SetAutoQuality switches adaptive quality on or off.
func (c *Console) SetAutoQuality(enabled bool) {
	c.quality.SetAuto(enabled)
}

// SetQualityTier applies a manual preset and disables adaptation.
func (c *Console) SetQualityTier(tier session.Tier) {
	c.quality.SetManual(tier)
}

// DecoderKind returns the active decode backend.
func (c *Console) DecoderKind() decode.Kind {
	return c.selector.Kind()
}

// Input returns the relay for pointer, keyboard, clipboard and monitor
// control.
func (c *Console) Input() *session.InputRelay {
	return c.input
}

// SendRawInput forwards a pre-encoded input envelope. Dropped silently when
// the transport is down.
func (c *Console) SendRawInput(data []byte) {
	c.input.SendRaw(data)
}

// SwitchMonitor requests capture of another monitor. A request for the
// monitor already active is suppressed; otherwise the decoder waits for the
// next keyframe of the new stream.
func (c *Console) SwitchMonitor(monitor int) {
	if c.input.SwitchMonitor(byte(monitor)) {
		c.selector.Reset()
	}
}

// SendClipboard pushes local clipboard text to the remote machine.
func (c *Console) SendClipboard(text string) {
	c.input.Clipboard(text)
}

// onState relays connection transitions and resets the decoder on drops so
// a resumed stream re-initializes from its next keyframe.
func (c *Console) onState(state session.State) {
	if state == session.StateReconnecting || state == session.StateDisconnected {
		c.selector.Reset()
	}
	c.listener.StatusChanged(state)
}

func (c *Console) onRTT(rtt time.Duration) {
	c.mu.Lock()
	c.latency = rtt
	c.mu.Unlock()

	c.listener.LatencyChanged(rtt)
	c.quality.ObserveRTT(rtt.Milliseconds())
}

// onMessage dispatches decoded server envelopes.
func (c *Console) onMessage(env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindVideoFrame:
		c.handleVideoFrame(env.VideoFrame)

	case protocol.KindScreenInfo:
		c.handleScreenInfo(env.ScreenInfo)

	case protocol.KindClipboardData:
		c.listener.ClipboardReceived(env.ClipboardData.Text)

	case protocol.KindCursorPosition:
		p := env.CursorPosition
		c.listener.CursorMoved(int(p.X), int(p.Y), p.Visible)

	case protocol.KindSessionEnd:
		// Lifecycle handled by the session; nothing to do here.

	case protocol.KindAudioFrame:
		// Audio playback is not part of the console.

	default:
		c.logger.Debug("ignoring unexpected message", "kind", env.Kind.String())
	}
}

func (c *Console) handleVideoFrame(frame *protocol.VideoFrame) {
	switch frame.Codec {
	case protocol.CodecH264:
		c.selector.HandleFrame(frame.Data, frame.Keyframe)
	case protocol.CodecJPEG:
		c.jpeg.Decode(frame.Data)
	default:
		c.logger.Debug("unknown video codec", "codec", frame.Codec)
	}
}

func (c *Console) handleScreenInfo(info *protocol.ScreenInfo) {
	c.mu.Lock()
	resChanged := false
	if info.ActiveMonitor < len(info.Monitors) {
		m := info.Monitors[info.ActiveMonitor]
		resChanged = m.Width != c.width || m.Height != c.height
		c.width, c.height = m.Width, m.Height
	}
	c.monitors = info.Monitors
	c.active = info.ActiveMonitor
	w, h := c.width, c.height
	c.mu.Unlock()

	c.input.NoteActiveMonitor(byte(info.ActiveMonitor))

	if resChanged {
		// A new mode means a new stream; wait for its keyframe.
		c.selector.Reset()
		c.listener.ResolutionChanged(w, h)
	}
	c.listener.MonitorsChanged(info.ActiveMonitor, info.Monitors)
}

// FrameReady implements decode.Sink: count the frame for the FPS window and
// hand it to the frontend.
func (c *Console) FrameReady(frame decode.Frame) {
	now := time.Now()

	c.mu.Lock()
	c.frameTimes = append(c.frameTimes, now)
	cutoff := now.Add(-fpsWindow)
	for len(c.frameTimes) > 0 && c.frameTimes[0].Before(cutoff) {
		c.frameTimes = c.frameTimes[1:]
	}
	fps := len(c.frameTimes)
	changed := fps != c.fps
	c.fps = fps
	c.mu.Unlock()

	if changed {
		c.listener.FPSChanged(fps)
	}
	c.listener.FrameReady(frame)
}

// Resized implements decode.Sink.
func (c *Console) Resized(width, height int) {
	c.mu.Lock()
	c.width, c.height = width, height
	c.mu.Unlock()
	c.listener.ResolutionChanged(width, height)
}

// DecodeError implements decode.Sink. Decode problems are diagnostics, not
// session failures; the selector handles fallback.
func (c *Console) DecodeError(err error) {
	c.listener.Diagnostic(err)
}
