package session

import (
	"sync"
	"time"

	"github.com/screencontrol/sc-console/internal/console/protocol"
)

// pointerMoveInterval is the minimum spacing between pointer move messages.
// Moves arriving faster than this collapse into the newest position.
const pointerMoveInterval = 8 * time.Millisecond

// transport is what the relay needs from the connection: a best-effort send
// that reports whether the transport was open.
type transport interface {
	TrySend(data []byte) bool
}

// InputRelay encodes and forwards local input. Everything is fire and
// forget: when the transport is down events are dropped silently, and
// pointer moves are rate limited so a fast mouse cannot flood the socket.
type InputRelay struct {
	mu          sync.Mutex
	tr          transport
	lastMove    time.Time
	pending     *protocol.MouseMove
	flushWait   bool
	lastMonitor byte
	monitorSet  bool
	now         func() time.Time
	after       func(time.Duration, func()) // timer hook, replaceable in tests
}

// NewInputRelay creates a relay sending through tr.
func NewInputRelay(tr transport) *InputRelay {
	return &InputRelay{
		tr:  tr,
		now: time.Now,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// PointerMove forwards an absolute pointer position. At most one move per
// rate-limit interval goes out; the newest position always wins.
func (r *InputRelay) PointerMove(x, y uint16) {
	r.mu.Lock()

	now := r.now()
	if since := now.Sub(r.lastMove); since >= pointerMoveInterval {
		r.lastMove = now
		r.pending = nil
		r.mu.Unlock()
		r.tr.TrySend(protocol.EncodeMouseMove(x, y))
		return
	}

	r.pending = &protocol.MouseMove{X: x, Y: y}
	if !r.flushWait {
		r.flushWait = true
		delay := pointerMoveInterval - now.Sub(r.lastMove)
		r.after(delay, r.flushPending)
	}
	r.mu.Unlock()
}

func (r *InputRelay) flushPending() {
	r.mu.Lock()
	r.flushWait = false
	move := r.pending
	r.pending = nil
	if move == nil {
		r.mu.Unlock()
		return
	}
	r.lastMove = r.now()
	r.mu.Unlock()

	r.tr.TrySend(protocol.EncodeMouseMove(move.X, move.Y))
}

// Button forwards a mouse button press or release.
func (r *InputRelay) Button(button byte, down bool, x, y uint16) {
	r.tr.TrySend(protocol.EncodeMouseButton(button, down, x, y))
}

// Scroll forwards a wheel event.
func (r *InputRelay) Scroll(x, y uint16, deltaX, deltaY int16) {
	r.tr.TrySend(protocol.EncodeMouseScroll(x, y, deltaX, deltaY))
}

// Key forwards a key press or release with modifier state.
func (r *InputRelay) Key(down bool, keycode uint32, modifiers byte) {
	r.tr.TrySend(protocol.EncodeKeyEvent(down, keycode, modifiers))
}

// Clipboard forwards local clipboard text to the remote machine.
func (r *InputRelay) Clipboard(text string) {
	r.tr.TrySend(protocol.EncodeClipboardData(text))
}

// SwitchMonitor requests capture of another monitor. A request matching the
// last monitor sent (or reported active by the server) is suppressed; it
// reports whether a message actually went out.
func (r *InputRelay) SwitchMonitor(monitor byte) bool {
	r.mu.Lock()
	if r.monitorSet && r.lastMonitor == monitor {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	if !r.tr.TrySend(protocol.EncodeMonitorSwitch(monitor)) {
		return false
	}

	r.mu.Lock()
	r.lastMonitor = monitor
	r.monitorSet = true
	r.mu.Unlock()
	return true
}

// NoteActiveMonitor records the monitor the server reports as active, so a
// redundant switch request for it is suppressed.
func (r *InputRelay) NoteActiveMonitor(monitor byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastMonitor = monitor
	r.monitorSet = true
}

// SendRaw forwards a pre-encoded input envelope unchanged.
func (r *InputRelay) SendRaw(data []byte) {
	r.tr.TrySend(data)
}
