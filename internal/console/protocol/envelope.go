// Package protocol implements the binary message framing used between the
// console and the session server. Every WebSocket binary message carries
// exactly one envelope: a one-byte kind followed by a kind-specific payload.
// All multi-byte integers are big-endian.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies the payload carried by an envelope.
type Kind byte

const (
	KindVideoFrame      Kind = 0x01
	KindScreenInfo      Kind = 0x02
	KindSessionEnd      Kind = 0x03
	KindClipboardData   Kind = 0x04
	KindPing            Kind = 0x05
	KindPong            Kind = 0x06
	KindCursorPosition  Kind = 0x07
	KindAudioFrame      Kind = 0x08
	KindMouseMove       Kind = 0x10
	KindMouseButton     Kind = 0x11
	KindMouseScroll     Kind = 0x12
	KindKeyEvent        Kind = 0x13
	KindQualitySettings Kind = 0x20
	KindMonitorSwitch   Kind = 0x21
)

// Video codec identifiers for VideoFrame payloads.
const (
	CodecJPEG byte = 0
	CodecH264 byte = 1
)

// VideoFrame flag bits.
const (
	FlagKeyframe byte = 0x01
)

// Keyboard modifier bits.
const (
	ModShift byte = 1 << 0
	ModCtrl  byte = 1 << 1
	ModAlt   byte = 1 << 2
	ModMeta  byte = 1 << 3
)

// MaxMessageSize is the largest envelope either side will accept.
const MaxMessageSize = 10 * 1024 * 1024

func (k Kind) String() string {
	switch k {
	case KindVideoFrame:
		return "VideoFrame"
	case KindScreenInfo:
		return "ScreenInfo"
	case KindSessionEnd:
		return "SessionEnd"
	case KindClipboardData:
		return "ClipboardData"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindCursorPosition:
		return "CursorPosition"
	case KindAudioFrame:
		return "AudioFrame"
	case KindMouseMove:
		return "MouseMove"
	case KindMouseButton:
		return "MouseButton"
	case KindMouseScroll:
		return "MouseScroll"
	case KindKeyEvent:
		return "KeyEvent"
	case KindQualitySettings:
		return "QualitySettings"
	case KindMonitorSwitch:
		return "MonitorSwitch"
	}
	return fmt.Sprintf("Kind(0x%02x)", byte(k))
}

// Monitor describes one display attached to the remote machine.
type Monitor struct {
	Width   int
	Height  int
	Primary bool
}

// VideoFrame is one encoded video frame.
type VideoFrame struct {
	Codec    byte
	Keyframe bool
	Data     []byte
}

// ScreenInfo announces the remote monitor layout and the active monitor.
type ScreenInfo struct {
	ActiveMonitor int
	Monitors      []Monitor
}

// SessionEnd carries the reason the session terminated.
type SessionEnd struct {
	Reason string
}

// ClipboardData carries UTF-8 clipboard text in either direction.
type ClipboardData struct {
	Text string
}

// Heartbeat carries a Ping or Pong timestamp in milliseconds.
type Heartbeat struct {
	Timestamp uint64
}

// CursorPosition reports the remote cursor location.
type CursorPosition struct {
	X, Y    uint16
	Visible bool
}

// AudioFrame is one encoded audio frame. The console decodes the envelope
// but discards the payload.
type AudioFrame struct {
	Data []byte
}

// MouseMove is an absolute pointer position in remote coordinates.
type MouseMove struct {
	X, Y uint16
}

// MouseButton is a button press or release at a position.
type MouseButton struct {
	Button byte
	Down   bool
	X, Y   uint16
}

// MouseScroll is a wheel event at a position.
type MouseScroll struct {
	X, Y   uint16
	DeltaX int16
	DeltaY int16
}

// KeyEvent is a key press or release with modifier state.
type KeyEvent struct {
	Down      bool
	Keycode   uint32
	Modifiers byte
}

// QualitySettings requests an encoder quality change on the remote side.
type QualitySettings struct {
	Quality     byte
	MaxFPS      byte
	BitrateKbps uint32
}

// MonitorSwitch requests capture of a different monitor.
type MonitorSwitch struct {
	Monitor byte
}

// Envelope is one decoded message. Exactly one payload field matching Kind
// is non-nil.
type Envelope struct {
	Kind Kind

	VideoFrame      *VideoFrame
	ScreenInfo      *ScreenInfo
	SessionEnd      *SessionEnd
	ClipboardData   *ClipboardData
	Ping            *Heartbeat
	Pong            *Heartbeat
	CursorPosition  *CursorPosition
	AudioFrame      *AudioFrame
	MouseMove       *MouseMove
	MouseButton     *MouseButton
	MouseScroll     *MouseScroll
	KeyEvent        *KeyEvent
	QualitySettings *QualitySettings
	MonitorSwitch   *MonitorSwitch
}

// Decode parses one envelope. Failures return an error and the caller is
// expected to drop the message; a malformed envelope is never fatal to the
// session.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("message exceeds %d bytes: %d", MaxMessageSize, len(data))
	}

	kind := Kind(data[0])
	payload := data[1:]
	env := &Envelope{Kind: kind}

	switch kind {
	case KindVideoFrame:
		if len(payload) < 2 {
			return nil, fmt.Errorf("video frame payload too short: %d", len(payload))
		}
		env.VideoFrame = &VideoFrame{
			Codec:    payload[0],
			Keyframe: payload[1]&FlagKeyframe != 0,
			Data:     payload[2:],
		}

	case KindScreenInfo:
		if len(payload) < 2 {
			return nil, fmt.Errorf("screen info payload too short: %d", len(payload))
		}
		active := int(payload[0])
		count := int(payload[1])
		const monitorSize = 5
		if len(payload) != 2+count*monitorSize {
			return nil, fmt.Errorf("screen info payload size mismatch: %d monitors, %d bytes", count, len(payload))
		}
		if count > 0 && active >= count {
			return nil, fmt.Errorf("active monitor %d out of range (%d monitors)", active, count)
		}
		monitors := make([]Monitor, count)
		for i := 0; i < count; i++ {
			off := 2 + i*monitorSize
			monitors[i] = Monitor{
				Width:   int(binary.BigEndian.Uint16(payload[off:])),
				Height:  int(binary.BigEndian.Uint16(payload[off+2:])),
				Primary: payload[off+4] != 0,
			}
		}
		env.ScreenInfo = &ScreenInfo{ActiveMonitor: active, Monitors: monitors}

	case KindSessionEnd:
		if len(payload) < 2 {
			return nil, fmt.Errorf("session end payload too short: %d", len(payload))
		}
		n := int(binary.BigEndian.Uint16(payload))
		if len(payload) < 2+n {
			return nil, fmt.Errorf("session end reason truncated: want %d bytes, have %d", n, len(payload)-2)
		}
		env.SessionEnd = &SessionEnd{Reason: string(payload[2 : 2+n])}

	case KindClipboardData:
		if len(payload) < 4 {
			return nil, fmt.Errorf("clipboard payload too short: %d", len(payload))
		}
		n := int(binary.BigEndian.Uint32(payload))
		if len(payload) < 4+n {
			return nil, fmt.Errorf("clipboard text truncated: want %d bytes, have %d", n, len(payload)-4)
		}
		env.ClipboardData = &ClipboardData{Text: string(payload[4 : 4+n])}

	case KindPing, KindPong:
		if len(payload) < 8 {
			return nil, fmt.Errorf("heartbeat payload too short: %d", len(payload))
		}
		hb := &Heartbeat{Timestamp: binary.BigEndian.Uint64(payload)}
		if kind == KindPing {
			env.Ping = hb
		} else {
			env.Pong = hb
		}

	case KindCursorPosition:
		if len(payload) < 5 {
			return nil, fmt.Errorf("cursor position payload too short: %d", len(payload))
		}
		env.CursorPosition = &CursorPosition{
			X:       binary.BigEndian.Uint16(payload),
			Y:       binary.BigEndian.Uint16(payload[2:]),
			Visible: payload[4] != 0,
		}

	case KindAudioFrame:
		env.AudioFrame = &AudioFrame{Data: payload}

	case KindMouseMove:
		if len(payload) < 4 {
			return nil, fmt.Errorf("mouse move payload too short: %d", len(payload))
		}
		env.MouseMove = &MouseMove{
			X: binary.BigEndian.Uint16(payload),
			Y: binary.BigEndian.Uint16(payload[2:]),
		}

	case KindMouseButton:
		if len(payload) < 6 {
			return nil, fmt.Errorf("mouse button payload too short: %d", len(payload))
		}
		env.MouseButton = &MouseButton{
			Button: payload[0],
			Down:   payload[1] != 0,
			X:      binary.BigEndian.Uint16(payload[2:]),
			Y:      binary.BigEndian.Uint16(payload[4:]),
		}

	case KindMouseScroll:
		if len(payload) < 8 {
			return nil, fmt.Errorf("mouse scroll payload too short: %d", len(payload))
		}
		env.MouseScroll = &MouseScroll{
			X:      binary.BigEndian.Uint16(payload),
			Y:      binary.BigEndian.Uint16(payload[2:]),
			DeltaX: int16(binary.BigEndian.Uint16(payload[4:])),
			DeltaY: int16(binary.BigEndian.Uint16(payload[6:])),
		}

	case KindKeyEvent:
		if len(payload) < 6 {
			return nil, fmt.Errorf("key event payload too short: %d", len(payload))
		}
		env.KeyEvent = &KeyEvent{
			Down:      payload[0] != 0,
			Keycode:   binary.BigEndian.Uint32(payload[1:]),
			Modifiers: payload[5],
		}

	case KindQualitySettings:
		if len(payload) < 6 {
			return nil, fmt.Errorf("quality settings payload too short: %d", len(payload))
		}
		env.QualitySettings = &QualitySettings{
			Quality:     payload[0],
			MaxFPS:      payload[1],
			BitrateKbps: binary.BigEndian.Uint32(payload[2:]),
		}

	case KindMonitorSwitch:
		if len(payload) < 1 {
			return nil, fmt.Errorf("monitor switch payload too short")
		}
		env.MonitorSwitch = &MonitorSwitch{Monitor: payload[0]}

	default:
		return nil, fmt.Errorf("unknown message kind 0x%02x", byte(kind))
	}

	return env, nil
}

// EncodeVideoFrame builds a VideoFrame envelope.
func EncodeVideoFrame(codec byte, keyframe bool, data []byte) []byte {
	buf := make([]byte, 3, 3+len(data))
	buf[0] = byte(KindVideoFrame)
	buf[1] = codec
	if keyframe {
		buf[2] = FlagKeyframe
	}
	return append(buf, data...)
}

// EncodeScreenInfo builds a ScreenInfo envelope.
func EncodeScreenInfo(info ScreenInfo) []byte {
	buf := make([]byte, 3+5*len(info.Monitors))
	buf[0] = byte(KindScreenInfo)
	buf[1] = byte(info.ActiveMonitor)
	buf[2] = byte(len(info.Monitors))
	for i, m := range info.Monitors {
		off := 3 + i*5
		binary.BigEndian.PutUint16(buf[off:], uint16(m.Width))
		binary.BigEndian.PutUint16(buf[off+2:], uint16(m.Height))
		if m.Primary {
			buf[off+4] = 1
		}
	}
	return buf
}

// EncodeSessionEnd builds a SessionEnd envelope.
func EncodeSessionEnd(reason string) []byte {
	buf := make([]byte, 3+len(reason))
	buf[0] = byte(KindSessionEnd)
	binary.BigEndian.PutUint16(buf[1:], uint16(len(reason)))
	copy(buf[3:], reason)
	return buf
}

// EncodeClipboardData builds a ClipboardData envelope.
func EncodeClipboardData(text string) []byte {
	buf := make([]byte, 5+len(text))
	buf[0] = byte(KindClipboardData)
	binary.BigEndian.PutUint32(buf[1:], uint32(len(text)))
	copy(buf[5:], text)
	return buf
}

// EncodeCursorPosition builds a CursorPosition envelope.
func EncodeCursorPosition(x, y uint16, visible bool) []byte {
	buf := make([]byte, 6)
	buf[0] = byte(KindCursorPosition)
	binary.BigEndian.PutUint16(buf[1:], x)
	binary.BigEndian.PutUint16(buf[3:], y)
	if visible {
		buf[5] = 1
	}
	return buf
}

// EncodePing builds a Ping envelope carrying the sender's clock in
// milliseconds.
func EncodePing(timestampMs uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(KindPing)
	binary.BigEndian.PutUint64(buf[1:], timestampMs)
	return buf
}

// EncodePong builds a Pong envelope echoing the received timestamp.
func EncodePong(timestampMs uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(KindPong)
	binary.BigEndian.PutUint64(buf[1:], timestampMs)
	return buf
}

// EncodeMouseMove builds a MouseMove envelope.
func EncodeMouseMove(x, y uint16) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(KindMouseMove)
	binary.BigEndian.PutUint16(buf[1:], x)
	binary.BigEndian.PutUint16(buf[3:], y)
	return buf
}

// EncodeMouseButton builds a MouseButton envelope.
func EncodeMouseButton(button byte, down bool, x, y uint16) []byte {
	buf := make([]byte, 7)
	buf[0] = byte(KindMouseButton)
	buf[1] = button
	if down {
		buf[2] = 1
	}
	binary.BigEndian.PutUint16(buf[3:], x)
	binary.BigEndian.PutUint16(buf[5:], y)
	return buf
}

// EncodeMouseScroll builds a MouseScroll envelope.
func EncodeMouseScroll(x, y uint16, deltaX, deltaY int16) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(KindMouseScroll)
	binary.BigEndian.PutUint16(buf[1:], x)
	binary.BigEndian.PutUint16(buf[3:], y)
	binary.BigEndian.PutUint16(buf[5:], uint16(deltaX))
	binary.BigEndian.PutUint16(buf[7:], uint16(deltaY))
	return buf
}

// EncodeKeyEvent builds a KeyEvent envelope.
func EncodeKeyEvent(down bool, keycode uint32, modifiers byte) []byte {
	buf := make([]byte, 7)
	buf[0] = byte(KindKeyEvent)
	if down {
		buf[1] = 1
	}
	binary.BigEndian.PutUint32(buf[2:], keycode)
	buf[6] = modifiers
	return buf
}

// EncodeQualitySettings builds a QualitySettings envelope.
func EncodeQualitySettings(q QualitySettings) []byte {
	buf := make([]byte, 7)
	buf[0] = byte(KindQualitySettings)
	buf[1] = q.Quality
	buf[2] = q.MaxFPS
	binary.BigEndian.PutUint32(buf[3:], q.BitrateKbps)
	return buf
}

// EncodeMonitorSwitch builds a MonitorSwitch envelope.
func EncodeMonitorSwitch(monitor byte) []byte {
	return []byte{byte(KindMonitorSwitch), monitor}
}
