// Package session manages the server connection: lifecycle and reconnects,
// heartbeat latency, adaptive stream quality and input relaying.
package session

import (
	"sync"

	"github.com/screencontrol/sc-console/internal/console/protocol"
)

// Tier is a stream quality preset.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierUltra
)

func (t Tier) String() string {
	switch t {
	case TierUltra:
		return "ultra"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	}
	return "low"
}

// Settings returns the encoder parameters requested for a tier.
func (t Tier) Settings() protocol.QualitySettings {
	switch t {
	case TierUltra:
		return protocol.QualitySettings{Quality: 95, MaxFPS: 30, BitrateKbps: 8000}
	case TierHigh:
		return protocol.QualitySettings{Quality: 75, MaxFPS: 30, BitrateKbps: 5000}
	case TierMedium:
		return protocol.QualitySettings{Quality: 50, MaxFPS: 24, BitrateKbps: 3000}
	}
	return protocol.QualitySettings{Quality: 25, MaxFPS: 15, BitrateKbps: 1500}
}

// TierForRTT maps a round-trip time in milliseconds onto a tier.
func TierForRTT(rttMs int64) Tier {
	switch {
	case rttMs < 50:
		return TierUltra
	case rttMs < 100:
		return TierHigh
	case rttMs < 200:
		return TierMedium
	}
	return TierLow
}

// QualityController picks the stream quality from observed latency and sends
// a QualitySettings request only when the chosen tier actually changes. A
// manual preset switches adaptation off until auto mode is re-enabled.
type QualityController struct {
	mu       sync.Mutex
	auto     bool
	current  Tier
	lastSent Tier
	sentOnce bool

	send         func(protocol.QualitySettings)
	onTierChange func(Tier)
}

// NewQualityController creates a controller in auto mode. send delivers
// quality requests to the server; onTierChange may be nil.
func NewQualityController(send func(protocol.QualitySettings), onTierChange func(Tier)) *QualityController {
	return &QualityController{
		auto:         true,
		current:      TierHigh,
		send:         send,
		onTierChange: onTierChange,
	}
}

// ObserveRTT feeds one latency sample. In auto mode a tier change is pushed
// to the server; repeated samples in the same tier send nothing.
func (c *QualityController) ObserveRTT(rttMs int64) {
	c.mu.Lock()
	if !c.auto {
		c.mu.Unlock()
		return
	}
	tier := TierForRTT(rttMs)
	c.applyLocked(tier)
}

// SetManual switches to a fixed tier and disables adaptation. The preset is
// sent immediately, even when it matches the last sent tier.
func (c *QualityController) SetManual(tier Tier) {
	c.mu.Lock()
	c.auto = false
	c.current = tier
	c.lastSent = tier
	c.sentOnce = true
	send := c.send
	notify := c.onTierChange
	c.mu.Unlock()

	send(tier.Settings())
	if notify != nil {
		notify(tier)
	}
}

// SetAuto switches adaptation on or off. Re-enabling takes effect on the
// next latency sample.
func (c *QualityController) SetAuto(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auto = enabled
}

// Auto reports whether adaptation is active.
func (c *QualityController) Auto() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auto
}

// Tier returns the current tier.
func (c *QualityController) Tier() Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// applyLocked releases the mutex before invoking callbacks.
func (c *QualityController) applyLocked(tier Tier) {
	c.current = tier
	if c.sentOnce && tier == c.lastSent {
		c.mu.Unlock()
		return
	}
	c.lastSent = tier
	c.sentOnce = true
	send := c.send
	notify := c.onTierChange
	c.mu.Unlock()

	send(tier.Settings())
	if notify != nil {
		notify(tier)
	}
}
