// Package feedback notifies the user out-of-band about stream lifecycle:
// begin, per-delta tick, success, failure. The terminal analogue of the
// original client's haptic cues.
package feedback

import (
	"io"

	"golang.org/x/time/rate"
)

// Observer receives stream lifecycle notifications.
type Observer interface {
	StreamBegan()
	StreamTick()
	StreamSucceeded()
	StreamFailed()
}

// Nop is an Observer that does nothing.
type Nop struct{}

func (Nop) StreamBegan()     {}
func (Nop) StreamTick()      {}
func (Nop) StreamSucceeded() {}
func (Nop) StreamFailed()    {}

// Bell writes the terminal bell on failure and throttled ticks while
// streaming. Deltas arrive far faster than a bell is useful, so ticks are
// rate limited; begin and terminal cues always pass.
type Bell struct {
	w     io.Writer
	ticks *rate.Limiter
}

// DefaultTickRate is how often a streaming tick may ring at most.
const DefaultTickRate = rate.Limit(2)

// NewBell creates a bell observer writing to w.
func NewBell(w io.Writer) *Bell {
	return &Bell{
		w:     w,
		ticks: rate.NewLimiter(DefaultTickRate, 1),
	}
}

func (b *Bell) StreamBegan() {}

func (b *Bell) StreamTick() {
	if b.ticks.Allow() {
		b.ring()
	}
}

func (b *Bell) StreamSucceeded() {}

func (b *Bell) StreamFailed() {
	b.ring()
}

func (b *Bell) ring() {
	_, _ = io.WriteString(b.w, "\a")
}

// Multi fans one notification out to several observers.
type Multi []Observer

func (m Multi) StreamBegan() {
	for _, o := range m {
		o.StreamBegan()
	}
}

func (m Multi) StreamTick() {
	for _, o := range m {
		o.StreamTick()
	}
}

func (m Multi) StreamSucceeded() {
	for _, o := range m {
		o.StreamSucceeded()
	}
}

func (m Multi) StreamFailed() {
	for _, o := range m {
		o.StreamFailed()
	}
}
