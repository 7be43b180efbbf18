// Package countdown tracks the seconds remaining until a target timestamp.
//
// The countdown ticks down once per second while it is not paused. Tick
// drift is corrected whenever it becomes visible again: the remaining time
// is recomputed from the clock instead of trusting the accumulated ticks.
package countdown

import (
	"context"
	"sync"
	"time"
)

// Countdown is safe for concurrent use. Run drives it; the other methods may
// be called from any goroutine.
type Countdown struct {
	mu        sync.Mutex
	target    int64
	remaining int64
	paused    bool

	now     func() time.Time
	ticks   <-chan time.Time
	updates chan int64
}

// Option configures a Countdown.
type Option func(*Countdown)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Countdown) { c.now = now }
}

// WithTicks replaces the one-second ticker used by Run.
func WithTicks(ticks <-chan time.Time) Option {
	return func(c *Countdown) { c.ticks = ticks }
}

// New creates a countdown to target (unix seconds).
func New(target int64, opts ...Option) *Countdown {
	c := &Countdown{
		now:     time.Now,
		updates: make(chan int64, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.target = target
	c.remaining = target - c.now().Unix()
	return c
}

// SecondsRemaining returns the current remaining seconds. It may be negative
// when the target was already in the past at the last resync.
func (c *Countdown) SecondsRemaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Paused reports whether the countdown is paused.
func (c *Countdown) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause stops the countdown from ticking.
func (c *Countdown) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// SetTarget points the countdown at a new timestamp and resyncs.
func (c *Countdown) SetTarget(target int64) {
	c.mu.Lock()
	c.target = target
	c.remaining = target - c.now().Unix()
	r := c.remaining
	c.mu.Unlock()
	c.publish(r)
}

// Updates delivers the remaining seconds after every change. Values are
// dropped when the receiver falls behind.
func (c *Countdown) Updates() <-chan int64 {
	return c.updates
}

// Run ticks the countdown until ctx is done. visibility may be nil; a true
// value resyncs and unpauses, false pauses.
func (c *Countdown) Run(ctx context.Context, visibility <-chan bool) error {
	ticks := c.ticks
	if ticks == nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticks:
			c.mu.Lock()
			changed := !c.paused && c.remaining > 0
			if changed {
				c.remaining--
			}
			r := c.remaining
			c.mu.Unlock()
			if changed {
				c.publish(r)
			}

		case visible, ok := <-visibility:
			if !ok {
				visibility = nil
				continue
			}
			c.mu.Lock()
			if visible {
				c.remaining = c.target - c.now().Unix()
				c.paused = false
			} else {
				c.paused = true
			}
			r := c.remaining
			c.mu.Unlock()
			c.publish(r)
		}
	}
}

func (c *Countdown) publish(remaining int64) {
	select {
	case c.updates <- remaining:
	default:
	}
}
