// Package sim drives the fixed-timestep simulation loop. One goroutine owns
// the cadence; everything the step callback mutates belongs to that
// goroutine for the duration of the call.
package sim

import (
	"time"
)

// Config tunes the tick loop.
type Config struct {
	// TickRate is the number of cycles per second.
	TickRate int
	// CatchupMaxTicks caps how much wall-clock delta a single step may
	// absorb after a stall.
	CatchupMaxTicks int
}

// DefaultConfig runs at the classic 20 cycles per second.
func DefaultConfig() Config {
	return Config{TickRate: 20, CatchupMaxTicks: 4}
}

// TickContext describes one cycle handed to the step callback.
type TickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// Loop invokes a step callback at a fixed rate until stopped.
type Loop struct {
	cfg  Config
	step func(TickContext)
	now  func() time.Time
}

// NewLoop builds a loop around the step callback. A nil now falls back to
// time.Now.
func NewLoop(cfg Config, step func(TickContext), now func() time.Time) *Loop {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 20
	}
	if now == nil {
		now = time.Now
	}
	return &Loop{cfg: cfg, step: step, now: now}
}

// Run drives the fixed-timestep loop until the stop channel closes.
func (l *Loop) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(l.cfg.TickRate))
	defer ticker.Stop()

	budget := 1.0 / float64(l.cfg.TickRate)
	maxDelta := budget
	if l.cfg.CatchupMaxTicks > 1 {
		maxDelta = budget * float64(l.cfg.CatchupMaxTicks)
	}

	last := l.now()
	var tick uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := l.now()
			delta := now.Sub(last).Seconds()
			if delta <= 0 {
				delta = budget
			} else if delta > maxDelta {
				delta = maxDelta
			}
			last = now
			tick++
			l.step(TickContext{Tick: tick, Now: now, Delta: delta})
		}
	}
}
