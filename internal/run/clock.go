package run

import "time"

// Clock owns elapsed-time accounting for the run. Lifecycle transitions that
// arrive in an invalid phase are silent no-ops because collaborators call
// defensively.
type Clock struct {
	state *State
	now   func() time.Time
}

// NewClock binds a clock to the given state. A nil now falls back to
// time.Now.
func NewClock(state *State, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{state: state, now: now}
}

// Start begins the run. Valid only from NotStarted; it never restarts a run
// already underway.
func (c *Clock) Start() bool {
	s := c.state
	if s.Phase != PhaseNotStarted {
		return false
	}
	now := c.now()
	s.Phase = PhaseRunning
	s.StartedAt = now.UnixMilli()
	s.FrozenElapsed = 0
	s.LastEventAt = now.UnixMilli()
	return true
}

// Pause freezes the elapsed counter. Valid only from Running.
func (c *Clock) Pause() bool {
	s := c.state
	if s.Phase != PhaseRunning {
		return false
	}
	now := c.now()
	s.FrozenElapsed = clampElapsed(now.UnixMilli() - s.StartedAt)
	s.Phase = PhasePaused
	s.LastEventAt = now.UnixMilli()
	return true
}

// Resume re-bases StartedAt so that elapsed math stays a plain subtraction:
// StartedAt = now - FrozenElapsed. Valid only from Paused.
func (c *Clock) Resume() bool {
	s := c.state
	if s.Phase != PhasePaused {
		return false
	}
	now := c.now()
	s.StartedAt = now.UnixMilli() - s.FrozenElapsed.Milliseconds()
	s.FrozenElapsed = 0
	s.Phase = PhaseRunning
	s.LastEventAt = now.UnixMilli()
	return true
}

// Finish freezes the run in a terminal phase. A second call while already
// terminal is a silent no-op so independent detectors may race to report the
// same outcome. Outcomes other than Victorious or Failed are rejected.
func (c *Clock) Finish(outcome Phase) bool {
	if !outcome.Terminal() {
		return false
	}
	s := c.state
	if s.Phase != PhaseRunning {
		return false
	}
	now := c.now()
	s.FrozenElapsed = clampElapsed(now.UnixMilli() - s.StartedAt)
	s.Phase = outcome
	s.LastEventAt = now.UnixMilli()
	return true
}

// Elapsed returns the active run time. Frozen phases report the snapshot
// captured at the freeze; Running derives from wall clock. Never negative.
func (c *Clock) Elapsed() time.Duration {
	s := c.state
	switch s.Phase {
	case PhaseNotStarted:
		return 0
	case PhasePaused, PhaseVictorious, PhaseFailed:
		return s.FrozenElapsed
	default:
		return clampElapsed(c.now().UnixMilli() - s.StartedAt)
	}
}

// ElapsedTicks reports Elapsed in cycle units.
func (c *Clock) ElapsedTicks() int64 {
	return DurationToTicks(c.Elapsed())
}

// Rebase recomputes StartedAt after a process restart so that downtime is not
// counted as active run time. The persisted elapsed value anchors the new
// subtraction base. Only meaningful while Running.
func (c *Clock) Rebase(persistedElapsed time.Duration) {
	s := c.state
	if s.Phase != PhaseRunning {
		return
	}
	if persistedElapsed < 0 {
		persistedElapsed = 0
	}
	s.StartedAt = c.now().UnixMilli() - persistedElapsed.Milliseconds()
}

func clampElapsed(millis int64) time.Duration {
	if millis < 0 {
		return 0
	}
	return time.Duration(millis) * time.Millisecond
}
