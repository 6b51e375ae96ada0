package run

// SplitEffect is invoked synchronously after a milestone is recorded so the
// engine can broadcast, persist, and log in order.
type SplitEffect func(milestone Milestone, ticks int64)

// SplitTracker detects milestone completions and records each exactly once.
// It is the single writer for State.Milestones.
type SplitTracker struct {
	state    *State
	clock    *Clock
	catalog  *Catalog
	onSplit  SplitEffect
	onFinish func()
}

// NewSplitTracker wires the tracker to the run state and its side effects.
// onSplit runs after every recorded milestone; onFinish runs after the final
// milestone freezes the clock.
func NewSplitTracker(state *State, clock *Clock, catalog *Catalog, onSplit SplitEffect, onFinish func()) *SplitTracker {
	return &SplitTracker{
		state:    state,
		clock:    clock,
		catalog:  catalog,
		onSplit:  onSplit,
		onFinish: onFinish,
	}
}

// CheckAll evaluates every pending milestone predicate against the roster in
// catalog order. Milestones whose predicates become true in the same scan are
// all recorded with the same elapsed value.
func (t *SplitTracker) CheckAll(roster []RosterEntry, world WorldQuery) {
	if t.state.Phase != PhaseRunning || len(roster) == 0 || world == nil {
		return
	}
	for i, milestone := range t.catalog.entries {
		if _, done := t.state.Milestones[milestone.ID]; done {
			continue
		}
		predicate := t.catalog.predicates[i]
		if predicate == nil {
			continue
		}
		for _, entry := range roster {
			if !entry.Alive || entry.Spectating {
				continue
			}
			if predicate(entry, world) {
				t.Complete(milestone.ID)
				break
			}
		}
	}
}

// Complete records the milestone if it has not been recorded yet. Predicates
// stay true for many consecutive ticks and external signals may repeat, so
// idempotence is mandatory: a second call for the same id changes nothing and
// reports false. Completing the final milestone finishes the run victorious
// before the side effects fire.
func (t *SplitTracker) Complete(milestoneID string) (int64, bool) {
	milestone, known := t.catalog.Lookup(milestoneID)
	if !known {
		return 0, false
	}
	s := t.state
	if s.Phase != PhaseRunning {
		return 0, false
	}
	if ticks, done := s.Milestones[milestoneID]; done {
		return ticks, false
	}
	ticks := t.clock.ElapsedTicks()
	s.Milestones[milestoneID] = ticks
	s.LastEventAt = t.clock.now().UnixMilli()

	if milestone.Final {
		t.clock.Finish(PhaseVictorious)
		if t.onFinish != nil {
			t.onFinish()
		}
	}
	if t.onSplit != nil {
		t.onSplit(milestone, ticks)
	}
	return ticks, true
}
