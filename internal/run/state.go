package run

import (
	"time"
)

// Phase identifies where a run sits in its lifecycle.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseRunning    Phase = "running"
	PhasePaused     Phase = "paused"
	PhaseVictorious Phase = "victorious"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase freezes the run for good.
func (p Phase) Terminal() bool {
	return p == PhaseVictorious || p == PhaseFailed
}

const (
	// TickDuration is the real-time length of one simulation cycle.
	TickDuration = 50 * time.Millisecond
	// TicksPerSecond derives from TickDuration and is used for formatting.
	TicksPerSecond = int64(time.Second / TickDuration)
)

// DurationToTicks converts an elapsed duration into whole cycle units.
func DurationToTicks(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / TickDuration)
}

// TicksToDuration converts cycle units back into a real-time duration.
func TicksToDuration(ticks int64) time.Duration {
	if ticks <= 0 {
		return 0
	}
	return time.Duration(ticks) * TickDuration
}

const defaultMaxVitality = 20.0

// State is the single authoritative record of the current run. It is owned by
// the engine and mutated only through the clock and tracker entry points.
type State struct {
	RunID         string
	Phase         Phase
	StartedAt     int64 // unix millis, -1 while NotStarted
	FrozenElapsed time.Duration
	Milestones    map[string]int64 // milestone id -> elapsed ticks at completion
	LastEventAt   int64            // unix millis of the latest milestone or transition

	SharedHealthEnabled bool
	GroupFailureEnabled bool
	Excluded            map[string]struct{}
	MaxVitality         float64

	VictoryTicksLeft int64
	FailureCause     string
}

// NewState returns a run in its pre-start configuration.
func NewState() *State {
	return &State{
		Phase:               PhaseNotStarted,
		StartedAt:           -1,
		Milestones:          make(map[string]int64),
		GroupFailureEnabled: true,
		Excluded:            make(map[string]struct{}),
		MaxVitality:         defaultMaxVitality,
	}
}

// Reset clears run-specific data while keeping the rule toggles, the
// exclusion list, and the vitality cap.
func (s *State) Reset() {
	s.RunID = ""
	s.Phase = PhaseNotStarted
	s.StartedAt = -1
	s.FrozenElapsed = 0
	s.Milestones = make(map[string]int64)
	s.LastEventAt = -1
	s.VictoryTicksLeft = 0
	s.FailureCause = ""
}

// IsExcluded reports whether the participant opted out of group mechanics.
func (s *State) IsExcluded(participantID string) bool {
	_, ok := s.Excluded[participantID]
	return ok
}

// SetExcluded adds or removes a participant from the exclusion set.
func (s *State) SetExcluded(participantID string, excluded bool) {
	if participantID == "" {
		return
	}
	if excluded {
		s.Excluded[participantID] = struct{}{}
		return
	}
	delete(s.Excluded, participantID)
}

// RosterEntry is the point-in-time view of one connected participant that the
// engine consumes each cycle. The roster provider rebuilds it every tick.
type RosterEntry struct {
	ID         string
	Name       string
	Vitality   float64
	Alive      bool
	Spectating bool
	Region     string
	X          float64
	Z          float64
	// Stirred is set when the participant moved or acted since the last
	// cycle; it drives the auto-start detector.
	Stirred bool
	// Order is the connection insertion index and provides the stable
	// tie-break for award assignment.
	Order int
}

// EligibleForGroup reports whether the entry participates in shared health
// and group failure.
func (e RosterEntry) EligibleForGroup(s *State) bool {
	return e.Alive && !e.Spectating && !s.IsExcluded(e.ID)
}

// WorldQuery answers position questions the split tracker cannot answer from
// the roster alone. The engine consumes it, the hub implements it.
type WorldQuery interface {
	// RegionOf returns the region id the participant currently occupies.
	RegionOf(participantID string) string
	// InsideStructure reports whether the participant stands inside the
	// bounds of the named structure.
	InsideStructure(participantID, structure string) bool
}

// MilestoneTime pairs a milestone with its recorded completion tick.
type MilestoneTime struct {
	ID    string `json:"id"`
	Ticks int64  `json:"ticks"`
	Done  bool   `json:"done"`
}

// Snapshot is the serializable copy of the run state handed to the broadcast
// and persistence layers. It never aliases live engine memory.
type Snapshot struct {
	RunID               string          `json:"runId,omitempty"`
	Phase               Phase           `json:"phase"`
	StartedAt           int64           `json:"startedAt"`
	ElapsedMillis       int64           `json:"elapsedMillis"`
	ElapsedTicks        int64           `json:"elapsedTicks"`
	ElapsedFormatted    string          `json:"elapsedFormatted"`
	Milestones          []MilestoneTime `json:"milestones"`
	LastEventAt         int64           `json:"lastEventAt"`
	SharedHealthEnabled bool            `json:"sharedHealthEnabled"`
	GroupFailureEnabled bool            `json:"groupFailureEnabled"`
	Excluded            []string        `json:"excluded,omitempty"`
	MaxVitality         float64         `json:"maxVitality"`
	VictoryTicksLeft    int64           `json:"victoryTicksLeft,omitempty"`
	FailureCause        string          `json:"failureCause,omitempty"`
}
