package run

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"group-speedrun/server/internal/stats"
	"group-speedrun/server/internal/telemetry"
	"group-speedrun/server/logging"
)

// Broadcaster fans a run snapshot out to every observer.
type Broadcaster interface {
	BroadcastState(Snapshot)
}

// Store accepts dirty snapshots for asynchronous durable writes.
type Store interface {
	MarkDirty(PersistedRun)
}

// Historian archives finished runs.
type Historian interface {
	RecordRun(RunRecord) error
}

// RosterOps lets the engine push vitality and spectator changes back to the
// live roster without owning connection lifecycle.
type RosterOps interface {
	SetVitality(participantID string, vitality float64)
	MakeSpectator(participantID string)
	ApplyMaxVitality(participantID string, max float64)
}

// PersistedRun is the durable unit: the run snapshot plus the accumulated
// stat records, so a restart mid-run loses neither.
type PersistedRun struct {
	Run   Snapshot                      `json:"run"`
	Stats map[string]map[string]float64 `json:"stats,omitempty"`
}

// RunRecord is the immutable summary written to the history archive at the
// terminal transition.
type RunRecord struct {
	ID           string
	Status       Phase
	ElapsedTicks int64
	FinalTime    string
	FailureCause string
	FinishedAt   time.Time
	Awards       []Award
	Milestones   []MilestoneTime
}

// EngineConfig tunes the per-tick scheduling of the engine.
type EngineConfig struct {
	// SplitCheckInterval is the number of ticks between milestone scans.
	SplitCheckInterval uint64
	// SyncInterval is the number of ticks between periodic broadcast and
	// persistence triggers.
	SyncInterval uint64
	// VictoryCelebrationTicks is the post-victory countdown surfaced in
	// snapshots.
	VictoryCelebrationTicks int64
	// AutoStart begins the run on the first observed participant action.
	AutoStart bool
}

// DefaultEngineConfig matches the classic cadence: scan twice a second,
// sync every five seconds, celebrate for ten.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SplitCheckInterval:      10,
		SyncInterval:            100,
		VictoryCelebrationTicks: 200,
		AutoStart:               true,
	}
}

// Deps carries the engine's collaborators.
type Deps struct {
	Logger      telemetry.Logger
	Publisher   logging.Publisher
	Store       Store
	Broadcaster Broadcaster
	History     Historian
	Stats       *stats.Recorder
	Now         func() time.Time
}

// Engine owns the authoritative run state and drives the four core
// components once per simulation cycle. All state mutation happens under one
// mutex: the tick goroutine and the admin surface never race.
type Engine struct {
	mu      sync.Mutex
	cfg     EngineConfig
	deps    Deps
	state   *State
	clock   *Clock
	splits  *SplitTracker
	health  *HealthSync
	catalog *Catalog

	tick       uint64
	dirty      bool
	lastRoster []RosterEntry
	lastOps    RosterOps
}

// NewEngine builds an engine around a fresh run state.
func NewEngine(cfg EngineConfig, catalog *Catalog, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = telemetry.NopLogger()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewRecorder()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if cfg.SplitCheckInterval == 0 {
		cfg.SplitCheckInterval = 10
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = 100
	}

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		state:   NewState(),
		health:  NewHealthSync(),
		catalog: catalog,
	}
	e.clock = NewClock(e.state, deps.Now)
	e.splits = NewSplitTracker(e.state, e.clock, catalog, e.onSplitLocked, e.onVictoryLocked)
	return e
}

// Load replaces the engine's state with a persisted snapshot. A snapshot
// persisted while Running is re-based against the restart instant so that
// downtime never counts as active run time.
func (e *Engine) Load(p PersistedRun) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := p.Run
	switch snap.Phase {
	case PhaseNotStarted, PhaseRunning, PhasePaused, PhaseVictorious, PhaseFailed:
	default:
		e.deps.Logger.Printf("ignoring persisted run with unknown phase %q", snap.Phase)
		return
	}

	s := e.state
	s.RunID = snap.RunID
	s.Phase = snap.Phase
	s.StartedAt = snap.StartedAt
	s.FrozenElapsed = time.Duration(snap.ElapsedMillis) * time.Millisecond
	s.Milestones = make(map[string]int64, len(snap.Milestones))
	for _, m := range snap.Milestones {
		if m.Done {
			s.Milestones[m.ID] = m.Ticks
		}
	}
	s.LastEventAt = snap.LastEventAt
	s.SharedHealthEnabled = snap.SharedHealthEnabled
	s.GroupFailureEnabled = snap.GroupFailureEnabled
	s.Excluded = make(map[string]struct{}, len(snap.Excluded))
	for _, id := range snap.Excluded {
		s.Excluded[id] = struct{}{}
	}
	if snap.MaxVitality > 0 {
		s.MaxVitality = snap.MaxVitality
	}
	s.VictoryTicksLeft = snap.VictoryTicksLeft
	s.FailureCause = snap.FailureCause

	if s.Phase == PhaseRunning {
		e.clock.Rebase(s.FrozenElapsed)
		s.FrozenElapsed = 0
	}
	if len(p.Stats) > 0 {
		e.deps.Stats.Restore(p.Stats)
	}
	e.deps.Logger.Printf("restored run %s phase=%s elapsed=%s", s.RunID, s.Phase, FormatTicks(e.clock.ElapsedTicks()))
}

// Advance runs one simulation cycle. A nil roster means the provider had
// nothing to report and the whole cycle is skipped, leaving no partial
// mutation behind.
func (e *Engine) Advance(tick uint64, roster []RosterEntry, world WorldQuery, ops RosterOps) {
	if roster == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick = tick
	e.lastRoster = append(e.lastRoster[:0], roster...)
	e.lastOps = ops

	s := e.state
	if e.cfg.AutoStart && s.Phase == PhaseNotStarted {
		for _, entry := range roster {
			if entry.Stirred {
				e.startLocked()
				break
			}
		}
	}

	if s.Phase == PhaseVictorious && s.VictoryTicksLeft > 0 {
		s.VictoryTicksLeft--
	}

	if s.SharedHealthEnabled && s.Phase == PhaseRunning {
		apply := func(id string, vitality float64) {
			if ops != nil {
				ops.SetVitality(id, vitality)
			}
		}
		events := e.health.Sync(s, roster, apply)
		for _, event := range events {
			e.publishLocked(logging.Event{
				Type:     logging.EventSharedDamage,
				Actor:    logging.EntityRef{ID: event.ParticipantID, Kind: logging.EntityKindParticipant},
				Category: logging.CategoryVitality,
				Severity: logging.SeverityInfo,
				Payload:  map[string]any{"from": event.From, "to": event.To},
			})
		}
		if len(events) > 0 {
			e.dirty = true
		}
	}

	if s.Phase == PhaseRunning && tick%e.cfg.SplitCheckInterval == 0 {
		e.splits.CheckAll(roster, world)
	}

	if tick%e.cfg.SyncInterval == 0 {
		e.syncLocked()
	}
}

// Start begins the run. Safe to call from the admin surface at any time;
// invalid phases are silent no-ops.
func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked()
}

func (e *Engine) startLocked() bool {
	if !e.clock.Start() {
		return false
	}
	e.state.RunID = uuid.NewString()
	e.publishLocked(logging.Event{
		Type:     logging.EventRunStarted,
		Actor:    logging.EntityRef{ID: e.state.RunID, Kind: logging.EntityKindRun},
		Category: logging.CategoryLifecycle,
		Severity: logging.SeverityInfo,
	})
	e.deps.Logger.Printf("run %s started", e.state.RunID)
	e.dirty = true
	e.syncLocked()
	return true
}

// Pause freezes the clock.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.clock.Pause() {
		return false
	}
	e.publishLocked(lifecycleEvent(logging.EventRunPaused, e.state.RunID))
	e.dirty = true
	e.syncLocked()
	return true
}

// Resume restarts the clock from the frozen elapsed value.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.clock.Resume() {
		return false
	}
	e.publishLocked(lifecycleEvent(logging.EventRunResumed, e.state.RunID))
	e.dirty = true
	e.syncLocked()
	return true
}

// Reset recreates a fresh run, preserving rule toggles, the exclusion list,
// and the vitality cap. Stat records clear at the same boundary.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	previous := e.state.RunID
	e.state.Reset()
	e.health.Reset()
	e.deps.Stats.Reset()
	e.publishLocked(lifecycleEvent(logging.EventRunReset, previous))
	e.deps.Logger.Printf("run reset")
	e.dirty = true
	e.syncLocked()
}

// CompleteMilestone records an externally signalled milestone completion. It
// funnels through the same idempotent path as the predicate scan.
func (e *Engine) CompleteMilestone(milestoneID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, recorded := e.splits.Complete(milestoneID)
	return recorded
}

// HandleBossDeath completes the final milestone, winning the run.
func (e *Engine) HandleBossDeath() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, recorded := e.splits.Complete(e.catalog.Final().ID)
	return recorded
}

// HandleDeath applies the group-failure rule when a participant dies.
// Excluded participants never end the run. Racing detectors are harmless:
// the clock's terminal transition is idempotent and only the first caller
// finalizes.
func (e *Engine) HandleDeath(participantID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	if !s.GroupFailureEnabled || s.IsExcluded(participantID) {
		return false
	}
	if !e.clock.Finish(PhaseFailed) {
		return false
	}
	s.FailureCause = participantID
	if e.lastOps != nil {
		for _, entry := range e.lastRoster {
			if entry.ID == participantID || !entry.Alive {
				continue
			}
			e.lastOps.MakeSpectator(entry.ID)
		}
	}
	e.publishLocked(logging.Event{
		Type:     logging.EventRunFailed,
		Actor:    logging.EntityRef{ID: participantID, Kind: logging.EntityKindParticipant},
		Category: logging.CategoryLifecycle,
		Severity: logging.SeverityWarn,
	})
	e.deps.Logger.Printf("run %s failed: %s died", s.RunID, participantID)
	e.finalizeLocked(PhaseFailed)
	return true
}

// Finish forces a terminal outcome from the admin surface. It follows the
// same idempotent clock transition as the gameplay detectors.
func (e *Engine) Finish(outcome Phase) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.clock.Finish(outcome) {
		return false
	}
	eventType := logging.EventRunVictorious
	severity := logging.SeverityInfo
	if outcome == PhaseFailed {
		eventType = logging.EventRunFailed
		severity = logging.SeverityWarn
	}
	event := lifecycleEvent(eventType, e.state.RunID)
	event.Severity = severity
	e.publishLocked(event)
	e.deps.Logger.Printf("run %s finished %s by admin at %s", e.state.RunID, outcome, FormatTicks(e.clock.ElapsedTicks()))
	e.finalizeLocked(outcome)
	return true
}

// SetSharedHealth toggles the shared-health rule. Turning it off invalidates
// the remembered group value so a later re-enable re-seeds cleanly.
func (e *Engine) SetSharedHealth(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.SharedHealthEnabled = enabled
	if !enabled {
		e.health.Reset()
	}
	e.dirty = true
	e.syncLocked()
}

// SetGroupFailure toggles the group-failure rule. Ignored once the run is
// already decided.
func (e *Engine) SetGroupFailure(enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Phase.Terminal() {
		return false
	}
	e.state.GroupFailureEnabled = enabled
	e.dirty = true
	e.syncLocked()
	return true
}

// SetExcluded opts a participant in or out of group mechanics.
func (e *Engine) SetExcluded(participantID string, excluded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.SetExcluded(participantID, excluded)
	e.dirty = true
	e.syncLocked()
}

// SetMaxVitality updates the baseline vitality cap and applies it to every
// non-excluded participant on the current roster.
func (e *Engine) SetMaxVitality(max float64) {
	if max <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.MaxVitality = max
	if e.lastOps != nil {
		for _, entry := range e.lastRoster {
			if e.state.IsExcluded(entry.ID) {
				continue
			}
			e.lastOps.ApplyMaxVitality(entry.ID, max)
		}
	}
	e.dirty = true
	e.syncLocked()
}

// Phase reports the current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Phase
}

// Elapsed reports the active run time.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Elapsed()
}

// SnapshotState returns a serializable copy of the run state.
func (e *Engine) SnapshotState() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// ShutdownSnapshot captures the durable unit for a graceful shutdown. The
// elapsed value is frozen into the snapshot the same way a pause would,
// without flipping the phase: a restart must distinguish a shutdown from a
// user-initiated pause.
func (e *Engine) ShutdownSnapshot() PersistedRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PersistedRun{Run: e.snapshotLocked(), Stats: e.deps.Stats.Snapshot()}
}

// onSplitLocked is the SplitTracker side effect: log, broadcast, persist,
// synchronously and in that order.
func (e *Engine) onSplitLocked(milestone Milestone, ticks int64) {
	e.publishLocked(logging.Event{
		Type:     logging.EventMilestoneCompleted,
		Actor:    logging.EntityRef{ID: milestone.ID, Kind: logging.EntityKindMilestone},
		Category: logging.CategoryMilestone,
		Severity: logging.SeverityInfo,
		Payload:  map[string]any{"ticks": ticks, "formatted": FormatTicks(ticks)},
	})
	e.deps.Logger.Printf("split: %s at %s", milestone.ID, FormatTicks(ticks))
	e.dirty = true
	e.syncLocked()
}

func (e *Engine) onVictoryLocked() {
	e.publishLocked(lifecycleEvent(logging.EventRunVictorious, e.state.RunID))
	e.deps.Logger.Printf("run %s won at %s", e.state.RunID, FormatTicks(e.clock.ElapsedTicks()))
	e.finalizeLocked(PhaseVictorious)
}

// finalizeLocked runs once per terminal transition: award computation over a
// point-in-time stats snapshot, the history record, and a final sync.
func (e *Engine) finalizeLocked(outcome Phase) {
	s := e.state
	if outcome == PhaseVictorious {
		s.VictoryTicksLeft = e.cfg.VictoryCelebrationTicks
	}

	awards := ComputeAwards(AwardInput{
		Roster:       e.lastRoster,
		Stats:        e.deps.Stats.Snapshot(),
		Outcome:      outcome,
		FailureCause: s.FailureCause,
	})
	for _, award := range awards {
		e.publishLocked(logging.Event{
			Type:     logging.EventAwardGranted,
			Actor:    logging.EntityRef{ID: award.ParticipantID, Kind: logging.EntityKindParticipant},
			Category: logging.CategoryAward,
			Severity: logging.SeverityInfo,
			Payload:  map[string]any{"award": award.Name, "value": award.Value},
		})
	}

	if e.deps.History != nil {
		record := RunRecord{
			ID:           s.RunID,
			Status:       outcome,
			ElapsedTicks: e.clock.ElapsedTicks(),
			FinalTime:    FormatTicks(e.clock.ElapsedTicks()),
			FailureCause: s.FailureCause,
			FinishedAt:   e.deps.Now(),
			Awards:       awards,
			Milestones:   e.milestoneTimesLocked(),
		}
		if err := e.deps.History.RecordRun(record); err != nil {
			e.deps.Logger.Printf("failed to archive run %s: %v", s.RunID, err)
		}
	}

	e.dirty = true
	e.syncLocked()
}

// syncLocked copies the current state and hands it to the broadcaster and,
// when dirty, the persistence store. Both consume the copy, never live
// engine memory.
func (e *Engine) syncLocked() {
	snapshot := e.snapshotLocked()
	if e.deps.Broadcaster != nil {
		e.deps.Broadcaster.BroadcastState(snapshot)
	}
	if e.dirty && e.deps.Store != nil {
		e.deps.Store.MarkDirty(PersistedRun{Run: snapshot, Stats: e.deps.Stats.Snapshot()})
		e.dirty = false
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	s := e.state
	elapsed := e.clock.Elapsed()
	snap := Snapshot{
		RunID:               s.RunID,
		Phase:               s.Phase,
		StartedAt:           s.StartedAt,
		ElapsedMillis:       elapsed.Milliseconds(),
		ElapsedTicks:        DurationToTicks(elapsed),
		ElapsedFormatted:    FormatTicks(DurationToTicks(elapsed)),
		Milestones:          e.milestoneTimesLocked(),
		LastEventAt:         s.LastEventAt,
		SharedHealthEnabled: s.SharedHealthEnabled,
		GroupFailureEnabled: s.GroupFailureEnabled,
		MaxVitality:         s.MaxVitality,
		VictoryTicksLeft:    s.VictoryTicksLeft,
		FailureCause:        s.FailureCause,
	}
	if len(s.Excluded) > 0 {
		snap.Excluded = make([]string, 0, len(s.Excluded))
		for id := range s.Excluded {
			snap.Excluded = append(snap.Excluded, id)
		}
		sort.Strings(snap.Excluded)
	}
	return snap
}

func (e *Engine) milestoneTimesLocked() []MilestoneTime {
	entries := e.catalog.entries
	times := make([]MilestoneTime, 0, len(entries))
	for _, milestone := range entries {
		ticks, done := e.state.Milestones[milestone.ID]
		times = append(times, MilestoneTime{ID: milestone.ID, Ticks: ticks, Done: done})
	}
	return times
}

func (e *Engine) publishLocked(event logging.Event) {
	event.Tick = e.tick
	e.deps.Publisher.Publish(context.Background(), event)
}

func lifecycleEvent(eventType logging.EventType, runID string) logging.Event {
	return logging.Event{
		Type:     eventType,
		Actor:    logging.EntityRef{ID: runID, Kind: logging.EntityKindRun},
		Category: logging.CategoryLifecycle,
		Severity: logging.SeverityInfo,
	}
}
