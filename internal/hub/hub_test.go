package hub

import (
	"testing"
	"time"

	"group-speedrun/server/internal/run"
	"group-speedrun/server/internal/sim"
	"group-speedrun/server/internal/stats"
)

type hubFixture struct {
	hub      *Hub
	engine   *run.Engine
	recorder *stats.Recorder
	now      time.Time
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	f := &hubFixture{
		recorder: stats.NewRecorder(),
		now:      time.UnixMilli(1_000_000),
	}
	nowFn := func() time.Time { return f.now }
	f.engine = run.NewEngine(run.DefaultEngineConfig(), run.DefaultCatalog(), run.Deps{
		Stats: f.recorder,
		Now:   nowFn,
	})
	f.hub = NewHub(DefaultConfig(), f.engine, f.recorder, nil, nowFn)
	return f
}

func (f *hubFixture) tick(n uint64) {
	f.hub.advance(sim.TickContext{Tick: n, Now: f.now, Delta: 0.05})
}

func TestJoinAssignsOrderAndVitality(t *testing.T) {
	f := newHubFixture(t)

	first := f.hub.Join("Alice")
	second := f.hub.Join("Bob")
	if first.ID == second.ID {
		t.Fatalf("ids must be unique")
	}
	if first.Vitality != 20 {
		t.Fatalf("expected default vitality 20, got %v", first.Vitality)
	}

	roster := f.hub.RosterSnapshot()
	if len(roster) != 2 {
		t.Fatalf("expected two participants, got %d", len(roster))
	}
	if roster[0].Name != "Alice" || roster[1].Name != "Bob" {
		t.Fatalf("roster must keep connection order, got %v", roster)
	}
	if roster[0].Order >= roster[1].Order {
		t.Fatalf("orders must increase: %d, %d", roster[0].Order, roster[1].Order)
	}
}

func TestMovementAccumulatesDistanceAndStirs(t *testing.T) {
	f := newHubFixture(t)
	join := f.hub.Join("Alice")

	// First report only establishes the position.
	f.hub.UpdatePosition(join.ID, "overworld", 0, 0)
	f.hub.UpdatePosition(join.ID, "overworld", 3, 4)
	if got := f.recorder.Value(stats.MetricDistanceMoved, join.ID); got != 5 {
		t.Fatalf("expected 5 blocks moved, got %v", got)
	}

	roster := f.hub.RosterSnapshot()
	if !roster[0].Stirred {
		t.Fatalf("movement must flag the participant as stirred")
	}

	// Auto-start picks the movement up on the next cycle.
	f.tick(1)
	if f.engine.Phase() != run.PhaseRunning {
		t.Fatalf("expected auto-start, got %s", f.engine.Phase())
	}
	// The stir flag is consumed by the cycle.
	if f.hub.RosterSnapshot()[0].Stirred {
		t.Fatalf("stir flag must clear after the cycle")
	}
}

func TestDamageToZeroTriggersGroupFailure(t *testing.T) {
	f := newHubFixture(t)
	alice := f.hub.Join("Alice")
	bob := f.hub.Join("Bob")
	f.engine.Start()
	f.tick(1)

	f.hub.ReportDamageTaken(alice.ID, 25)
	if f.engine.Phase() != run.PhaseFailed {
		t.Fatalf("lethal damage must end the run, got %s", f.engine.Phase())
	}
	if got := f.recorder.Value(stats.MetricDamageTaken, alice.ID); got != 25 {
		t.Fatalf("expected damage recorded, got %v", got)
	}

	roster := f.hub.RosterSnapshot()
	for _, entry := range roster {
		switch entry.ID {
		case alice.ID:
			if entry.Alive || entry.Vitality != 0 {
				t.Fatalf("expected alice dead at zero, got %+v", entry)
			}
		case bob.ID:
			if !entry.Spectating {
				t.Fatalf("survivors must be spectated on group failure")
			}
		}
	}

	// Dead participants absorb no further damage.
	f.hub.ReportDamageTaken(alice.ID, 5)
	if got := f.recorder.Value(stats.MetricDamageTaken, alice.ID); got != 25 {
		t.Fatalf("dead participant accumulated damage: %v", got)
	}
}

func TestHealClampsToCap(t *testing.T) {
	f := newHubFixture(t)
	join := f.hub.Join("Alice")

	f.hub.ReportDamageTaken(join.ID, 8)
	f.hub.ReportHeal(join.ID, 100)
	roster := f.hub.RosterSnapshot()
	if roster[0].Vitality != 20 {
		t.Fatalf("heal must clamp to the cap, got %v", roster[0].Vitality)
	}
	if got := f.recorder.Value(stats.MetricDamageHealed, join.ID); got != 100 {
		t.Fatalf("expected heal amount recorded, got %v", got)
	}
}

func TestStatProducers(t *testing.T) {
	f := newHubFixture(t)
	join := f.hub.Join("Alice")

	f.hub.ReportDamageDealt(join.ID, 6, false)
	f.hub.ReportDamageDealt(join.ID, 4, true)
	f.hub.ReportPotion(join.ID)
	f.hub.ReportInventoryOpened(join.ID)
	f.hub.ReportBlocks(join.ID, 3, 2)
	f.hub.ReportKill(join.ID)
	f.hub.ReportArmor(join.ID, 12)
	f.hub.ReportArmor(join.ID, 9)

	checks := map[string]float64{
		stats.MetricDamageDealt:       10,
		stats.MetricBossDamage:        4,
		stats.MetricPotionsConsumed:   1,
		stats.MetricInventoriesOpened: 1,
		stats.MetricBlocksPlaced:      3,
		stats.MetricBlocksBroken:      2,
		stats.MetricKills:             1,
		stats.MetricMaxArmor:          12,
	}
	for metric, want := range checks {
		if got := f.recorder.Value(metric, join.ID); got != want {
			t.Fatalf("%s = %v, want %v", metric, got, want)
		}
	}
}

func TestWorldQueryFromReports(t *testing.T) {
	f := newHubFixture(t)
	join := f.hub.Join("Alice")

	f.hub.UpdatePosition(join.ID, "nether", 10, 10)
	if got := f.hub.RegionOf(join.ID); got != "nether" {
		t.Fatalf("expected region nether, got %q", got)
	}
	if f.hub.InsideStructure(join.ID, "bastion") {
		t.Fatalf("structure occupancy not reported yet")
	}
	f.hub.ReportStructure(join.ID, "bastion", true)
	if !f.hub.InsideStructure(join.ID, "bastion") {
		t.Fatalf("expected bastion occupancy")
	}
	f.hub.ReportStructure(join.ID, "bastion", false)
	if f.hub.InsideStructure(join.ID, "bastion") {
		t.Fatalf("expected bastion occupancy cleared")
	}
}

func TestRosterOpsApply(t *testing.T) {
	f := newHubFixture(t)
	join := f.hub.Join("Alice")

	f.hub.SetVitality(join.ID, 13)
	if got := f.hub.RosterSnapshot()[0].Vitality; got != 13 {
		t.Fatalf("expected vitality 13, got %v", got)
	}

	f.hub.ApplyMaxVitality(join.ID, 10)
	if got := f.hub.RosterSnapshot()[0].Vitality; got != 10 {
		t.Fatalf("shrinking cap must clamp vitality, got %v", got)
	}

	f.hub.MakeSpectator(join.ID)
	if !f.hub.RosterSnapshot()[0].Spectating {
		t.Fatalf("expected spectator")
	}
}

func TestSilentParticipantsTimeOut(t *testing.T) {
	f := newHubFixture(t)
	join := f.hub.Join("Alice")

	f.now = f.now.Add(DefaultConfig().DisconnectAfter + time.Second)
	f.tick(1)
	if len(f.hub.RosterSnapshot()) != 0 {
		t.Fatalf("silent participant must be pruned")
	}

	// Heartbeats keep a quiet participant alive.
	join = f.hub.Join("Bob")
	f.now = f.now.Add(DefaultConfig().DisconnectAfter - time.Second)
	f.hub.Heartbeat(join.ID)
	f.now = f.now.Add(2 * time.Second)
	f.tick(2)
	if len(f.hub.RosterSnapshot()) != 1 {
		t.Fatalf("heartbeat must refresh the liveness deadline")
	}
}
