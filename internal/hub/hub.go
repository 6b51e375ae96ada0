// Package hub owns the live participant roster. Session goroutines report
// movement, combat, and item usage into it; once per cycle it hands the
// engine a point-in-time roster copy. Lock order is engine before hub:
// nothing in this package calls into the engine while holding the hub mutex.
package hub

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"group-speedrun/server/internal/run"
	"group-speedrun/server/internal/sim"
	"group-speedrun/server/internal/stats"
	"group-speedrun/server/internal/telemetry"
)

const (
	defaultDisconnectAfter = 30 * time.Second
	stirThreshold          = 0.01
)

// Config tunes the hub's cadence and timeouts.
type Config struct {
	TickRate        int
	DisconnectAfter time.Duration
}

// DefaultConfig matches the simulation defaults.
func DefaultConfig() Config {
	return Config{TickRate: 20, DisconnectAfter: defaultDisconnectAfter}
}

// Detacher tears down the transport subscription of a removed participant.
type Detacher interface {
	Detach(id string)
}

type participant struct {
	id          string
	name        string
	vitality    float64
	maxVitality float64
	alive       bool
	spectating  bool
	region      string
	x, z        float64
	positioned  bool
	stirred     bool
	order       int
	structures  map[string]struct{}
	lastSeen    time.Time
}

// Hub tracks connected participants and drives the engine tick by tick.
type Hub struct {
	cfg      Config
	engine   *run.Engine
	stats    *stats.Recorder
	logger   telemetry.Logger
	detacher Detacher
	now      func() time.Time

	mu           sync.Mutex
	participants map[string]*participant
	nextOrder    int
}

// NewHub wires a hub to its engine and stat recorder. A nil now falls back
// to time.Now.
func NewHub(cfg Config, engine *run.Engine, recorder *stats.Recorder, logger telemetry.Logger, now func() time.Time) *Hub {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 20
	}
	if cfg.DisconnectAfter <= 0 {
		cfg.DisconnectAfter = defaultDisconnectAfter
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if recorder == nil {
		recorder = stats.NewRecorder()
	}
	if now == nil {
		now = time.Now
	}
	return &Hub{
		cfg:          cfg,
		engine:       engine,
		stats:        recorder,
		logger:       logger,
		now:          now,
		participants: make(map[string]*participant),
	}
}

// SetDetacher registers the transport hook invoked when a participant is
// pruned. Set once during wiring, before Run.
func (h *Hub) SetDetacher(d Detacher) {
	h.detacher = d
}

// JoinResult is returned to a newly connected participant.
type JoinResult struct {
	ID       string
	Name     string
	Vitality float64
	Run      run.Snapshot
}

// Join registers a participant and returns its assigned id along with the
// current run snapshot.
func (h *Hub) Join(name string) JoinResult {
	snapshot := h.engine.SnapshotState()

	h.mu.Lock()
	p := &participant{
		id:          uuid.NewString(),
		name:        name,
		vitality:    snapshot.MaxVitality,
		maxVitality: snapshot.MaxVitality,
		alive:       true,
		order:       h.nextOrder,
		structures:  make(map[string]struct{}),
		lastSeen:    h.now(),
	}
	h.nextOrder++
	h.participants[p.id] = p
	h.mu.Unlock()

	h.logger.Printf("participant %s (%s) joined", p.id, name)
	return JoinResult{ID: p.id, Name: name, Vitality: p.vitality, Run: snapshot}
}

// Disconnect removes a participant from the roster.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	_, ok := h.participants[id]
	delete(h.participants, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.logger.Printf("participant %s disconnected", id)
	if h.detacher != nil {
		h.detacher.Detach(id)
	}
}

// Heartbeat refreshes the liveness deadline.
func (h *Hub) Heartbeat(id string) {
	h.mu.Lock()
	if p, ok := h.participants[id]; ok {
		p.lastSeen = h.now()
	}
	h.mu.Unlock()
}

// UpdatePosition records a reported position, accumulating distance moved and
// flagging the participant as stirred when the delta is meaningful.
func (h *Hub) UpdatePosition(id, region string, x, z float64) {
	h.mu.Lock()
	p, ok := h.participants[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	p.lastSeen = h.now()
	var moved float64
	if p.positioned {
		moved = math.Hypot(x-p.x, z-p.z)
	}
	p.region = region
	p.x, p.z = x, z
	p.positioned = true
	if moved > stirThreshold {
		p.stirred = true
	}
	alive := p.alive && !p.spectating
	h.mu.Unlock()

	if alive && moved > 0 {
		h.stats.Add(stats.MetricDistanceMoved, id, moved)
	}
}

// ReportAction marks the participant as stirred without a position change.
func (h *Hub) ReportAction(id string) {
	h.mu.Lock()
	if p, ok := h.participants[id]; ok {
		p.lastSeen = h.now()
		p.stirred = true
	}
	h.mu.Unlock()
}

// ReportDamageTaken lowers the participant's vitality and records the hit.
// Dropping to zero kills the participant and triggers the group failure
// check.
func (h *Hub) ReportDamageTaken(id string, amount float64) {
	if amount <= 0 {
		return
	}
	h.mu.Lock()
	p, ok := h.participants[id]
	if !ok || !p.alive {
		h.mu.Unlock()
		return
	}
	p.lastSeen = h.now()
	p.vitality -= amount
	died := false
	if p.vitality <= 0 {
		p.vitality = 0
		p.alive = false
		died = true
	}
	h.mu.Unlock()

	h.stats.Add(stats.MetricDamageTaken, id, amount)
	if died {
		h.logger.Printf("participant %s died", id)
		h.engine.HandleDeath(id)
	}
}

// ReportDamageDealt credits outgoing damage, splitting off boss damage for
// the priority award.
func (h *Hub) ReportDamageDealt(id string, amount float64, boss bool) {
	if amount <= 0 {
		return
	}
	h.touch(id)
	h.stats.Add(stats.MetricDamageDealt, id, amount)
	if boss {
		h.stats.Add(stats.MetricBossDamage, id, amount)
	}
}

// ReportHeal raises vitality up to the participant's cap.
func (h *Hub) ReportHeal(id string, amount float64) {
	if amount <= 0 {
		return
	}
	h.mu.Lock()
	p, ok := h.participants[id]
	if !ok || !p.alive {
		h.mu.Unlock()
		return
	}
	p.lastSeen = h.now()
	p.vitality = math.Min(p.vitality+amount, p.maxVitality)
	h.mu.Unlock()

	h.stats.Add(stats.MetricDamageHealed, id, amount)
}

// ReportPotion counts a consumed brew.
func (h *Hub) ReportPotion(id string) {
	h.touch(id)
	h.stats.Add(stats.MetricPotionsConsumed, id, 1)
}

// ReportInventoryOpened counts an inventory interaction.
func (h *Hub) ReportInventoryOpened(id string) {
	h.touch(id)
	h.stats.Add(stats.MetricInventoriesOpened, id, 1)
}

// ReportBlocks counts placed and broken blocks.
func (h *Hub) ReportBlocks(id string, placed, broken int) {
	h.touch(id)
	if placed > 0 {
		h.stats.Add(stats.MetricBlocksPlaced, id, float64(placed))
	}
	if broken > 0 {
		h.stats.Add(stats.MetricBlocksBroken, id, float64(broken))
	}
}

// ReportKill counts a hostile kill.
func (h *Hub) ReportKill(id string) {
	h.touch(id)
	h.stats.Add(stats.MetricKills, id, 1)
}

// ReportArmor keeps the best armor rating seen during the run.
func (h *Hub) ReportArmor(id string, rating float64) {
	h.touch(id)
	h.stats.Observe(stats.MetricMaxArmor, id, rating)
}

// ReportStructure updates the participant's reported structure occupancy.
func (h *Hub) ReportStructure(id, structure string, inside bool) {
	if structure == "" {
		return
	}
	h.mu.Lock()
	if p, ok := h.participants[id]; ok {
		p.lastSeen = h.now()
		if inside {
			p.structures[structure] = struct{}{}
		} else {
			delete(p.structures, structure)
		}
	}
	h.mu.Unlock()
}

// ReportDeath handles an explicitly reported death, regardless of tracked
// vitality.
func (h *Hub) ReportDeath(id string) {
	h.mu.Lock()
	p, ok := h.participants[id]
	if !ok || !p.alive {
		h.mu.Unlock()
		return
	}
	p.lastSeen = h.now()
	p.vitality = 0
	p.alive = false
	h.mu.Unlock()

	h.logger.Printf("participant %s died", id)
	h.engine.HandleDeath(id)
}

// ReportBossDeath signals the final boss kill. Duplicate reports are
// harmless.
func (h *Hub) ReportBossDeath(id string) {
	h.touch(id)
	h.engine.HandleBossDeath()
}

// SetVitality overwrites a participant's vitality from the shared health
// reconciler.
func (h *Hub) SetVitality(id string, vitality float64) {
	h.mu.Lock()
	if p, ok := h.participants[id]; ok {
		p.vitality = math.Min(math.Max(vitality, 0), p.maxVitality)
	}
	h.mu.Unlock()
}

// MakeSpectator flips a participant to the spectating role.
func (h *Hub) MakeSpectator(id string) {
	h.mu.Lock()
	if p, ok := h.participants[id]; ok {
		p.spectating = true
	}
	h.mu.Unlock()
}

// ApplyMaxVitality updates the participant's cap, clamping current vitality
// down when the cap shrinks.
func (h *Hub) ApplyMaxVitality(id string, max float64) {
	if max <= 0 {
		return
	}
	h.mu.Lock()
	if p, ok := h.participants[id]; ok {
		p.maxVitality = max
		if p.vitality > max {
			p.vitality = max
		}
	}
	h.mu.Unlock()
}

// RegionOf reports the region the participant last reported from.
func (h *Hub) RegionOf(id string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.participants[id]; ok {
		return p.region
	}
	return ""
}

// InsideStructure reports whether the participant last reported standing
// inside the named structure.
func (h *Hub) InsideStructure(id, structure string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.participants[id]
	if !ok {
		return false
	}
	_, inside := p.structures[structure]
	return inside
}

// RosterSnapshot copies the roster in connection order.
func (h *Hub) RosterSnapshot() []run.RosterEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rosterLocked(false)
}

// Run drives the simulation loop until the stop channel closes.
func (h *Hub) Run(stop <-chan struct{}) {
	loop := sim.NewLoop(sim.Config{TickRate: h.cfg.TickRate, CatchupMaxTicks: 4}, h.advance, h.now)
	loop.Run(stop)
}

func (h *Hub) advance(ctx sim.TickContext) {
	h.mu.Lock()
	deadline := ctx.Now.Add(-h.cfg.DisconnectAfter)
	var pruned []string
	for id, p := range h.participants {
		if p.lastSeen.Before(deadline) {
			pruned = append(pruned, id)
			delete(h.participants, id)
		}
	}
	roster := h.rosterLocked(true)
	h.mu.Unlock()

	for _, id := range pruned {
		h.logger.Printf("participant %s timed out", id)
		if h.detacher != nil {
			h.detacher.Detach(id)
		}
	}

	h.engine.Advance(ctx.Tick, roster, h, h)
}

// rosterLocked copies the roster sorted by insertion order. When clearStir is
// set the per-cycle stirred flags reset so each copy reflects activity since
// the previous cycle only.
func (h *Hub) rosterLocked(clearStir bool) []run.RosterEntry {
	roster := make([]run.RosterEntry, 0, len(h.participants))
	for _, p := range h.participants {
		roster = append(roster, run.RosterEntry{
			ID:         p.id,
			Name:       p.name,
			Vitality:   p.vitality,
			Alive:      p.alive,
			Spectating: p.spectating,
			Region:     p.region,
			X:          p.x,
			Z:          p.z,
			Stirred:    p.stirred,
			Order:      p.order,
		})
		if clearStir {
			p.stirred = false
		}
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Order < roster[j].Order })
	return roster
}

func (h *Hub) touch(id string) {
	h.mu.Lock()
	if p, ok := h.participants[id]; ok {
		p.lastSeen = h.now()
	}
	h.mu.Unlock()
}

var (
	_ run.WorldQuery = (*Hub)(nil)
	_ run.RosterOps  = (*Hub)(nil)
)
