package run

import (
	"sort"

	"group-speedrun/server/internal/stats"
)

// Award names, in assignment priority order.
const (
	AwardBossWarrior = "boss_warrior"
	AwardADC         = "adc"
	AwardBrewMaster  = "brew_master"
	AwardBuilder     = "builder"
	AwardHealer      = "healer"
	AwardKiller      = "killer"
	AwardDefender    = "defender"
	AwardSightseer   = "sightseer"
	AwardTank        = "tank"
	AwardShuffler    = "shuffler"
	AwardCoward      = "coward"
	AwardWeakling    = "weakling"
)

// EnvironmentalKill is the placeholder recipient used when the run is won but
// no participant dealt damage to the boss.
const EnvironmentalKill = "Environmental Damage"

// Award assigns one named title to a participant based on a tracked metric.
type Award struct {
	Name            string  `json:"name"`
	ParticipantID   string  `json:"participantId,omitempty"`
	ParticipantName string  `json:"participantName"`
	Value           float64 `json:"value"`
	// Roast marks awards that single out the worst performer.
	Roast bool `json:"roast,omitempty"`
}

// AwardInput is the point-in-time snapshot the engine hands to ComputeAwards
// at the terminal transition. The roster carries connection insertion order,
// which is the documented tie-break: the earliest-connected participant wins
// a tied metric.
type AwardInput struct {
	Roster       []RosterEntry
	Stats        map[string]map[string]float64
	Outcome      Phase
	FailureCause string // participant id whose death ended the run, if any
}

type metricFn func(participantID string) float64

const awardValueFloor = 0.001

// ComputeAwards assigns the fixed award list over the final stat records.
// Two passes per list: a unique pass that skips already-assigned
// participants, then a fill pass over the full roster for any award left
// unassigned. Roast awards run on failed runs against the full roster with
// no threshold.
func ComputeAwards(in AwardInput) []Award {
	if len(in.Roster) == 0 {
		return nil
	}
	roster := sortByOrder(in.Roster)
	lookup := func(metric string) metricFn {
		values := in.Stats[metric]
		return func(id string) float64 { return values[id] }
	}
	sum := func(a, b metricFn) metricFn {
		return func(id string) float64 { return a(id) + b(id) }
	}

	assigned := make(map[string]struct{})
	var awards []Award

	// The boss award is the most prestigious and claims its winner first.
	bossDamage := in.Stats[stats.MetricBossDamage]
	if len(bossDamage) > 0 {
		if award, ok := maxAward(AwardBossWarrior, lookup(stats.MetricBossDamage), roster, assigned, true); ok {
			awards = append(awards, award)
		}
	} else if in.Outcome == PhaseVictorious {
		awards = append(awards, Award{Name: AwardBossWarrior, ParticipantName: EnvironmentalKill})
	}

	// The participant who caused the failure is barred from positive awards
	// but stays eligible for roasts.
	if in.FailureCause != "" {
		assigned[in.FailureCause] = struct{}{}
	}

	type spec struct {
		name   string
		metric metricFn
	}
	specs := []spec{
		{AwardADC, lookup(stats.MetricDamageDealt)},
		{AwardBrewMaster, lookup(stats.MetricPotionsConsumed)},
		{AwardBuilder, sum(lookup(stats.MetricBlocksPlaced), lookup(stats.MetricBlocksBroken))},
		{AwardHealer, lookup(stats.MetricDamageHealed)},
		{AwardKiller, lookup(stats.MetricKills)},
		{AwardDefender, lookup(stats.MetricMaxArmor)},
		{AwardSightseer, lookup(stats.MetricDistanceMoved)},
		{AwardTank, lookup(stats.MetricDamageTaken)},
	}

	granted := make(map[string]struct{}, len(specs))
	for _, award := range awards {
		granted[award.Name] = struct{}{}
	}
	for _, s := range specs {
		if award, ok := maxAward(s.name, s.metric, roster, assigned, true); ok {
			awards = append(awards, award)
			granted[s.name] = struct{}{}
		}
	}
	for _, s := range specs {
		if _, done := granted[s.name]; done {
			continue
		}
		if award, ok := maxAward(s.name, s.metric, roster, assigned, false); ok {
			awards = append(awards, award)
			granted[s.name] = struct{}{}
		}
	}

	if in.Outcome == PhaseFailed {
		awards = append(awards, minAward(AwardCoward, lookup(stats.MetricDamageTaken), roster))
		if award, ok := maxAward(AwardShuffler, lookup(stats.MetricInventoriesOpened), roster, assigned, false); ok {
			awards = append(awards, award)
		}
		awards = append(awards, minAward(AwardWeakling, lookup(stats.MetricDamageDealt), roster))
	}
	return awards
}

// maxAward selects the highest metric value. With uniqueOnly set, already
// assigned participants are skipped. Values at or below the zero threshold
// never earn the award.
func maxAward(name string, metric metricFn, roster []RosterEntry, assigned map[string]struct{}, uniqueOnly bool) (Award, bool) {
	var best *RosterEntry
	var bestValue float64
	for i := range roster {
		entry := &roster[i]
		if uniqueOnly {
			if _, taken := assigned[entry.ID]; taken {
				continue
			}
		}
		value := metric(entry.ID)
		if best == nil || value > bestValue {
			best = entry
			bestValue = value
		}
	}
	if best == nil || bestValue <= awardValueFloor {
		return Award{}, false
	}
	assigned[best.ID] = struct{}{}
	return Award{
		Name:            name,
		ParticipantID:   best.ID,
		ParticipantName: best.Name,
		Value:           bestValue,
	}, true
}

// minAward singles out the lowest metric value over the full roster. No
// threshold applies: zero is exactly the point.
func minAward(name string, metric metricFn, roster []RosterEntry) Award {
	best := &roster[0]
	bestValue := metric(best.ID)
	for i := 1; i < len(roster); i++ {
		entry := &roster[i]
		value := metric(entry.ID)
		if value < bestValue {
			best = entry
			bestValue = value
		}
	}
	return Award{
		Name:            name,
		ParticipantID:   best.ID,
		ParticipantName: best.Name,
		Value:           bestValue,
		Roast:           true,
	}
}

func sortByOrder(roster []RosterEntry) []RosterEntry {
	sorted := make([]RosterEntry, len(roster))
	copy(sorted, roster)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}
