package run

// DamageEvent attributes a shared-health drop to the participant whose
// vitality decreased, for user-facing notification.
type DamageEvent struct {
	ParticipantID string
	From          float64
	To            float64
}

const groupHealthUnset = -1

// HealthSync keeps all eligible participants at a common vitality value while
// the shared-health rule is active. The group value only ever moves to the
// extreme observed in a cycle: the minimum on damage, the maximum on heal.
type HealthSync struct {
	lastGroupHealth float64
}

// NewHealthSync returns a synchronizer with no remembered group value.
func NewHealthSync() *HealthSync {
	return &HealthSync{lastGroupHealth: groupHealthUnset}
}

// Reset invalidates the remembered group value so the next eligible
// participant re-seeds it.
func (h *HealthSync) Reset() {
	h.lastGroupHealth = groupHealthUnset
}

// Sync reconciles vitality across the eligible participant set for one cycle.
// apply is called once per eligible participant whenever the group value
// moves. The returned events name the participants who caused a drop.
func (h *HealthSync) Sync(state *State, roster []RosterEntry, apply func(participantID string, vitality float64)) []DamageEvent {
	eligible := roster[:0:0]
	for _, entry := range roster {
		if entry.EligibleForGroup(state) {
			eligible = append(eligible, entry)
		}
	}
	if len(eligible) == 0 {
		h.lastGroupHealth = groupHealthUnset
		return nil
	}
	if h.lastGroupHealth <= 0 {
		h.lastGroupHealth = eligible[0].Vitality
	}

	min, max := eligible[0].Vitality, eligible[0].Vitality
	for _, entry := range eligible[1:] {
		if entry.Vitality < min {
			min = entry.Vitality
		}
		if entry.Vitality > max {
			max = entry.Vitality
		}
	}

	target := h.lastGroupHealth
	var events []DamageEvent
	switch {
	case min < h.lastGroupHealth:
		target = min
		for _, entry := range eligible {
			if entry.Vitality < h.lastGroupHealth {
				events = append(events, DamageEvent{
					ParticipantID: entry.ID,
					From:          h.lastGroupHealth,
					To:            entry.Vitality,
				})
			}
		}
	case max > h.lastGroupHealth:
		target = max
	}

	if target == h.lastGroupHealth {
		return nil
	}
	if apply != nil {
		for _, entry := range eligible {
			apply(entry.ID, target)
		}
	}
	h.lastGroupHealth = target
	return events
}
