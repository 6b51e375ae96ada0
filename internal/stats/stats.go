// Package stats accumulates per-participant performance records for the
// current run. Producers call in from many goroutines (combat resolution,
// movement, item pickup), so every merge is guarded; the award computation
// reads a single point-in-time snapshot at the terminal transition.
package stats

import "sync"

// Tracked metric keys.
const (
	MetricDamageDealt       = "damage_dealt"
	MetricDamageTaken       = "damage_taken"
	MetricDamageHealed      = "damage_healed"
	MetricDistanceMoved     = "distance_moved"
	MetricPotionsConsumed   = "potions_consumed"
	MetricInventoriesOpened = "inventories_opened"
	MetricMaxArmor          = "max_armor"
	MetricBossDamage        = "boss_damage"
	MetricBlocksPlaced      = "blocks_placed"
	MetricBlocksBroken      = "blocks_broken"
	MetricKills             = "kills"
)

// Recorder holds one mapping per metric from participant id to accumulated
// value. Merges are atomic with respect to each other: concurrent increments
// never lose updates.
type Recorder struct {
	mu      sync.RWMutex
	metrics map[string]map[string]float64
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{metrics: make(map[string]map[string]float64)}
}

// Add merges amount into the participant's running total. Zero and negative
// amounts are ignored, as are empty ids.
func (r *Recorder) Add(metric, participantID string, amount float64) {
	if metric == "" || participantID == "" || amount <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	values := r.metrics[metric]
	if values == nil {
		values = make(map[string]float64)
		r.metrics[metric] = values
	}
	values[participantID] += amount
}

// Observe keeps the highest value seen for the participant. Used for metrics
// like the best armor rating reached during the run.
func (r *Recorder) Observe(metric, participantID string, value float64) {
	if metric == "" || participantID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	values := r.metrics[metric]
	if values == nil {
		values = make(map[string]float64)
		r.metrics[metric] = values
	}
	if value > values[participantID] {
		values[participantID] = value
	}
}

// Value reads a single accumulated value.
func (r *Recorder) Value(metric, participantID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[metric][participantID]
}

// Snapshot returns a deep copy of every metric map.
func (r *Recorder) Snapshot() map[string]map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]map[string]float64, len(r.metrics))
	for metric, values := range r.metrics {
		copied := make(map[string]float64, len(values))
		for id, value := range values {
			copied[id] = value
		}
		snapshot[metric] = copied
	}
	return snapshot
}

// Restore replaces the recorder contents with a previously persisted
// snapshot.
func (r *Recorder) Restore(snapshot map[string]map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]map[string]float64, len(snapshot))
	for metric, values := range snapshot {
		copied := make(map[string]float64, len(values))
		for id, value := range values {
			copied[id] = value
		}
		r.metrics[metric] = copied
	}
}

// Reset clears every record. Called at the run reset boundary.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]map[string]float64)
}
