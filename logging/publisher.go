package logging

import (
	"context"
	"time"
)

type EventType string

// Run lifecycle and gameplay event types emitted by the engine.
const (
	EventRunStarted         EventType = "run_started"
	EventRunPaused          EventType = "run_paused"
	EventRunResumed         EventType = "run_resumed"
	EventRunVictorious      EventType = "run_victorious"
	EventRunFailed          EventType = "run_failed"
	EventRunReset           EventType = "run_reset"
	EventMilestoneCompleted EventType = "milestone_completed"
	EventSharedDamage       EventType = "shared_damage"
	EventAwardGranted       EventType = "award_granted"
	EventPersistFailed      EventType = "persist_failed"
)

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

type EntityKind string

const (
	EntityKindUnknown     EntityKind = "unknown"
	EntityKindParticipant EntityKind = "participant"
	EntityKindMilestone   EntityKind = "milestone"
	EntityKindRun         EntityKind = "run"
	EntityKindSystem      EntityKind = "system"
)

const (
	CategoryLifecycle = "lifecycle"
	CategoryVitality  = "vitality"
	CategoryMilestone = "milestone"
	CategoryAward     = "award"
	CategorySystem    = "system"
)

type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

type Event struct {
	Type     EventType      `json:"type"`
	Tick     uint64         `json:"tick"`
	Time     time.Time      `json:"time"`
	Actor    EntityRef      `json:"actor"`
	Targets  []EntityRef    `json:"targets,omitempty"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

func NopPublisher() Publisher {
	return nopPublisher{}
}

func (e Event) WithExtra(key string, value any) Event {
	if e.Extra == nil {
		e.Extra = make(map[string]any, 1)
	}
	e.Extra[key] = value
	return e
}

func cloneEvent(event Event) Event {
	cloned := event
	if len(event.Targets) > 0 {
		cloned.Targets = append([]EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}
