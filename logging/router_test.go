package logging_test

import (
	"context"
	"testing"
	"time"

	"group-speedrun/server/logging"
	loggingSinks "group-speedrun/server/logging/sinks"
)

func waitForEvents(t *testing.T, sink *loggingSinks.MemorySink, want int) []logging.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := sink.Events(); len(events) >= want {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", want, len(sink.Events()))
	return nil
}

func TestRouterDeliversToSinks(t *testing.T) {
	sink := loggingSinks.NewMemorySink()
	router := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{
		{Name: "memory", Sink: sink},
	})

	router.Publish(context.Background(), logging.Event{
		Type:     logging.EventRunStarted,
		Severity: logging.SeverityInfo,
		Actor:    logging.EntityRef{ID: "r1", Kind: logging.EntityKindRun},
	})

	events := waitForEvents(t, sink, 1)
	if events[0].Type != logging.EventRunStarted || events[0].Actor.ID != "r1" {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if events[0].Time.IsZero() {
		t.Fatalf("router must stamp the event time")
	}

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	sink := loggingSinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router := logging.NewRouter(nil, cfg, []logging.NamedSink{
		{Name: "memory", Sink: sink},
	})

	router.Publish(context.Background(), logging.Event{Type: logging.EventRunStarted, Severity: logging.SeverityInfo})
	router.Publish(context.Background(), logging.Event{Type: logging.EventRunFailed, Severity: logging.SeverityWarn})

	events := waitForEvents(t, sink, 1)
	for _, event := range events {
		if event.Severity < logging.SeverityWarn {
			t.Fatalf("info event leaked through the filter: %+v", event)
		}
	}

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRouterIgnoresEmptyAndPostCloseEvents(t *testing.T) {
	sink := loggingSinks.NewMemorySink()
	router := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{
		{Name: "memory", Sink: sink},
	})

	router.Publish(context.Background(), logging.Event{})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	router.Publish(context.Background(), logging.Event{Type: logging.EventRunStarted})

	if events := sink.Events(); len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}

	stats := router.Stats()
	if stats.EventsTotal != 0 {
		t.Fatalf("expected zero forwarded events, got %d", stats.EventsTotal)
	}
}
