package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"group-speedrun/server/internal/run"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "run.json"), nil)
	defer s.Close(context.Background())
	if _, ok := s.Load(); ok {
		t.Fatalf("missing file must report absent")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	s := NewFileStore(path, nil)
	defer s.Close(context.Background())
	if _, ok := s.Load(); ok {
		t.Fatalf("malformed file must report absent")
	}
}

func TestMarkDirtyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	s := NewFileStore(path, nil)

	persisted := run.PersistedRun{
		Run: run.Snapshot{
			RunID:         "r1",
			Phase:         run.PhaseRunning,
			ElapsedMillis: 90_000,
		},
		Stats: map[string]map[string]float64{"kills": {"a": 3}},
	}
	s.MarkDirty(persisted)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := NewFileStore(path, nil)
	defer reopened.Close(context.Background())
	loaded, ok := reopened.Load()
	if !ok {
		t.Fatalf("expected persisted run to load")
	}
	if loaded.Run.RunID != "r1" || loaded.Run.Phase != run.PhaseRunning || loaded.Run.ElapsedMillis != 90_000 {
		t.Fatalf("round trip lost run fields: %+v", loaded.Run)
	}
	if loaded.Stats["kills"]["a"] != 3 {
		t.Fatalf("round trip lost stats: %+v", loaded.Stats)
	}
}

func TestNewestSnapshotSupersedes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	s := NewFileStore(path, nil)

	s.MarkDirty(run.PersistedRun{Run: run.Snapshot{RunID: "old"}})
	s.MarkDirty(run.PersistedRun{Run: run.Snapshot{RunID: "new"}})
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := NewFileStore(path, nil)
	defer reopened.Close(context.Background())
	loaded, ok := reopened.Load()
	if !ok || loaded.Run.RunID != "new" {
		t.Fatalf("expected the newest snapshot on disk, got %+v", loaded.Run)
	}
}

func TestBackgroundWriterFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	s := NewFileStore(path, nil)
	defer s.Close(context.Background())

	s.MarkDirty(run.PersistedRun{Run: run.Snapshot{RunID: "bg"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("background writer never flushed %s", path)
}
