// Package store persists the run snapshot to a JSON file. Writes happen on a
// background goroutine so the tick loop never blocks on I/O: the engine
// copies a snapshot, marks it dirty, and moves on.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"group-speedrun/server/internal/run"
	"group-speedrun/server/internal/telemetry"
)

const retryDelay = 2 * time.Second

// FileStore keeps at most one pending write in flight. A newer dirty
// snapshot supersedes an unwritten one rather than queueing behind it, so a
// write-failure storm never accumulates unbounded background work.
type FileStore struct {
	path   string
	logger telemetry.Logger

	mu      sync.Mutex
	pending *run.PersistedRun

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewFileStore opens a store rooted at path and starts its writer.
func NewFileStore(path string, logger telemetry.Logger) *FileStore {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	s := &FileStore{
		path:   path,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Load reads the persisted run. A missing or malformed file reports false so
// the caller starts from defaults instead of crashing.
func (s *FileStore) Load() (run.PersistedRun, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Printf("failed to read snapshot %s: %v", s.path, err)
		}
		return run.PersistedRun{}, false
	}
	var persisted run.PersistedRun
	if err := json.Unmarshal(data, &persisted); err != nil {
		s.logger.Printf("malformed snapshot %s, starting fresh: %v", s.path, err)
		return run.PersistedRun{}, false
	}
	return persisted, true
}

// MarkDirty stages a snapshot for the background writer. The latest snapshot
// wins: earlier unwritten ones are discarded.
func (s *FileStore) MarkDirty(p run.PersistedRun) {
	s.mu.Lock()
	s.pending = &p
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close flushes any pending snapshot synchronously and stops the writer.
func (s *FileStore) Close(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if pending == nil {
		return nil
	}
	if err := s.write(*pending); err != nil {
		return fmt.Errorf("final snapshot write: %w", err)
	}
	return nil
}

func (s *FileStore) writeLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
			s.flush()
		}
	}
}

func (s *FileStore) flush() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if pending == nil {
		return
	}
	if err := s.write(*pending); err != nil {
		s.logger.Printf("snapshot write failed, will retry: %v", err)
		// Restore the dirty snapshot unless a newer one superseded it
		// while the write was in flight.
		s.mu.Lock()
		if s.pending == nil {
			s.pending = pending
		}
		s.mu.Unlock()
		time.AfterFunc(retryDelay, func() {
			select {
			case s.wake <- struct{}{}:
			default:
			}
		})
	}
}

func (s *FileStore) write(p run.PersistedRun) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
