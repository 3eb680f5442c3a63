// Package scheduler runs the periodic backup worker described in spec
// §4.6: a ticker-driven goroutine bound to one database that writes
// timestamped snapshots and prunes history to a bounded depth.
//
// Grounded in the teacher's pkg/reliability/backup.go retention logic,
// restructured around database.Manager's dump/load operations instead of
// the teacher's generic interface{} payload.
package scheduler

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/relkernel/database"
	"github.com/kasuganosora/relkernel/dberr"
)

// Scheduler periodically backs up one database to a directory and prunes
// old snapshots.
type Scheduler struct {
	manager *database.Manager
	cfg     database.PersistenceConfig

	ticker   *time.Ticker
	stopCh   chan struct{}
	doneCh   chan struct{}
	inFlight atomic.Bool
}

// New constructs (but does not start) a scheduler for cfg against manager.
func New(manager *database.Manager, cfg database.PersistenceConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		manager: manager,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start launches the background ticker goroutine. Calling Start twice is
// not supported.
func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.cfg.SnapshotInterval)
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.ticker.C:
			s.TriggerBackup()
		case <-s.stopCh:
			s.ticker.Stop()
			return
		}
	}
}

// Stop signals the ticker goroutine to exit and waits until it has. A
// tick-driven backup already writing is allowed to finish first; a
// TriggerBackup called directly from another goroutine is not waited for.
// Stop must only be called after Start.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// TriggerBackup performs one backup cycle immediately: if a prior backup
// from this scheduler is still writing, the tick is skipped. Failures are
// logged, not propagated, per spec §7.
func (s *Scheduler) TriggerBackup() {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)

	if _, err := s.manager.DumpDatabaseWithConfig(s.cfg, time.Now()); err != nil {
		log.Printf("scheduler: backup of %q failed: %v", s.cfg.DatabaseName, err)
	}
}

// RestoreLatest opens the newest file matching {DumpFilePrefix}_*.json.gz
// in the configured directory — the same prefix TriggerBackup writes
// under — and loads it via the manager, reporting whether a restore
// happened. A failure is logged and proceeds without data.
func (s *Scheduler) RestoreLatest() bool {
	path, ok := latestSnapshot(s.cfg.DumpDirectory, s.cfg.DumpFilePrefix)
	if !ok {
		return false
	}
	if err := s.manager.LoadDatabase(s.cfg.DatabaseName, path); err != nil {
		log.Printf("scheduler: restore of %q from %q failed: %v", s.cfg.DatabaseName, path, err)
		return false
	}
	return true
}

func latestSnapshot(dir, filePrefix string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	prefix := filePrefix + "_"
	var best string
	var bestTime time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ".json.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = n
			bestTime = info.ModTime()
		}
	}
	if best == "" {
		return "", false
	}
	return filepath.Join(dir, best), true
}

// ListSnapshots returns every file matching {filePrefix}_*.json.gz in
// dir — the same prefix TriggerBackup/TrimSnapshotHistory use — sorted by
// ModTime descending. Exposed for tests that verify retention (spec §8
// property 8 / scenario S6).
func ListSnapshots(dir, filePrefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dberr.NewIOError("readdir", err)
	}
	prefix := filePrefix + "_"
	type fi struct {
		name string
		mod  time.Time
	}
	var files []fi
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ".json.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fi{n, info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.name
	}
	return out, nil
}
