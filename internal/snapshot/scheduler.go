// Package snapshot periodically exports the contents of a replay store.
//
// The scheduler checks a snapshot policy on every tick. When it fires, all
// valid rows are read through the store's guard, encoded and handed to a
// storage writer at the path chosen by the router.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jittakal/diskreplay/pkg/replay"
	"github.com/jittakal/diskreplay/pkg/storage"
)

// Source is a store that can be snapshotted and reports how many records
// it has persisted.
type Source interface {
	replay.Snapshotter
	Written() uint64
}

// MetricsCollector receives snapshot measurements.
type MetricsCollector interface {
	ObserveSnapshot(seconds float64, status string)
}

// Config controls the scheduler.
type Config struct {
	// CheckInterval is how often the policy is consulted.
	CheckInterval time.Duration
	// Timeout bounds a single snapshot, including the upload.
	Timeout time.Duration
}

// DefaultConfig returns the default scheduler settings.
func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Second,
		Timeout:       5 * time.Minute,
	}
}

// Result describes a shipped snapshot.
type Result struct {
	Path      string
	StoreRows int
	Bytes     int64
	TakenAt   time.Time
}

// Scheduler ships snapshots according to a policy.
type Scheduler struct {
	cfg     Config
	src     Source
	writer  storage.Writer
	router  storage.Router
	policy  storage.SnapshotPolicy
	metrics MetricsCollector
	logger  *slog.Logger

	mu           sync.Mutex // serializes snapshots, guards the fields below
	lastWritten  uint64
	lastSnapshot time.Time
}

// New creates a scheduler.
func New(
	cfg Config,
	src Source,
	writer storage.Writer,
	router storage.Router,
	policy storage.SnapshotPolicy,
	metrics MetricsCollector,
	logger *slog.Logger,
) (*Scheduler, error) {
	if src == nil || writer == nil || router == nil || policy == nil {
		return nil, fmt.Errorf("snapshot source, writer, router and policy are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}

	return &Scheduler{
		cfg:     cfg,
		src:     src,
		writer:  writer,
		router:  router,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Run checks the policy every CheckInterval until ctx is cancelled. Failed
// snapshots are logged and retried on a later tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	s.logger.Info("snapshot scheduler started", "check_interval", s.cfg.CheckInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("snapshot scheduler stopped")
			return nil
		case <-ticker.C:
		}

		if !s.policy.ShouldSnapshot(s.Progress()) {
			continue
		}

		snapCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		_, err := s.SnapshotNow(snapCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled snapshot failed", "error", err)
		}
	}
}

// Progress reports what changed since the last shipped snapshot.
func (s *Scheduler) Progress() storage.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	return storage.Progress{
		NewRecords:   s.src.Written() - s.lastWritten,
		LastSnapshot: s.lastSnapshot,
	}
}

// SnapshotNow takes and ships a snapshot regardless of the policy. An empty
// store is skipped and returns a nil Result.
func (s *Scheduler) SnapshotNow(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	written := s.src.Written()

	snap, err := s.src.Snapshot(ctx)
	if err != nil {
		s.observe(start, "failure")
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if snap.Length == 0 {
		s.logger.Debug("store is empty, skipping snapshot")
		return nil, nil
	}

	path := s.router.Route(snap.StoreID, snap.TakenAt.Unix())
	n, err := s.writer.Write(ctx, snap, path)
	if err != nil {
		s.observe(start, "failure")
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.lastWritten = written
	s.lastSnapshot = snap.TakenAt
	s.observe(start, "success")

	s.logger.Info("shipped snapshot",
		"store_id", snap.StoreID,
		"rows", snap.Length,
		"bytes", n,
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Path:      path,
		StoreRows: snap.Length,
		Bytes:     n,
		TakenAt:   snap.TakenAt,
	}, nil
}

func (s *Scheduler) observe(start time.Time, status string) {
	if s.metrics != nil {
		s.metrics.ObserveSnapshot(time.Since(start).Seconds(), status)
	}
}
