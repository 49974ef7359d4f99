// Package guard serializes every operation on a circular store behind one
// exclusive lock.
//
// Reads and writes are mutually exclusive; there is no reader/writer split.
// The in-process lock can optionally be backed by an advisory file lock so
// several processes can share one store directory. With a file lock, cursor
// and length are reloaded from disk each time the lock is taken.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/internal/store"
	"github.com/jittakal/diskreplay/pkg/record"
)

// MetricsCollector receives lock wait timings.
type MetricsCollector interface {
	ObserveLockWait(operation string, seconds float64)
}

// Options configures a Guard.
type Options struct {
	// LockFile, when set, backs the guard with a cross-process flock on
	// this path.
	LockFile string
	// PollInterval is the retry interval for a contended file lock.
	PollInterval time.Duration
}

// Guard wraps a CircularStore so that each call runs under the lock, with
// the store write and its cursor/length update as one step.
type Guard struct {
	store   *store.CircularStore
	sem     chan struct{}
	file    *FileLock
	logger  *slog.Logger
	metrics MetricsCollector
	closed  atomic.Bool
}

// New creates a guard around st. st must not be used directly afterwards.
func New(st *store.CircularStore, opts Options, metrics MetricsCollector, logger *slog.Logger) (*Guard, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		store:   st,
		sem:     make(chan struct{}, 1),
		logger:  logger,
		metrics: metrics,
	}

	if opts.LockFile != "" {
		fl, err := NewFileLock(opts.LockFile, opts.PollInterval)
		if err != nil {
			return nil, err
		}
		g.file = fl
		logger.Info("using cross-process lock", "path", opts.LockFile)
	}
	return g, nil
}

// acquire takes the in-process lock and then the file lock, if any. The
// returned function releases both.
func (g *Guard) acquire(ctx context.Context, operation string) (func(), error) {
	start := time.Now()

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrLockNotAcquired, operation, ctx.Err())
	}

	if g.closed.Load() {
		<-g.sem
		return nil, errors.ErrStoreClosed
	}

	if g.file != nil {
		if err := g.file.Lock(ctx); err != nil {
			<-g.sem
			return nil, err
		}
		// Another process may have written since we last held the lock.
		if err := g.store.Refresh(); err != nil {
			g.unlockFile()
			<-g.sem
			return nil, err
		}
	}

	if g.metrics != nil {
		g.metrics.ObserveLockWait(operation, time.Since(start).Seconds())
	}

	return func() {
		if g.file != nil {
			g.unlockFile()
		}
		<-g.sem
	}, nil
}

func (g *Guard) unlockFile() {
	if err := g.file.Unlock(); err != nil {
		g.logger.Error("failed to release file lock", "path", g.file.Path(), "error", err)
	}
}

// Initialize creates the store's files for schema.
func (g *Guard) Initialize(ctx context.Context, schema record.Schema) error {
	release, err := g.acquire(ctx, "initialize")
	if err != nil {
		return err
	}
	defer release()
	return g.store.Initialize(schema)
}

// Open attaches to an existing store on disk.
func (g *Guard) Open(ctx context.Context) error {
	release, err := g.acquire(ctx, "open")
	if err != nil {
		return err
	}
	defer release()
	return g.store.Open()
}

// WriteBatch writes records and advances cursor and length under the lock.
func (g *Guard) WriteBatch(ctx context.Context, records []record.Record) (record.Placement, error) {
	release, err := g.acquire(ctx, "write")
	if err != nil {
		return record.Placement{}, err
	}
	defer release()
	return g.store.WriteBatch(records)
}

// ReadIndices reads rows under the lock. Indices are checked against the
// length observed while the lock is held.
func (g *Guard) ReadIndices(ctx context.Context, indices []int) (*record.Batch, error) {
	release, err := g.acquire(ctx, "read")
	if err != nil {
		return nil, err
	}
	defer release()
	return g.store.ReadIndices(indices)
}

// Do runs fn with exclusive access to the store.
func (g *Guard) Do(ctx context.Context, operation string, fn func(*store.CircularStore) error) error {
	release, err := g.acquire(ctx, operation)
	if err != nil {
		return err
	}
	defer release()
	return fn(g.store)
}

// Length returns a lock-free snapshot of the logical length. With a file
// lock it reflects other processes as of the last acquire.
func (g *Guard) Length() int { return g.store.Length() }

// Cursor returns a lock-free snapshot of the write cursor.
func (g *Guard) Cursor() int { return g.store.Cursor() }

// Capacity returns the store capacity.
func (g *Guard) Capacity() int { return g.store.Capacity() }

// Schema returns the store schema.
func (g *Guard) Schema() record.Schema { return g.store.Schema() }

// Ready reports whether the underlying store is usable.
func (g *Guard) Ready() bool { return !g.closed.Load() && g.store.Ready() }

// Close waits for the in-flight operation, then closes the store and the
// lock file. Later calls fail with ErrStoreClosed.
func (g *Guard) Close() error {
	g.sem <- struct{}{}
	defer func() { <-g.sem }()

	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := g.store.Close()
	if g.file != nil {
		if cerr := g.file.Close(); cerr != nil && err == nil {
			err = &errors.IOError{Operation: "close", Path: g.file.Path(), Err: cerr}
		}
	}
	return err
}
