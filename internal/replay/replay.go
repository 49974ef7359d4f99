// Package replay wires the circular store, guard, write path and read path
// into one replay buffer.
//
// Construction order is guard first (which initializes or reopens the
// store), then the write path, then the read path. Stop runs the reverse:
// the write path drains, the read path halts, and the guard closes the
// store.
package replay

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/internal/guard"
	"github.com/jittakal/diskreplay/internal/prefetch"
	"github.com/jittakal/diskreplay/internal/store"
	"github.com/jittakal/diskreplay/internal/writer"
	"github.com/jittakal/diskreplay/pkg/record"
	"github.com/jittakal/diskreplay/pkg/replay"
)

// Ensure implementation satisfies interface at compile time.
var _ replay.Buffer = (*Buffer)(nil)

// MetricsCollector is everything the buffer and its workers report.
type MetricsCollector interface {
	guard.MetricsCollector
	writer.MetricsCollector
	prefetch.MetricsCollector
	SetStoreLength(length int)
	SetStoreCursor(cursor int)
}

// Config describes a replay buffer.
type Config struct {
	Dir      string
	Capacity int
	Schema   record.Schema
	Store    store.Options
	Writer   writer.Config
	Prefetch prefetch.Config

	// LockFile adds a cross-process lock. Empty means in-process only.
	LockFile string

	// Reopen keeps the rows of an existing store at Dir instead of
	// truncating it. The stored schema must match Schema.
	Reopen bool

	// GaugeInterval is how often length and cursor gauges are refreshed.
	GaugeInterval time.Duration

	// SnapshotWindow is the number of rows a snapshot reads per lock
	// acquisition. Zero sizes windows to about DefaultSnapshotWindowBytes.
	SnapshotWindow int
}

// DefaultSnapshotWindowBytes bounds one snapshot window when
// Config.SnapshotWindow is unset.
const DefaultSnapshotWindowBytes = 4 << 20

// Stats combines the counters of both paths.
type Stats struct {
	Length   int
	Cursor   int
	Capacity int
	Writer   writer.Stats
	Prefetch prefetch.Stats
}

// Buffer is a disk-backed replay buffer.
type Buffer struct {
	cfg        Config
	guard      *guard.Guard
	writer     *writer.BatchWriter
	prefetcher *prefetch.Prefetcher
	logger     *slog.Logger
	metrics    MetricsCollector

	mu        sync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds the buffer and prepares its store on disk. Workers are not
// running until Start.
func New(ctx context.Context, cfg Config, metrics MetricsCollector, logger *slog.Logger) (*Buffer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Schema.Validate(); err != nil {
		return nil, &errors.SchemaError{Reason: "invalid schema", Err: err}
	}
	// Unset batch sizes default to the path default, capped at capacity.
	if cfg.Writer.BatchSize <= 0 {
		cfg.Writer.BatchSize = min(writer.DefaultConfig().BatchSize, cfg.Capacity)
	}
	if cfg.Prefetch.BatchSize <= 0 {
		cfg.Prefetch.BatchSize = min(prefetch.DefaultConfig().BatchSize, cfg.Capacity)
	}
	if cfg.Writer.BatchSize > cfg.Capacity {
		return nil, &errors.RangeError{Operation: "writer_batch_size", Value: cfg.Writer.BatchSize, Limit: cfg.Capacity}
	}
	if cfg.Prefetch.BatchSize > cfg.Capacity {
		return nil, &errors.RangeError{Operation: "prefetch_batch_size", Value: cfg.Prefetch.BatchSize, Limit: cfg.Capacity}
	}
	if cfg.GaugeInterval <= 0 {
		cfg.GaugeInterval = time.Second
	}

	st, err := store.New(cfg.Dir, cfg.Capacity, cfg.Store, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	var guardMetrics guard.MetricsCollector
	if metrics != nil {
		guardMetrics = metrics
	}
	g, err := guard.New(st, guard.Options{LockFile: cfg.LockFile}, guardMetrics, logger.With("component", "guard"))
	if err != nil {
		return nil, fmt.Errorf("failed to create guard: %w", err)
	}

	if err := prepare(ctx, g, cfg, logger); err != nil {
		g.Close()
		return nil, err
	}

	var writerMetrics writer.MetricsCollector
	var prefetchMetrics prefetch.MetricsCollector
	if metrics != nil {
		writerMetrics = metrics
		prefetchMetrics = metrics
	}

	w, err := writer.New(cfg.Writer, g.Schema(), g, writerMetrics, logger.With("component", "writer"))
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("failed to create write path: %w", err)
	}
	p, err := prefetch.New(cfg.Prefetch, g, prefetchMetrics, logger.With("component", "prefetch"))
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("failed to create read path: %w", err)
	}

	return &Buffer{
		cfg:        cfg,
		guard:      g,
		writer:     w,
		prefetcher: p,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// prepare initializes the store, or reopens it when configured to.
func prepare(ctx context.Context, g *guard.Guard, cfg Config, logger *slog.Logger) error {
	if !cfg.Reopen {
		return g.Initialize(ctx, cfg.Schema)
	}

	err := g.Open(ctx)
	switch {
	case stderrors.Is(err, errors.ErrNotInitialized):
		logger.Info("no existing store, initializing", "path", cfg.Dir)
		return g.Initialize(ctx, cfg.Schema)
	case err != nil:
		return err
	}

	// Field order in a hand-built schema is not significant.
	stored := record.NewSchema(g.Schema().Fields...)
	if !stored.Equal(record.NewSchema(cfg.Schema.Fields...)) {
		return &errors.SchemaError{
			Reason: fmt.Sprintf("existing store schema %v does not match configured %v", g.Schema().Fields, cfg.Schema.Fields),
			Err:    errors.ErrStoreIncompatible,
		}
	}
	return nil
}

// Start launches the write path, the read path and gauge reporting.
func (b *Buffer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return errors.ErrStoreClosed
	}
	if b.started {
		return nil
	}

	if err := b.writer.Start(); err != nil {
		return fmt.Errorf("failed to start write path: %w", err)
	}
	if err := b.prefetcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start read path: %w", err)
	}

	ctx, b.cancel = context.WithCancel(ctx)
	if b.metrics != nil {
		b.wg.Add(1)
		go b.reportGauges(ctx)
	}

	b.started = true
	b.startedAt = time.Now()
	b.logger.Info("replay buffer started",
		"path", b.cfg.Dir,
		"capacity", b.guard.Capacity(),
		"length", b.guard.Length(),
	)
	return nil
}

// Stop drains the write path, stops the read path and closes the store.
// It is safe to call more than once.
func (b *Buffer) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()

	var errs []error
	if err := b.writer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	b.prefetcher.Stop()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	if err := b.guard.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}

	b.logger.Info("replay buffer stopped", "length", b.guard.Length())
	return stderrors.Join(errs...)
}

// Drain stops accepting records and waits until everything queued has been
// flushed. Reads and snapshots keep working until Stop.
func (b *Buffer) Drain(ctx context.Context) error {
	return b.writer.Stop(ctx)
}

// Submit queues a record for the write path.
func (b *Buffer) Submit(ctx context.Context, rec record.Record) error {
	return b.writer.Submit(ctx, rec)
}

// Sample returns the next prefetched batch.
func (b *Buffer) Sample(ctx context.Context) (*record.Batch, error) {
	return b.prefetcher.Sample(ctx)
}

// SampleNow samples and reads a batch synchronously.
func (b *Buffer) SampleNow(ctx context.Context) (*record.Batch, error) {
	return b.prefetcher.LoadNow(ctx)
}

// ReadIndices reads specific rows through the guard.
func (b *Buffer) ReadIndices(ctx context.Context, indices []int) (*record.Batch, error) {
	return b.guard.ReadIndices(ctx, indices)
}

// Snapshot records the store's length and identity under the lock. Its
// rows are read later, one window per lock acquisition, so writes and
// prefetch loads interleave with an export. Rows [0, Length) stay valid as
// the length never shrinks; a row overwritten mid-export is exported with
// its newer contents.
func (b *Buffer) Snapshot(ctx context.Context) (*replay.Snapshot, error) {
	var snap *replay.Snapshot
	err := b.guard.Do(ctx, "snapshot", func(st *store.CircularStore) error {
		snap = &replay.Snapshot{
			StoreID:  st.ID(),
			Capacity: st.Capacity(),
			Length:   st.Length(),
			Cursor:   st.Cursor(),
			Schema:   st.Schema(),
			TakenAt:  time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap.Rows = &windowReader{
		guard:  b.guard,
		length: snap.Length,
		window: b.snapshotWindow(snap.Schema),
	}
	return snap, nil
}

func (b *Buffer) snapshotWindow(schema record.Schema) int {
	if b.cfg.SnapshotWindow > 0 {
		return b.cfg.SnapshotWindow
	}
	return max(1, DefaultSnapshotWindowBytes/max(1, schema.RowBytes()))
}

// windowReader reads snapshot rows in storage order.
type windowReader struct {
	guard  *guard.Guard
	length int
	window int
	next   int
}

func (r *windowReader) Next(ctx context.Context) (*record.Batch, error) {
	if r.next >= r.length {
		return nil, io.EOF
	}
	count := min(r.window, r.length-r.next)

	var batch *record.Batch
	err := r.guard.Do(ctx, "snapshot", func(st *store.CircularStore) error {
		var err error
		batch, err = st.ReadRange(r.next, count)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.next += count
	return batch, nil
}

// Len returns a snapshot of the number of readable rows.
func (b *Buffer) Len() int { return b.guard.Length() }

// Cap returns the store capacity.
func (b *Buffer) Cap() int { return b.guard.Capacity() }

// Schema returns the record schema.
func (b *Buffer) Schema() record.Schema { return b.guard.Schema() }

// Written returns the number of records persisted since the buffer was
// created.
func (b *Buffer) Written() uint64 { return b.writer.Stats().FlushedRecords }

// Errors publishes write path failures.
func (b *Buffer) Errors() <-chan error { return b.writer.Errors() }

// Stats returns combined counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Length:   b.guard.Length(),
		Cursor:   b.guard.Cursor(),
		Capacity: b.guard.Capacity(),
		Writer:   b.writer.Stats(),
		Prefetch: b.prefetcher.Stats(),
	}
}

// Liveness reports whether the buffer has not been stopped.
func (b *Buffer) Liveness() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.stopped
}

// Readiness reports whether the buffer is serving. It is ready while
// running, with the store open and the write path healthy.
func (b *Buffer) Readiness(ctx context.Context) bool {
	b.mu.Lock()
	running := b.started && !b.stopped
	b.mu.Unlock()
	return running && b.IsHealthy()
}

// IsHealthy reports whether the store is open and the write path healthy.
func (b *Buffer) IsHealthy() bool {
	return b.guard.Ready() && b.writer.Healthy()
}

// GetStatus returns per-component status for the readiness response.
func (b *Buffer) GetStatus() map[string]string {
	status := map[string]string{
		"store":          "open",
		"writer":         "healthy",
		"length":         fmt.Sprintf("%d/%d", b.guard.Length(), b.guard.Capacity()),
		"pending_writes": strconv.Itoa(b.writer.Pending()),
		"prefetched":     strconv.Itoa(b.prefetcher.Buffered()),
	}
	if !b.guard.Ready() {
		status["store"] = "closed"
	}
	if !b.writer.Healthy() {
		status["writer"] = fmt.Sprintf("unhealthy: %d consecutive failed flushes", b.writer.ConsecutiveFailures())
	}

	b.mu.Lock()
	if b.started && !b.stopped {
		status["uptime"] = time.Since(b.startedAt).Truncate(time.Second).String()
	}
	b.mu.Unlock()
	return status
}

func (b *Buffer) reportGauges(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.GaugeInterval)
	defer ticker.Stop()

	for {
		b.metrics.SetStoreLength(b.guard.Length())
		b.metrics.SetStoreCursor(b.guard.Cursor())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
