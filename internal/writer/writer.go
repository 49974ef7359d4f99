// Package writer implements the asynchronous, batched write path.
//
// Producers Submit records onto a bounded queue and return as soon as the
// record is queued. A single worker accumulates records and writes them to
// the store in one call when the batch is full or no record has arrived for
// the idle timeout. Stop drains everything already queued before returning.
//
// A failed write is logged and the batch is dropped; the failure is also
// published on Errors() and counted toward Healthy().
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jittakal/diskreplay/internal/buffer"
	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/internal/validator"
	"github.com/jittakal/diskreplay/pkg/record"
)

// BatchSink is where flushed batches go. The guard implements it.
type BatchSink interface {
	WriteBatch(ctx context.Context, records []record.Record) (record.Placement, error)
}

// MetricsCollector receives write path measurements.
type MetricsCollector interface {
	IncRecordsSubmitted()
	ObserveFlush(records int, seconds float64, status string)
	IncRecordsDropped(reason string, count int)
	SetWriteQueueDepth(depth int)
}

// Config controls batching and failure handling.
type Config struct {
	BatchSize              int
	QueueSize              int
	MaxBatchBytes          int64
	IdleTimeout            time.Duration
	FlushTimeout           time.Duration
	MaxConsecutiveFailures int
	ErrorBuffer            int
}

// DefaultConfig returns the default write path settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:              32,
		QueueSize:              64,
		IdleTimeout:            3 * time.Second,
		FlushTimeout:           30 * time.Second,
		MaxConsecutiveFailures: 5,
		ErrorBuffer:            16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 2 * c.BatchSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.ErrorBuffer <= 0 {
		c.ErrorBuffer = d.ErrorBuffer
	}
	return c
}

// Stats are cumulative write path counters.
type Stats struct {
	Submitted      uint64
	FlushedRecords uint64
	FlushedBatches uint64
	FailedBatches  uint64
	DroppedRecords uint64
}

// BatchWriter is the write path worker.
type BatchWriter struct {
	cfg       Config
	sink      BatchSink
	validator *validator.SchemaValidator
	buf       *buffer.BatchBuffer
	logger    *slog.Logger
	metrics   MetricsCollector

	input    chan record.Record
	errs     chan error
	stopping chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex // guards closed, started and sends on input
	closed  bool
	started bool

	consecutiveFailures atomic.Int64
	submitted           atomic.Uint64
	flushedRecords      atomic.Uint64
	flushedBatches      atomic.Uint64
	failedBatches       atomic.Uint64
	droppedRecords      atomic.Uint64
}

// New creates a writer for schema that flushes into sink.
func New(cfg Config, schema record.Schema, sink BatchSink, metrics MetricsCollector, logger *slog.Logger) (*BatchWriter, error) {
	if sink == nil {
		return nil, fmt.Errorf("batch sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &BatchWriter{
		cfg:       cfg,
		sink:      sink,
		validator: validator.NewSchemaValidator(schema),
		buf:       buffer.New(cfg.MaxBatchBytes, cfg.BatchSize),
		logger:    logger,
		metrics:   metrics,
		input:     make(chan record.Record, cfg.QueueSize),
		errs:      make(chan error, cfg.ErrorBuffer),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the worker.
func (w *BatchWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}
	if w.started {
		return fmt.Errorf("writer already started")
	}
	w.started = true

	go w.run()

	w.logger.Info("write path started",
		"batch_size", w.cfg.BatchSize,
		"queue_size", w.cfg.QueueSize,
		"idle_timeout", w.cfg.IdleTimeout,
	)
	return nil
}

// Submit validates rec and queues it, blocking while the queue is full.
// Schema problems are returned immediately and the record is not queued.
func (w *BatchWriter) Submit(ctx context.Context, rec record.Record) error {
	if err := w.validator.Validate(rec); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	select {
	case w.input <- rec:
		w.submitted.Add(1)
		if w.metrics != nil {
			w.metrics.IncRecordsSubmitted()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopping:
		return errors.ErrWriterClosed
	}
}

// Stop refuses new records, waits for the worker to flush everything that
// was queued, and returns. ctx bounds the wait. A writer that was never
// started flushes its queue here.
func (w *BatchWriter) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() {
		close(w.stopping)

		w.mu.Lock()
		w.closed = true
		close(w.input)
		started := w.started
		w.mu.Unlock()

		// Records accepted before Start still reach the sink.
		if !started {
			go w.run()
		}
	})

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("write path did not drain: %w", ctx.Err())
	}
}

// Done is closed once the worker has exited.
func (w *BatchWriter) Done() <-chan struct{} { return w.done }

// Errors publishes flush failures as *errors.FlushError. Sends never block;
// failures are dropped when the channel is full. It is closed after Stop.
func (w *BatchWriter) Errors() <-chan error { return w.errs }

// Healthy reports whether fewer than MaxConsecutiveFailures flushes in a
// row have failed.
func (w *BatchWriter) Healthy() bool {
	return w.consecutiveFailures.Load() < int64(w.cfg.MaxConsecutiveFailures)
}

// ConsecutiveFailures returns the current run of failed flushes.
func (w *BatchWriter) ConsecutiveFailures() int {
	return int(w.consecutiveFailures.Load())
}

// Pending returns the number of records queued or buffered but not yet
// flushed.
func (w *BatchWriter) Pending() int {
	return len(w.input) + w.buf.Len()
}

// Stats returns a snapshot of the counters.
func (w *BatchWriter) Stats() Stats {
	return Stats{
		Submitted:      w.submitted.Load(),
		FlushedRecords: w.flushedRecords.Load(),
		FlushedBatches: w.flushedBatches.Load(),
		FailedBatches:  w.failedBatches.Load(),
		DroppedRecords: w.droppedRecords.Load(),
	}
}

func (w *BatchWriter) run() {
	defer close(w.done)
	defer close(w.errs)

	idle := time.NewTimer(w.cfg.IdleTimeout)
	idle.Stop()
	defer idle.Stop()

	for {
		select {
		case rec, ok := <-w.input:
			if !ok {
				w.flush("shutdown")
				w.logger.Info("write path stopped", "flushed_records", w.flushedRecords.Load())
				return
			}

			if err := w.buf.Add(rec); err != nil {
				// Only reachable with a byte limit: flush and retry once.
				w.flush("size")
				if err := w.buf.Add(rec); err != nil {
					w.drop("buffer", 1, err)
					continue
				}
			}

			if w.buf.Full() {
				idle.Stop()
				w.flush("full")
				continue
			}
			idle.Reset(w.cfg.IdleTimeout)

		case <-idle.C:
			w.flush("idle")
		}
	}
}

func (w *BatchWriter) flush(reason string) {
	records := w.buf.Drain()
	if w.metrics != nil {
		w.metrics.SetWriteQueueDepth(len(w.input))
	}
	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
	defer cancel()

	start := time.Now()
	placement, err := w.sink.WriteBatch(ctx, records)
	duration := time.Since(start)

	if err != nil {
		failures := w.consecutiveFailures.Add(1)
		w.failedBatches.Add(1)
		if w.metrics != nil {
			w.metrics.ObserveFlush(len(records), duration.Seconds(), "failure")
		}

		w.logger.Error("dropped batch after failed write",
			"records", len(records),
			"reason", reason,
			"fields", fieldNames(records[0]),
			"consecutive_failures", failures,
			"retryable", errors.IsRetryable(err),
			"error", err,
		)
		if failures == int64(w.cfg.MaxConsecutiveFailures) {
			w.logger.Error("write path unhealthy: store writes keep failing",
				"consecutive_failures", failures)
		}

		w.drop("flush", len(records), nil)
		w.publish(&errors.FlushError{Records: len(records), Err: err})
		return
	}

	w.consecutiveFailures.Store(0)
	w.flushedRecords.Add(uint64(len(records)))
	w.flushedBatches.Add(1)
	if w.metrics != nil {
		w.metrics.ObserveFlush(len(records), duration.Seconds(), "success")
	}

	w.logger.Debug("flushed batch",
		"records", len(records),
		"reason", reason,
		"start", placement.Start,
		"wrapped", placement.Wrapped,
		"duration", duration,
	)
}

func (w *BatchWriter) drop(reason string, count int, err error) {
	w.droppedRecords.Add(uint64(count))
	if w.metrics != nil {
		w.metrics.IncRecordsDropped(reason, count)
	}
	if err != nil {
		w.logger.Warn("dropped record", "reason", reason, "error", err)
	}
}

func (w *BatchWriter) publish(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

func fieldNames(rec record.Record) []string {
	names := make([]string, 0, len(rec))
	for name := range rec {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
