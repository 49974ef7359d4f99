// Package prefetch implements the double-buffered, randomized read path.
//
// Two goroutines form a pipeline. The sampler draws ascending sets of unique
// row indices from [0, length) and queues them; it never touches the disk.
// The loader pops index sets, reads the rows through the source and queues
// the resulting batches. Sample pops one batch. Both queues are bounded, so
// each stage blocks when the next one falls behind.
package prefetch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/pkg/record"
)

// Source is what the loader reads from. The guard implements it.
type Source interface {
	Length() int
	ReadIndices(ctx context.Context, indices []int) (*record.Batch, error)
}

// MetricsCollector receives read path measurements.
type MetricsCollector interface {
	ObserveLoad(seconds float64, status string)
	SetReadQueueDepth(queue string, depth int)
	IncSamplerWaits()
}

// Config controls the read path.
type Config struct {
	BatchSize       int
	IndexQueueSize  int
	OutputQueueSize int
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	// Seed makes sampling reproducible. Zero picks a random seed.
	Seed uint64
}

// DefaultConfig returns the default read path settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:       32,
		IndexQueueSize:  8,
		OutputQueueSize: 50,
		MinBackoff:      5 * time.Millisecond,
		MaxBackoff:      500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.IndexQueueSize <= 0 {
		c.IndexQueueSize = d.IndexQueueSize
	}
	if c.OutputQueueSize <= 0 {
		c.OutputQueueSize = d.OutputQueueSize
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = d.MinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(d.MaxBackoff, c.MinBackoff)
	}
	return c
}

// Stats are cumulative read path counters.
type Stats struct {
	Sampled uint64
	Loaded  uint64
	Failed  uint64
	Served  uint64
}

type result struct {
	batch *record.Batch
	err   error
}

// Prefetcher runs the sampler and loader.
type Prefetcher struct {
	cfg     Config
	src     Source
	logger  *slog.Logger
	metrics MetricsCollector

	indexQueue chan record.IndexSet
	output     chan result

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	directMu  sync.Mutex
	directRng *rand.Rand

	sampled atomic.Uint64
	loaded  atomic.Uint64
	failed  atomic.Uint64
	served  atomic.Uint64
}

// New creates a prefetcher reading from src.
func New(cfg Config, src Source, metrics MetricsCollector, logger *slog.Logger) (*Prefetcher, error) {
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Prefetcher{
		cfg:        cfg,
		src:        src,
		logger:     logger,
		metrics:    metrics,
		indexQueue: make(chan record.IndexSet, cfg.IndexQueueSize),
		output:     make(chan result, cfg.OutputQueueSize),
		directRng:  newRand(cfg.Seed, 2),
	}, nil
}

// Start launches the sampler and loader. They run until Stop is called or
// ctx is cancelled.
func (p *Prefetcher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.ErrPrefetcherClosed
	}
	if p.started {
		return fmt.Errorf("prefetcher already started")
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go p.runSampler(ctx)
	go p.runLoader(ctx)

	p.logger.Info("read path started",
		"batch_size", p.cfg.BatchSize,
		"index_queue_size", p.cfg.IndexQueueSize,
		"output_queue_size", p.cfg.OutputQueueSize,
	)
	return nil
}

// Stop cancels both workers and waits for them. Batches already loaded
// remain available to Sample.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	cancel := p.cancel
	p.mu.Unlock()

	if !started {
		close(p.output)
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Info("read path stopped", "loaded", p.loaded.Load(), "served", p.served.Load())
}

// Sample returns the next prefetched batch, blocking until one is ready.
// A read failure in the loader is returned to exactly one caller. Once the
// prefetcher is stopped and its queue drained, ErrPrefetcherClosed is
// returned.
func (p *Prefetcher) Sample(ctx context.Context) (*record.Batch, error) {
	select {
	case r, ok := <-p.output:
		if !ok {
			return nil, errors.ErrPrefetcherClosed
		}
		if p.metrics != nil {
			p.metrics.SetReadQueueDepth("output", len(p.output))
		}
		if r.err != nil {
			return nil, r.err
		}
		p.served.Add(1)
		return r.batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoadNow samples and reads one batch synchronously, bypassing both queues.
// It fails with InsufficientDataError when fewer than BatchSize rows exist.
func (p *Prefetcher) LoadNow(ctx context.Context) (*record.Batch, error) {
	n := p.src.Length()
	if n < p.cfg.BatchSize {
		return nil, &errors.InsufficientDataError{Have: n, Want: p.cfg.BatchSize}
	}

	p.directMu.Lock()
	indices := SampleIndices(p.directRng, n, p.cfg.BatchSize)
	p.directMu.Unlock()

	return p.src.ReadIndices(ctx, indices)
}

// BatchSize returns the number of rows in every sampled batch.
func (p *Prefetcher) BatchSize() int { return p.cfg.BatchSize }

// Buffered returns the number of loaded batches waiting in the output queue.
func (p *Prefetcher) Buffered() int { return len(p.output) }

// Stats returns a snapshot of the counters.
func (p *Prefetcher) Stats() Stats {
	return Stats{
		Sampled: p.sampled.Load(),
		Loaded:  p.loaded.Load(),
		Failed:  p.failed.Load(),
		Served:  p.served.Load(),
	}
}

func (p *Prefetcher) runSampler(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.indexQueue)

	rng := newRand(p.cfg.Seed, 1)
	backoff := p.cfg.MinBackoff
	timer := time.NewTimer(backoff)
	timer.Stop()
	defer timer.Stop()

	for {
		n := p.src.Length()
		if n < p.cfg.BatchSize {
			if p.metrics != nil {
				p.metrics.IncSamplerWaits()
			}
			timer.Reset(backoff)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			backoff = min(backoff*2, p.cfg.MaxBackoff)
			continue
		}
		backoff = p.cfg.MinBackoff

		indices := SampleIndices(rng, n, p.cfg.BatchSize)
		select {
		case p.indexQueue <- indices:
			p.sampled.Add(1)
			if p.metrics != nil {
				p.metrics.SetReadQueueDepth("index", len(p.indexQueue))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prefetcher) runLoader(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.output)

	for {
		var indices record.IndexSet
		select {
		case <-ctx.Done():
			return
		case idx, ok := <-p.indexQueue:
			if !ok {
				return
			}
			indices = idx
		}

		start := time.Now()
		batch, err := p.src.ReadIndices(ctx, indices)
		if err != nil && ctx.Err() != nil {
			return
		}

		status := "success"
		if err != nil {
			status = "failure"
			p.failed.Add(1)
			p.logger.Error("failed to load sampled batch",
				"indices", len(indices),
				"error", err,
			)
		} else {
			p.loaded.Add(1)
		}
		if p.metrics != nil {
			p.metrics.ObserveLoad(time.Since(start).Seconds(), status)
		}

		select {
		case p.output <- result{batch: batch, err: err}:
		case <-ctx.Done():
			return
		}
	}
}
