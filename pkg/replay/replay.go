// Package replay defines the public interfaces of a disk-backed replay
// buffer.
//
// Producers see a Sink, consumers see a Source. Snapshot exporters see a
// Snapshotter.
package replay

import (
	"context"
	"io"
	"time"

	"github.com/jittakal/diskreplay/pkg/record"
)

// Sink accepts records for asynchronous, batched persistence.
type Sink interface {
	// Submit queues one record. It blocks while the write queue is full and
	// returns a SchemaError immediately for a malformed record.
	Submit(ctx context.Context, rec record.Record) error
}

// Source hands out randomly sampled batches.
type Source interface {
	// Sample blocks until a prefetched batch is available.
	Sample(ctx context.Context) (*record.Batch, error)

	// SampleNow reads a batch synchronously. It fails with an
	// InsufficientDataError when the store holds fewer rows than a batch.
	SampleNow(ctx context.Context) (*record.Batch, error)
}

// Snapshot describes the valid rows of a store at TakenAt. Rows streams
// rows [0, Length) in storage order and can be consumed once.
type Snapshot struct {
	StoreID  string
	Capacity int
	Length   int
	Cursor   int
	Schema   record.Schema
	Rows     RowReader
	TakenAt  time.Time
}

// RowReader yields snapshot rows as bounded windows.
type RowReader interface {
	// Next returns the next window of rows. It returns io.EOF after the
	// last window.
	Next(ctx context.Context) (*record.Batch, error)
}

// BatchReader serves an in-memory batch as a single window.
func BatchReader(batch *record.Batch) RowReader {
	return &batchReader{batch: batch}
}

type batchReader struct {
	batch *record.Batch
	done  bool
}

func (r *batchReader) Next(ctx context.Context) (*record.Batch, error) {
	if r.done || r.batch == nil {
		return nil, io.EOF
	}
	r.done = true
	return r.batch, nil
}

// Snapshotter produces snapshots.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Buffer is the full replay buffer surface.
type Buffer interface {
	Sink
	Source
	Snapshotter

	// Len returns a snapshot of the number of readable rows. It may be stale.
	Len() int

	// Cap returns the fixed capacity.
	Cap() int

	// Schema returns the record schema.
	Schema() record.Schema
}
