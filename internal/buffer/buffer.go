// Package buffer implements record buffering for batched store writes.
package buffer

import (
	"fmt"
	"sync"
	"time"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/pkg/buffer"
	"github.com/jittakal/diskreplay/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.Buffer = (*BatchBuffer)(nil)

// BatchBuffer accumulates records for the write path.
// It provides thread-safe buffering with a record count limit and an
// optional byte limit. First and last write times drive idle flushing.
type BatchBuffer struct {
	records        []record.Record
	maxSizeBytes   int64
	maxRecords     int
	currentSize    int64
	firstWriteTime time.Time
	lastWriteTime  time.Time
	mu             sync.RWMutex
}

// New creates a new batch buffer. A maxSizeBytes of zero disables the byte
// limit.
func New(maxSizeBytes int64, maxRecords int) *BatchBuffer {
	if maxRecords <= 0 {
		maxRecords = 1
	}
	return &BatchBuffer{
		records:      make([]record.Record, 0, maxRecords),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// Add adds a record to the buffer.
func (b *BatchBuffer) Add(rec record.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	recordSize := int64(EstimateSize(rec))

	if len(b.records) >= b.maxRecords {
		return fmt.Errorf("%w: max records (%d) reached", errors.ErrBufferFull, b.maxRecords)
	}

	// An empty buffer always accepts one record so oversized records still
	// make progress.
	if b.maxSizeBytes > 0 && len(b.records) > 0 && b.currentSize+recordSize > b.maxSizeBytes {
		return fmt.Errorf("%w: max size (%d bytes) would be exceeded", errors.ErrBufferFull, b.maxSizeBytes)
	}

	b.records = append(b.records, rec)
	b.currentSize += recordSize

	now := time.Now()
	if b.firstWriteTime.IsZero() {
		b.firstWriteTime = now
	}
	b.lastWriteTime = now

	return nil
}

// Drain removes and returns all records from the buffer.
// The returned slice is owned by the caller and will not be modified by the buffer.
func (b *BatchBuffer) Drain() []record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.records
	b.reset()
	return records
}

// Full reports whether no further record can be added without a drain.
func (b *BatchBuffer) Full() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.records) >= b.maxRecords {
		return true
	}
	return b.maxSizeBytes > 0 && b.currentSize >= b.maxSizeBytes
}

// Len returns the number of buffered records.
func (b *BatchBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Stats returns current buffer statistics.
func (b *BatchBuffer) Stats() buffer.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return buffer.Stats{
		RecordCount:    len(b.records),
		SizeBytes:      b.currentSize,
		FirstWriteTime: b.firstWriteTime,
		LastWriteTime:  b.lastWriteTime,
	}
}

// IsEmpty returns true if the buffer is empty.
func (b *BatchBuffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records) == 0
}

// Reset clears the buffer and resets all statistics.
func (b *BatchBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *BatchBuffer) reset() {
	b.records = make([]record.Record, 0, b.maxRecords)
	b.currentSize = 0
	b.firstWriteTime = time.Time{}
	b.lastWriteTime = time.Time{}
}

// EstimateSize estimates the encoded size of a record in bytes.
func EstimateSize(rec record.Record) int {
	size := 0
	for name, v := range rec {
		size += len(name)
		switch x := v.(type) {
		case []float32:
			size += 4 * len(x)
		case []float64:
			size += 8 * len(x)
		case []int32:
			size += 4 * len(x)
		case []int64:
			size += 8 * len(x)
		case []uint8:
			size += len(x)
		case []int:
			size += 8 * len(x)
		case []bool:
			size += len(x)
		case []any:
			size += 8 * len(x)
		case float32, int32:
			size += 4
		case bool, uint8:
			size++
		default:
			size += 8
		}
	}
	return size
}
