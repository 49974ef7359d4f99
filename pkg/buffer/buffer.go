// Package buffer defines interfaces for record accumulation.
//
// Buffers collect submitted records until a batch is ready to be written
// to the store in one call.
package buffer

import (
	"time"

	"github.com/jittakal/diskreplay/pkg/record"
)

// Stats describes the current contents of a buffer.
type Stats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// Buffer accumulates records before a batched write.
// All implementations must be thread-safe.
type Buffer interface {
	// Add appends a record.
	// Returns an error wrapping ErrBufferFull if a limit would be exceeded.
	Add(rec record.Record) error

	// Drain removes and returns all records in insertion order.
	// The buffer is reset after draining.
	Drain() []record.Record

	// Full reports whether the buffer has reached its record or size limit.
	Full() bool

	// Len returns the number of buffered records.
	Len() int

	// Stats returns current buffer statistics without modifying the buffer.
	Stats() Stats

	// IsEmpty returns true if the buffer contains no records.
	IsEmpty() bool

	// Reset clears the buffer and resets all statistics.
	Reset()
}
