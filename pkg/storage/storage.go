// Package storage defines interfaces for snapshot storage operations.
//
// This package provides abstractions for shipping replay store snapshots to
// various storage backends (S3, GCS, Azure Blob, local filesystem).
package storage

import (
	"context"
	"time"

	"github.com/jittakal/diskreplay/pkg/replay"
)

// Writer writes snapshots to storage.
type Writer interface {
	// Write encodes the snapshot and stores it under the given path.
	// Returns the number of bytes written.
	Write(ctx context.Context, snap *replay.Snapshot, path string) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage paths for snapshots.
type Router interface {
	// Route returns the storage directory for a store's snapshot taken at the
	// given Unix timestamp (seconds).
	Route(storeID string, timestamp int64) string
}

// Progress describes what happened since the last snapshot.
type Progress struct {
	// NewRecords is the number of records written since the last snapshot.
	NewRecords uint64
	// LastSnapshot is when the last snapshot was shipped. Zero if never.
	LastSnapshot time.Time
}

// SnapshotPolicy determines when a new snapshot should be taken.
type SnapshotPolicy interface {
	ShouldSnapshot(p Progress) bool
}
