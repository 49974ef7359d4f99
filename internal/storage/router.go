// Package storage implements storage-related functionality.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/diskreplay/pkg/storage"
)

// Ensure implementations satisfy interfaces.
var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.SnapshotPolicy = (*CompositePolicy)(nil)
)

// DefaultRouter implements Hive-style partitioning for snapshot paths.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
}

// NewRouter creates a new storage router.
func NewRouter(protocol, bucket, basePath string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   bucket,
		basePath: strings.Trim(basePath, "/"),
	}
}

// Route returns the storage path for a store snapshot at the given timestamp.
// Format: protocol://bucket/basePath/storeID/dt=YYYY-MM-DD/
// An empty basePath is omitted.
func (r *DefaultRouter) Route(storeID string, timestamp int64) string {
	date := time.Unix(timestamp, 0).UTC().Format("2006-01-02")

	prefix := fmt.Sprintf("%s://%s/", r.protocol, r.bucket)
	if r.basePath != "" {
		prefix += r.basePath + "/"
	}
	return fmt.Sprintf("%s%s/dt=%s/", prefix, storeID, date)
}

// PolicyConfig configures when snapshots are taken. Zero disables a
// criterion.
type PolicyConfig struct {
	IntervalSeconds int
	MinNewRecords   int
}

// CompositePolicy snapshots when enough time has passed or enough records
// arrived, whichever comes first. Nothing is snapshotted without new records.
type CompositePolicy struct {
	interval      time.Duration
	minNewRecords uint64
}

// NewPolicy creates a new snapshot policy.
func NewPolicy(config PolicyConfig) *CompositePolicy {
	return &CompositePolicy{
		interval:      time.Duration(config.IntervalSeconds) * time.Second,
		minNewRecords: uint64(max(config.MinNewRecords, 0)),
	}
}

// ShouldSnapshot returns true if any snapshot condition is met.
func (p *CompositePolicy) ShouldSnapshot(progress storage.Progress) bool {
	if progress.NewRecords == 0 {
		return false
	}

	// Count-based
	if p.minNewRecords > 0 && progress.NewRecords >= p.minNewRecords {
		return true
	}

	// Time-based; a store never snapshotted counts as overdue.
	if p.interval > 0 {
		if progress.LastSnapshot.IsZero() || time.Since(progress.LastSnapshot) >= p.interval {
			return true
		}
	}

	return false
}
