// Package encoder defines interfaces for encoding store snapshots to various
// file formats.
package encoder

import (
	"context"
	"time"

	"github.com/jittakal/diskreplay/pkg/replay"
)

// FileFormat represents a snapshot file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// FileStats describes an encoded snapshot file.
type FileStats struct {
	// StoreRows is the number of store rows in the snapshot.
	StoreRows int
	// RecordCount is the number of long-form rows written (one per store
	// row and field).
	RecordCount int
	SizeBytes   int64
	EncodedAt   time.Time
}

// Encoder encodes snapshots to a specific file format.
type Encoder interface {
	// Encode streams the snapshot's rows to a file and returns file
	// statistics. It consumes snap.Rows.
	Encode(ctx context.Context, filePath string, snap *replay.Snapshot) (*FileStats, error)

	// Format returns the file format this encoder produces.
	Format() FileFormat

	// FileExtension returns the file extension (e.g., ".parquet", ".avro").
	FileExtension() string
}
