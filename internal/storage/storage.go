package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jittakal/diskreplay/internal/encoder"
	pkgencoder "github.com/jittakal/diskreplay/pkg/encoder"
	"github.com/jittakal/diskreplay/pkg/replay"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncSnapshotsWritten(backend string, format string, status string)
	ObserveSnapshotSize(backend string, format string, size float64)
	ObserveSnapshotWriteDuration(backend string, duration float64)
	IncStorageErrors(backend string, operation string)
}

// objectKey strips "scheme://bucket/" from path and returns the remaining
// key prefix. Paths without the scheme are returned unchanged.
func objectKey(path, scheme string) string {
	prefix := scheme + "://"
	if !strings.HasPrefix(path, prefix) {
		return strings.TrimPrefix(path, "/")
	}
	parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

// snapshotFilename returns snapshot_YYYYMMDD_HHMMSS_NNN{ext} where NNN is
// the millisecond.
func snapshotFilename(now time.Time, ext string) string {
	return fmt.Sprintf("snapshot_%s_%03d%s", now.Format("20060102_150405"), now.Nanosecond()/1000000, ext)
}

// encodedFile is a snapshot encoded into a temporary file.
type encodedFile struct {
	path  string
	name  string
	stats *pkgencoder.FileStats
}

func (f *encodedFile) remove() { os.Remove(f.path) }

// encodeTemp encodes snap into a temporary file named after backend. Callers
// must remove it.
func encodeTemp(ctx context.Context, factory *encoder.Factory, snap *replay.Snapshot, backend string) (*encodedFile, error) {
	enc, err := factory.CreateEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	now := time.Now()
	f := &encodedFile{
		path: filepath.Join(os.TempDir(), fmt.Sprintf("%s-upload-%d%s", backend, now.UnixNano(), enc.FileExtension())),
		name: snapshotFilename(now, enc.FileExtension()),
	}
	f.stats, err = enc.Encode(ctx, f.path, snap)
	if err != nil {
		f.remove()
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return f, nil
}

// contentType returns the upload content type for a format.
func contentType(format pkgencoder.FileFormat) string {
	if format == pkgencoder.FormatAvro {
		return "application/avro"
	}
	return "application/octet-stream"
}
