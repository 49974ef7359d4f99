package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jittakal/diskreplay/internal/encoder"
	pkgencoder "github.com/jittakal/diskreplay/pkg/encoder"
	"github.com/jittakal/diskreplay/pkg/replay"
	"github.com/jittakal/diskreplay/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter implements storage.Writer for local filesystem storage.
// Snapshots land under BasePath at the routed directory, one file per call.
type FileWriter struct {
	basePath       string
	format         pkgencoder.FileFormat
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
	fileSequence   int    // Sequence counter for files created in the same second
	lastTimestamp  string // Last timestamp used for filename generation
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	format pkgencoder.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("filesystem writer created",
		"base_path", config.BasePath,
		"format", format,
		"compression", compression,
	)

	return &FileWriter{
		basePath:       config.BasePath,
		format:         format,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes the snapshot into a file below path.
func (w *FileWriter) Write(ctx context.Context, snap *replay.Snapshot, path string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	startTime := time.Now()

	fileEncoder, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		w.incError("encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	cleanPath := strings.TrimPrefix(path, "file://")

	// snapshot_YYYYMMDD_HHMMSS_NNN.{ext}, NNN counting files in the same second
	timestamp := startTime.Format("20060102_150405")
	if timestamp == w.lastTimestamp {
		w.fileSequence++
	} else {
		w.fileSequence = 1
		w.lastTimestamp = timestamp
	}
	filename := fmt.Sprintf("snapshot_%s_%03d%s", timestamp, w.fileSequence, fileEncoder.FileExtension())

	dir := filepath.Join(w.basePath, cleanPath)
	fullPath := filepath.Join(dir, filename)

	if err := os.MkdirAll(dir, 0755); err != nil {
		w.incError("mkdir")
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	// Encode next to the target and rename, so readers never see a partial file.
	tmpPath := fullPath + ".partial"
	stats, err := fileEncoder.Encode(ctx, tmpPath, snap)
	if err != nil {
		_ = os.Remove(tmpPath)
		w.incError("encode")
		return 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		w.incError("rename")
		return 0, fmt.Errorf("failed to publish snapshot: %w", err)
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote snapshot to file",
		"path", fullPath,
		"store_rows", stats.StoreRows,
		"record_count", stats.RecordCount,
		"file_size", stats.SizeBytes,
		"format", w.format,
		"total_duration_ms", duration.Milliseconds(),
	)

	if w.metrics != nil {
		w.metrics.IncSnapshotsWritten("file", string(w.format), "success")
		w.metrics.ObserveSnapshotSize("file", string(w.format), float64(stats.SizeBytes))
		w.metrics.ObserveSnapshotWriteDuration("file", duration.Seconds())
	}

	return stats.SizeBytes, nil
}

func (w *FileWriter) incError(operation string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("file", operation)
		w.metrics.IncSnapshotsWritten("file", string(w.format), "failure")
	}
}

// Close closes the writer.
func (w *FileWriter) Close() error {
	w.logger.Info("closing filesystem writer")
	return nil
}
