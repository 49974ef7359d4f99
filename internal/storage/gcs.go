package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/jittakal/diskreplay/internal/encoder"
	pkgencoder "github.com/jittakal/diskreplay/pkg/encoder"
	"github.com/jittakal/diskreplay/pkg/replay"
	pkgstorage "github.com/jittakal/diskreplay/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool

	// WithoutAuthentication is for emulators.
	WithoutAuthentication bool
}

func validateGCSConfig(cfg GCSConfig) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// gcsClientOptions picks the authentication method.
func gcsClientOptions(cfg GCSConfig, logger *slog.Logger) []option.ClientOption {
	var clientOpts []option.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.WithoutAuthentication:
		clientOpts = append(clientOpts, option.WithoutAuthentication())
		logger.Info("using unauthenticated GCS client")
	case cfg.UseDefaultCredential:
		// GOOGLE_APPLICATION_CREDENTIALS or the default service account
		logger.Info("using default GCP credentials")
	case cfg.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", "file", cfg.CredentialsFile)
	default:
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}
	return clientOpts
}

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	client         *storage.Client
	bucket         string
	format         pkgencoder.FileFormat
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	ctx context.Context,
	cfg GCSConfig,
	format pkgencoder.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	if err := validateGCSConfig(cfg); err != nil {
		return nil, err
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	client, err := storage.NewClient(ctx, gcsClientOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS writer created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
		"format", format,
		"compression", compression,
	)

	return &GCSWriter{
		client:         client,
		bucket:         cfg.Bucket,
		format:         format,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes the snapshot and uploads it to GCS. Path may be a
// gs://bucket/prefix/ URI or a bare object prefix.
func (w *GCSWriter) Write(ctx context.Context, snap *replay.Snapshot, path string) (int64, error) {
	startTime := time.Now()

	encoded, err := encodeTemp(ctx, w.encoderFactory, snap, "gcs")
	if err != nil {
		w.incError("encode")
		return 0, err
	}
	defer encoded.remove()

	objectPath := objectKey(path, "gs") + encoded.name

	file, err := os.Open(encoded.path)
	if err != nil {
		w.incError("file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	gcsWriter := w.client.Bucket(w.bucket).Object(objectPath).NewWriter(ctx)
	gcsWriter.ContentType = contentType(w.format)

	bytesWritten, err := io.Copy(gcsWriter, file)
	if err != nil {
		w.incError("upload")
		gcsWriter.Close()
		return 0, fmt.Errorf("failed to write to GCS: %w", err)
	}

	// Close finalizes the upload
	if err := gcsWriter.Close(); err != nil {
		w.incError("close")
		return 0, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote snapshot to GCS",
		"bucket", w.bucket,
		"object", objectPath,
		"store_rows", encoded.stats.StoreRows,
		"bytes_written", bytesWritten,
		"format", w.format,
		"total_duration_ms", duration.Milliseconds(),
	)

	if w.metrics != nil {
		w.metrics.IncSnapshotsWritten("gcs", string(w.format), "success")
		w.metrics.ObserveSnapshotSize("gcs", string(w.format), float64(bytesWritten))
		w.metrics.ObserveSnapshotWriteDuration("gcs", duration.Seconds())
	}

	return bytesWritten, nil
}

func (w *GCSWriter) incError(operation string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("gcs", operation)
		w.metrics.IncSnapshotsWritten("gcs", string(w.format), "failure")
	}
}

// Close closes the GCS writer.
func (w *GCSWriter) Close() error {
	w.logger.Info("closing GCS writer")
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
