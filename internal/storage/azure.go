package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/jittakal/diskreplay/internal/encoder"
	pkgencoder "github.com/jittakal/diskreplay/pkg/encoder"
	"github.com/jittakal/diskreplay/pkg/replay"
	"github.com/jittakal/diskreplay/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

func validateAzureConfig(cfg AzureConfig) error {
	if cfg.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if cfg.AccountKey == "" {
		return fmt.Errorf("azure account key is required")
	}
	if cfg.ContainerName == "" {
		return fmt.Errorf("azure container name is required")
	}
	return nil
}

// azureConnectionString builds an access key connection string. A custom
// endpoint (e.g. Azurite) replaces the public endpoint suffix.
func azureConnectionString(cfg AzureConfig) string {
	if cfg.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		cfg.AccountName, cfg.AccountKey)
}

// AzureWriter implements storage.Writer for Azure Blob Storage.
type AzureWriter struct {
	client         *azblob.Client
	containerName  string
	format         pkgencoder.FileFormat
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	format pkgencoder.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	if err := validateAzureConfig(cfg); err != nil {
		return nil, err
	}

	client, err := azblob.NewClientFromConnectionString(azureConnectionString(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("Azure writer created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"format", format,
		"compression", compression,
	)

	return &AzureWriter{
		client:         client,
		containerName:  cfg.ContainerName,
		format:         format,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes the snapshot and uploads it as a blob. Path may be a
// wasbs://container/prefix/ URI or a bare blob prefix.
func (w *AzureWriter) Write(ctx context.Context, snap *replay.Snapshot, path string) (int64, error) {
	startTime := time.Now()

	encoded, err := encodeTemp(ctx, w.encoderFactory, snap, "azure")
	if err != nil {
		w.incError("encode")
		return 0, err
	}
	defer encoded.remove()

	blobPath := objectKey(path, "wasbs") + encoded.name

	file, err := os.Open(encoded.path)
	if err != nil {
		w.incError("file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	if _, err := w.client.UploadFile(ctx, w.containerName, blobPath, file, nil); err != nil {
		w.incError("upload")
		return 0, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote snapshot to Azure Blob",
		"container", w.containerName,
		"blob", blobPath,
		"store_rows", encoded.stats.StoreRows,
		"file_size", encoded.stats.SizeBytes,
		"format", w.format,
		"total_duration_ms", duration.Milliseconds(),
	)

	if w.metrics != nil {
		w.metrics.IncSnapshotsWritten("azure", string(w.format), "success")
		w.metrics.ObserveSnapshotSize("azure", string(w.format), float64(encoded.stats.SizeBytes))
		w.metrics.ObserveSnapshotWriteDuration("azure", duration.Seconds())
	}

	return encoded.stats.SizeBytes, nil
}

func (w *AzureWriter) incError(operation string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("azure", operation)
		w.metrics.IncSnapshotsWritten("azure", string(w.format), "failure")
	}
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.logger.Info("Azure writer closed")
	return nil
}
