package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/diskreplay/internal/config"
	"github.com/jittakal/diskreplay/internal/config/dto"
	"github.com/jittakal/diskreplay/internal/encoder"
	apperrors "github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/internal/kafka"
	"github.com/jittakal/diskreplay/internal/observability"
	"github.com/jittakal/diskreplay/internal/prefetch"
	"github.com/jittakal/diskreplay/internal/replay"
	"github.com/jittakal/diskreplay/internal/server"
	"github.com/jittakal/diskreplay/internal/snapshot"
	"github.com/jittakal/diskreplay/internal/storage"
	"github.com/jittakal/diskreplay/internal/store"
	"github.com/jittakal/diskreplay/internal/writer"
	pkgencoder "github.com/jittakal/diskreplay/pkg/encoder"
	pkgstorage "github.com/jittakal/diskreplay/pkg/storage"
)

// Ensure the buffer serves the health and stats endpoints.
var (
	_ server.HealthChecker = (*replay.Buffer)(nil)
	_ server.StatsSource   = (*replay.Buffer)(nil)
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize observability
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:   cfg.Observability.Logging.Level,
		Format:  cfg.Observability.Logging.Format,
		Output:  cfg.Observability.Logging.Output,
		Service: cfg.Application.Name,
		Version: cfg.Application.Version,
	})
	logger.Info("starting replay store",
		"environment", cfg.Application.Environment,
		"path", cfg.Store.Path,
		"capacity", cfg.Store.Capacity,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Track cleanup functions, run in reverse order
	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, func() error {
			if err := fn(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
		logger.Debug("registered cleanup", "component", name)
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
		}
	}()

	// Open the store and start both paths
	bufferConfig, err := newBufferConfig(cfg)
	if err != nil {
		return err
	}
	buffer, err := replay.New(ctx, bufferConfig, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create replay buffer: %w", err)
	}
	if err := buffer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start replay buffer: %w", err)
	}
	// Stop is idempotent; this covers early returns.
	addCleanup("replay-buffer", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod())
		defer cancel()
		return buffer.Stop(ctx)
	})

	go logFlushErrors(ctx, buffer, logger)

	// Snapshot export
	var scheduler *snapshot.Scheduler
	if cfg.Snapshot.Enabled {
		snapshotWriter, err := newSnapshotWriter(ctx, cfg.Snapshot, logger, metrics)
		if err != nil {
			return err
		}
		addCleanup("snapshot-writer", snapshotWriter.Close)

		router := storage.NewRouter(
			getStorageProtocol(cfg.Snapshot.Backend),
			getStorageBucket(cfg.Snapshot),
			cfg.Snapshot.BasePath,
		)
		policy := storage.NewPolicy(storage.PolicyConfig{
			IntervalSeconds: cfg.Snapshot.IntervalSeconds,
			MinNewRecords:   cfg.Snapshot.MinNewRecords,
		})

		scheduler, err = snapshot.New(snapshot.Config{
			CheckInterval: time.Duration(cfg.Snapshot.CheckIntervalMS) * time.Millisecond,
			Timeout:       time.Duration(cfg.Snapshot.TimeoutSeconds) * time.Second,
		}, buffer, snapshotWriter, router, policy, metrics, logger.With("component", "snapshot"))
		if err != nil {
			return fmt.Errorf("failed to create snapshot scheduler: %w", err)
		}
		go func() {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("snapshot scheduler stopped", "error", err)
			}
		}()
	}

	// Kafka ingest
	var ingest *kafka.SaramaConsumer
	ingestErrChan := make(chan error, 1)
	if cfg.Kafka.Enabled {
		consumerConfig := newConsumerConfig(cfg.Kafka)

		dlqPublisher, err := kafka.NewDLQPublisher(consumerConfig, kafka.DLQConfig{
			Enabled:     cfg.Kafka.DLQ.Enabled,
			TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
		}, logger, cfg.Application.Name)
		if err != nil {
			return fmt.Errorf("failed to create DLQ publisher: %w", err)
		}
		addCleanup("dlq-publisher", dlqPublisher.Close)

		ingest, err = kafka.NewSaramaConsumer(consumerConfig, buffer.Schema(), buffer, dlqPublisher, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		go func() {
			ingestErrChan <- ingest.Run(ctx)
		}()
	}

	// Start HTTP server
	httpServer := server.NewServer(server.Options{
		HealthPort:    cfg.Observability.Health.Port,
		MetricsPort:   cfg.Observability.Metrics.Port,
		LivenessPath:  cfg.Observability.Health.LivenessPath,
		ReadinessPath: cfg.Observability.Health.ReadinessPath,
		MetricsPath:   cfg.Observability.Metrics.Path,
	}, buffer, buffer, registry, logger)

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	logger.Info("application started successfully")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("received termination signal")
	case err := <-ingestErrChan:
		if err != nil {
			logger.Error("consumer stopped", "error", err)
			runErr = err
		}
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod())
	defer shutdownCancel()

	// Stop ingest first so nothing is submitted behind the final flush.
	if ingest != nil {
		if err := ingest.Close(); err != nil {
			logger.Error("failed to close consumer", "error", err)
		}
	}
	if err := buffer.Drain(shutdownCtx); err != nil {
		logger.Error("failed to drain write path", "error", err)
	}
	if scheduler != nil && cfg.Snapshot.OnShutdown {
		if result, err := scheduler.SnapshotNow(shutdownCtx); err != nil {
			logger.Error("final snapshot failed", "error", err)
		} else if result != nil {
			logger.Info("final snapshot written", "path", result.Path, "rows", result.StoreRows, "bytes", result.Bytes)
		}
	}
	cancel()
	if err := buffer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop replay buffer", "error", err)
	}

	logger.Info("application stopped", "records_written", buffer.Written())
	return runErr
}

func newBufferConfig(cfg *dto.ApplicationConfig) (replay.Config, error) {
	schema, err := cfg.Store.Schema()
	if err != nil {
		return replay.Config{}, fmt.Errorf("invalid store schema: %w", err)
	}

	return replay.Config{
		Dir:      cfg.Store.Path,
		Capacity: cfg.Store.Capacity,
		Schema:   schema,
		Store: store.Options{
			UseMmap:     cfg.Store.UseMmap,
			SyncWrites:  cfg.Store.SyncWrites,
			ReadWorkers: cfg.Store.ReadWorkers,
		},
		Writer: writer.Config{
			BatchSize:              cfg.Writer.BatchSize,
			QueueSize:              cfg.Writer.QueueSize,
			MaxBatchBytes:          cfg.Writer.MaxBatchBytes,
			IdleTimeout:            time.Duration(cfg.Writer.IdleTimeoutMS) * time.Millisecond,
			FlushTimeout:           time.Duration(cfg.Writer.FlushTimeoutMS) * time.Millisecond,
			MaxConsecutiveFailures: cfg.Writer.MaxConsecutiveFailures,
			ErrorBuffer:            cfg.Writer.ErrorBuffer,
		},
		Prefetch: prefetch.Config{
			BatchSize:       cfg.Prefetch.BatchSize,
			IndexQueueSize:  cfg.Prefetch.IndexQueueSize,
			OutputQueueSize: cfg.Prefetch.OutputQueueSize,
			MinBackoff:      time.Duration(cfg.Prefetch.MinBackoffMS) * time.Millisecond,
			MaxBackoff:      time.Duration(cfg.Prefetch.MaxBackoffMS) * time.Millisecond,
			Seed:            cfg.Prefetch.Seed,
		},
		LockFile:       cfg.Store.LockFile,
		Reopen:         cfg.Store.Reopen,
		GaugeInterval:  5 * time.Second,
		SnapshotWindow: cfg.Snapshot.WindowRows,
	}, nil
}

func newConsumerConfig(cfg dto.KafkaConfig) kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		BootstrapServers:    cfg.BootstrapServers,
		GroupID:             cfg.Consumer.GroupID,
		Topics:              cfg.Consumer.Topics,
		SecurityProtocol:    cfg.SecurityProtocol,
		SASLMechanism:       cfg.SASLMechanism,
		SASLUsername:        cfg.SASLUsername,
		SASLPassword:        cfg.SASLPassword,
		AWSRegion:           cfg.AWSRegion,
		AutoOffsetReset:     cfg.Consumer.AutoOffsetReset,
		MaxPollIntervalMS:   cfg.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Consumer.HeartbeatIntervalMS,
		MaxRecordsPerSecond: cfg.Consumer.MaxRecordsPerSecond,
	}
}

// newSnapshotWriter creates the storage writer for the configured backend.
func newSnapshotWriter(
	ctx context.Context,
	cfg dto.SnapshotConfig,
	logger *slog.Logger,
	metrics storage.MetricsCollector,
) (pkgstorage.Writer, error) {
	format := pkgencoder.FormatParquet
	if cfg.Format == "avro" {
		format = pkgencoder.FormatAvro
	}
	compression := cfg.Compression
	if compression == "" {
		compression = encoder.DefaultCompression(format)
	}

	switch cfg.Backend {
	case "file":
		w, err := storage.NewFileWriter(storage.FileConfig{
			BasePath: cfg.File.BasePath,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem writer: %w", err)
		}
		return w, nil
	case "s3":
		w, err := storage.NewS3Writer(ctx, storage.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			SSEEnabled:   cfg.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.S3.SSEKMSKeyID,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		return w, nil
	case "azure":
		w, err := storage.NewAzureWriter(storage.AzureConfig{
			AccountName:   cfg.Azure.AccountName,
			AccountKey:    os.Getenv("AZURE_STORAGE_ACCOUNT_KEY"),
			ContainerName: cfg.Azure.Container,
			Endpoint:      cfg.Azure.Endpoint,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob writer: %w", err)
		}
		return w, nil
	case "gcs":
		credentialsJSON := cfg.GCS.CredentialsJSON
		if credentialsJSON == "" {
			credentialsJSON = os.Getenv("GCP_CREDENTIALS_JSON")
		}
		w, err := storage.NewGCSWriter(ctx, storage.GCSConfig{
			Bucket:               cfg.GCS.Bucket,
			ProjectID:            cfg.GCS.ProjectID,
			CredentialsFile:      cfg.GCS.CredentialsFile,
			CredentialsJSON:      credentialsJSON,
			Endpoint:             cfg.GCS.Endpoint,
			UseDefaultCredential: cfg.GCS.UseDefaultCredential,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS writer: %w", err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Backend)
	}
}

// logFlushErrors reports write path failures until ctx ends.
func logFlushErrors(ctx context.Context, buffer *replay.Buffer, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-buffer.Errors():
			if !ok {
				return
			}
			logger.Error("flush failed",
				"error", err,
				"retryable", apperrors.IsRetryable(err),
			)
		}
	}
}

func getStorageProtocol(backend string) string {
	switch backend {
	case "s3":
		return "s3"
	case "azure":
		return "wasbs"
	case "gcs":
		return "gs"
	default:
		return "file"
	}
}

func getStorageBucket(cfg dto.SnapshotConfig) string {
	switch cfg.Backend {
	case "s3":
		return cfg.S3.Bucket
	case "azure":
		return cfg.Azure.Container
	case "gcs":
		return cfg.GCS.Bucket
	default:
		return "" // File backend uses basePath only, no bucket
	}
}
