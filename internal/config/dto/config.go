package dto

import (
	"fmt"
	"time"

	"github.com/jittakal/diskreplay/pkg/record"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Store         StoreConfig         `mapstructure:"store"`
	Writer        WriterConfig        `mapstructure:"writer"`
	Prefetch      PrefetchConfig      `mapstructure:"prefetch"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Snapshot      SnapshotConfig      `mapstructure:"snapshot"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// StoreConfig describes the on-disk circular store
type StoreConfig struct {
	Path        string        `mapstructure:"path"`
	Capacity    int           `mapstructure:"capacity"`
	Fields      []FieldConfig `mapstructure:"fields"`
	UseMmap     bool          `mapstructure:"use_mmap"`
	SyncWrites  bool          `mapstructure:"sync_writes"`
	ReadWorkers int           `mapstructure:"read_workers"`
	LockFile    string        `mapstructure:"lock_file"`
	Reopen      bool          `mapstructure:"reopen"`
}

// FieldConfig describes one record field
type FieldConfig struct {
	Name  string `mapstructure:"name"`
	Shape []int  `mapstructure:"shape"`
	DType string `mapstructure:"dtype"`
}

// WriterConfig contains write path settings
type WriterConfig struct {
	BatchSize              int   `mapstructure:"batch_size"`
	QueueSize              int   `mapstructure:"queue_size"`
	MaxBatchBytes          int64 `mapstructure:"max_batch_bytes"`
	IdleTimeoutMS          int   `mapstructure:"idle_timeout_ms"`
	FlushTimeoutMS         int   `mapstructure:"flush_timeout_ms"`
	MaxConsecutiveFailures int   `mapstructure:"max_consecutive_failures"`
	ErrorBuffer            int   `mapstructure:"error_buffer"`
}

// PrefetchConfig contains read path settings
type PrefetchConfig struct {
	BatchSize       int    `mapstructure:"batch_size"`
	IndexQueueSize  int    `mapstructure:"index_queue_size"`
	OutputQueueSize int    `mapstructure:"output_queue_size"`
	MinBackoffMS    int    `mapstructure:"min_backoff_ms"`
	MaxBackoffMS    int    `mapstructure:"max_backoff_ms"`
	Seed            uint64 `mapstructure:"seed"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	BootstrapServers []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	AWSRegion        string         `mapstructure:"aws_region"`
	Consumer         ConsumerConfig `mapstructure:"consumer"`
	DLQ              DLQConfig      `mapstructure:"dlq"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
	MaxRecordsPerSecond float64  `mapstructure:"max_records_per_second"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
}

// SnapshotConfig contains snapshot export configuration
type SnapshotConfig struct {
	Enabled         bool        `mapstructure:"enabled"`
	Backend         string      `mapstructure:"backend"`
	Format          string      `mapstructure:"format"`
	Compression     string      `mapstructure:"compression"`
	BasePath        string      `mapstructure:"base_path"`
	IntervalSeconds int         `mapstructure:"interval_seconds"`
	MinNewRecords   int         `mapstructure:"min_new_records"`
	CheckIntervalMS int         `mapstructure:"check_interval_ms"`
	TimeoutSeconds  int         `mapstructure:"timeout_seconds"`
	OnShutdown      bool        `mapstructure:"on_shutdown"`
	WindowRows      int         `mapstructure:"window_rows"`
	S3              S3Config    `mapstructure:"s3"`
	Azure           AzureConfig `mapstructure:"azure"`
	GCS             GCSConfig   `mapstructure:"gcs"`
	File            FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	Endpoint             string `mapstructure:"endpoint"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// GracePeriod returns the shutdown grace period.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.Writer.BatchSize > c.Store.Capacity {
		return fmt.Errorf("writer batch size %d exceeds store capacity %d", c.Writer.BatchSize, c.Store.Capacity)
	}
	if c.Prefetch.BatchSize > c.Store.Capacity {
		return fmt.Errorf("prefetch batch size %d exceeds store capacity %d", c.Prefetch.BatchSize, c.Store.Capacity)
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return err
		}
	}
	if c.Snapshot.Enabled {
		if err := c.Snapshot.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates store configuration.
func (c *StoreConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("store capacity must be positive, got %d", c.Capacity)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("store fields are required")
	}
	if _, err := c.Schema(); err != nil {
		return err
	}
	return nil
}

// Schema converts the configured fields into a record schema.
func (c *StoreConfig) Schema() (record.Schema, error) {
	fields := make([]record.FieldSchema, 0, len(c.Fields))
	for _, f := range c.Fields {
		dtype, err := record.ParseDType(f.DType)
		if err != nil {
			return record.Schema{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields = append(fields, record.FieldSchema{Name: f.Name, Shape: f.Shape, DType: dtype})
	}

	schema := record.NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return record.Schema{}, fmt.Errorf("invalid store fields: %w", err)
	}
	return schema, nil
}

// Validate validates Kafka configuration.
func (c *KafkaConfig) Validate() error {
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Consumer.GroupID == "" {
		return fmt.Errorf("kafka consumer group ID is required")
	}
	if len(c.Consumer.Topics) == 0 {
		return fmt.Errorf("kafka consumer topics are required")
	}
	if c.Consumer.MaxRecordsPerSecond < 0 {
		return fmt.Errorf("kafka max records per second cannot be negative")
	}
	if c.DLQ.Enabled && c.DLQ.TopicSuffix == "" {
		return fmt.Errorf("kafka dlq topic suffix is required when the dlq is enabled")
	}
	return nil
}

// Validate validates snapshot configuration.
func (c *SnapshotConfig) Validate() error {
	switch c.Backend {
	case "s3":
		if err := c.S3.Validate(); err != nil {
			return err
		}
	case "azure":
		if err := c.Azure.Validate(); err != nil {
			return err
		}
	case "gcs":
		if c.GCS.Bucket == "" {
			return fmt.Errorf("gcs bucket is required")
		}
	case "file":
		if err := c.File.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported snapshot backend: %s", c.Backend)
	}

	if c.Format != "parquet" && c.Format != "avro" {
		return fmt.Errorf("unsupported snapshot format: %s", c.Format)
	}
	if c.IntervalSeconds < 0 || c.MinNewRecords < 0 {
		return fmt.Errorf("snapshot interval and min new records cannot be negative")
	}
	if c.WindowRows < 0 {
		return fmt.Errorf("snapshot window rows cannot be negative")
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
