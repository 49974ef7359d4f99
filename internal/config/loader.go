package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/diskreplay/internal/config/dto"
	"github.com/jittakal/diskreplay/internal/encoder"
	pkgencoder "github.com/jittakal/diskreplay/pkg/encoder"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for _, key := range l.v.AllKeys() {
		if value, ok := expandEnv(l.v.Get(key)); ok {
			l.v.Set(key, value)
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "diskreplay")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Store defaults
	l.v.SetDefault("store.path", "data/replay")
	l.v.SetDefault("store.capacity", 100000)
	l.v.SetDefault("store.use_mmap", true)
	l.v.SetDefault("store.sync_writes", false)
	l.v.SetDefault("store.read_workers", 4)
	l.v.SetDefault("store.reopen", false)

	// Write path defaults
	l.v.SetDefault("writer.batch_size", 32)
	l.v.SetDefault("writer.idle_timeout_ms", 3000)
	l.v.SetDefault("writer.flush_timeout_ms", 30000)
	l.v.SetDefault("writer.max_consecutive_failures", 5)
	l.v.SetDefault("writer.error_buffer", 16)

	// Read path defaults
	l.v.SetDefault("prefetch.batch_size", 32)
	l.v.SetDefault("prefetch.index_queue_size", 8)
	l.v.SetDefault("prefetch.output_queue_size", 50)
	l.v.SetDefault("prefetch.min_backoff_ms", 5)
	l.v.SetDefault("prefetch.max_backoff_ms", 500)

	// Kafka defaults
	l.v.SetDefault("kafka.enabled", false)
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.consumer.max_records_per_second", 0)
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")

	// Snapshot defaults
	l.v.SetDefault("snapshot.enabled", false)
	l.v.SetDefault("snapshot.backend", "file")
	l.v.SetDefault("snapshot.format", "parquet")
	l.v.SetDefault("snapshot.interval_seconds", 3600)
	l.v.SetDefault("snapshot.min_new_records", 0)
	l.v.SetDefault("snapshot.check_interval_ms", 1000)
	l.v.SetDefault("snapshot.timeout_seconds", 300)
	l.v.SetDefault("snapshot.on_shutdown", true)
	l.v.SetDefault("snapshot.s3.use_path_style", false)
	l.v.SetDefault("snapshot.s3.sse_enabled", true)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	if config.Snapshot.Enabled {
		format := pkgencoder.FileFormat(config.Snapshot.Format)
		if c := config.Snapshot.Compression; c != "" && !slices.Contains(encoder.SupportedCompressions(format), c) {
			return fmt.Errorf("unsupported %s compression: %s", format, c)
		}
	}

	if config.Kafka.Enabled {
		switch config.Kafka.Consumer.AutoOffsetReset {
		case "earliest", "latest":
		default:
			return fmt.Errorf("unsupported auto offset reset: %s", config.Kafka.Consumer.AutoOffsetReset)
		}
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}

// expandEnv expands ${...} references in a string or a list of strings.
// It reports false when value holds nothing to expand.
func expandEnv(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		if strings.Contains(v, "${") {
			return os.ExpandEnv(v), true
		}
	case []any:
		out := make([]string, len(v))
		changed := false
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = os.ExpandEnv(s)
			changed = changed || out[i] != s
		}
		return out, changed
	}
	return nil, false
}
