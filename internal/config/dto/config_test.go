package dto

import (
	"testing"
	"time"

	"github.com/jittakal/diskreplay/pkg/record"
)

func TestStoreConfig_Schema(t *testing.T) {
	config := StoreConfig{
		Path:     "/tmp/replay",
		Capacity: 10,
		Fields: []FieldConfig{
			{Name: "state", Shape: []int{3, 2}, DType: "float32"},
			{Name: "action", DType: "INT64"},
			{Name: "reward"},
		},
	}

	schema, err := config.Schema()
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}

	tests := []struct {
		field    string
		elements int
		dtype    record.DType
	}{
		{"state", 6, record.Float32},
		{"action", 1, record.Int64},
		{"reward", 1, record.Float32},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, ok := schema.Field(tt.field)
			if !ok {
				t.Fatalf("field %q missing", tt.field)
			}
			if f.Elements() != tt.elements || f.DType != tt.dtype {
				t.Errorf("field = %+v, want %d x %s", f, tt.elements, tt.dtype)
			}
		})
	}
}

func TestStoreConfig_Validation(t *testing.T) {
	field := []FieldConfig{{Name: "obs", Shape: []int{4}, DType: "float32"}}

	tests := []struct {
		name    string
		config  StoreConfig
		wantErr bool
	}{
		{"valid config", StoreConfig{Path: "/tmp/r", Capacity: 10, Fields: field}, false},
		{"missing path", StoreConfig{Capacity: 10, Fields: field}, true},
		{"zero capacity", StoreConfig{Path: "/tmp/r", Fields: field}, true},
		{"no fields", StoreConfig{Path: "/tmp/r", Capacity: 10}, true},
		{"duplicate fields", StoreConfig{Path: "/tmp/r", Capacity: 10, Fields: append(field, field...)}, true},
		{"zero dimension", StoreConfig{Path: "/tmp/r", Capacity: 10, Fields: []FieldConfig{{Name: "obs", Shape: []int{0}}}}, true},
		{"unknown dtype", StoreConfig{Path: "/tmp/r", Capacity: 10, Fields: []FieldConfig{{Name: "obs", DType: "bf16"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKafkaConfig_Validation(t *testing.T) {
	consumer := ConsumerConfig{GroupID: "replay", Topics: []string{"transitions"}}

	tests := []struct {
		name    string
		config  KafkaConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  KafkaConfig{BootstrapServers: []string{"localhost:9092"}, Consumer: consumer},
			wantErr: false,
		},
		{
			name:    "missing bootstrap servers",
			config:  KafkaConfig{Consumer: consumer},
			wantErr: true,
		},
		{
			name:    "missing group id",
			config:  KafkaConfig{BootstrapServers: []string{"localhost:9092"}, Consumer: ConsumerConfig{Topics: []string{"t"}}},
			wantErr: true,
		},
		{
			name:    "missing topics",
			config:  KafkaConfig{BootstrapServers: []string{"localhost:9092"}, Consumer: ConsumerConfig{GroupID: "g"}},
			wantErr: true,
		},
		{
			name: "negative rate",
			config: KafkaConfig{
				BootstrapServers: []string{"localhost:9092"},
				Consumer:         ConsumerConfig{GroupID: "g", Topics: []string{"t"}, MaxRecordsPerSecond: -1},
			},
			wantErr: true,
		},
		{
			name: "dlq without suffix",
			config: KafkaConfig{
				BootstrapServers: []string{"localhost:9092"},
				Consumer:         consumer,
				DLQ:              DLQConfig{Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSnapshotConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  SnapshotConfig
		wantErr bool
	}{
		{"file backend", SnapshotConfig{Backend: "file", Format: "parquet", File: FileConfig{BasePath: "/tmp/s"}}, false},
		{"file without base path", SnapshotConfig{Backend: "file", Format: "parquet"}, true},
		{"s3 backend", SnapshotConfig{Backend: "s3", Format: "avro", S3: S3Config{Bucket: "b", Region: "us-east-1"}}, false},
		{"s3 without region", SnapshotConfig{Backend: "s3", Format: "avro", S3: S3Config{Bucket: "b"}}, true},
		{"gcs backend", SnapshotConfig{Backend: "gcs", Format: "parquet", GCS: GCSConfig{Bucket: "b"}}, false},
		{"gcs without bucket", SnapshotConfig{Backend: "gcs", Format: "parquet"}, true},
		{"azure backend", SnapshotConfig{Backend: "azure", Format: "parquet", Azure: AzureConfig{AccountName: "a", Container: "c"}}, false},
		{"azure without container", SnapshotConfig{Backend: "azure", Format: "parquet", Azure: AzureConfig{AccountName: "a"}}, true},
		{"unknown backend", SnapshotConfig{Backend: "ftp", Format: "parquet"}, true},
		{"unknown format", SnapshotConfig{Backend: "file", Format: "csv", File: FileConfig{BasePath: "/tmp/s"}}, true},
		{"negative interval", SnapshotConfig{Backend: "file", Format: "parquet", File: FileConfig{BasePath: "/tmp/s"}, IntervalSeconds: -1}, true},
		{"negative window", SnapshotConfig{Backend: "file", Format: "parquet", File: FileConfig{BasePath: "/tmp/s"}, WindowRows: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplicationConfig_Validation(t *testing.T) {
	base := func() ApplicationConfig {
		return ApplicationConfig{
			Application: ApplicationInfo{Name: "replay"},
			Store: StoreConfig{
				Path:     "/tmp/r",
				Capacity: 8,
				Fields:   []FieldConfig{{Name: "obs", DType: "float32"}},
			},
			Writer:   WriterConfig{BatchSize: 8},
			Prefetch: PrefetchConfig{BatchSize: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*ApplicationConfig)
		wantErr bool
	}{
		{"valid", func(c *ApplicationConfig) {}, false},
		{"missing name", func(c *ApplicationConfig) { c.Application.Name = "" }, true},
		{"writer batch above capacity", func(c *ApplicationConfig) { c.Writer.BatchSize = 9 }, true},
		{"prefetch batch above capacity", func(c *ApplicationConfig) { c.Prefetch.BatchSize = 9 }, true},
		{"disabled sections skipped", func(c *ApplicationConfig) { c.Snapshot.Backend = "ftp" }, false},
		{"enabled snapshot validated", func(c *ApplicationConfig) {
			c.Snapshot.Enabled = true
			c.Snapshot.Backend = "ftp"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := base()
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestShutdownConfig_GracePeriod(t *testing.T) {
	if got := (ShutdownConfig{GracePeriodSeconds: 30}).GracePeriod(); got != 30*time.Second {
		t.Errorf("GracePeriod() = %v, want 30s", got)
	}
}
