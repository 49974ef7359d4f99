package storage

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	pkgencoder "github.com/jittakal/diskreplay/pkg/encoder"
)

func TestS3Config_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  S3Config
		wantErr bool
	}{
		{"valid config", S3Config{Bucket: "test-bucket", Region: "us-east-1"}, false},
		{"empty bucket", S3Config{Region: "us-east-1"}, true},
		{"empty region", S3Config{Bucket: "test-bucket"}, true},
		{"with endpoint", S3Config{Bucket: "test-bucket", Region: "us-east-1", Endpoint: "http://localhost:9000"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateS3Config(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateS3Config() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func newTestS3Writer(t *testing.T, cfg S3Config) *S3Writer {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	w, err := NewS3Writer(context.Background(), cfg, pkgencoder.FormatParquet, "snappy", testLogger(), nil)
	if err != nil {
		t.Fatalf("NewS3Writer() error = %v", err)
	}
	return w
}

func TestNewS3Writer(t *testing.T) {
	w := newTestS3Writer(t, S3Config{
		Bucket:       "replay",
		Region:       "us-east-1",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
	})
	if w.bucket != "replay" || w.region != "us-east-1" {
		t.Errorf("writer = %s/%s", w.bucket, w.region)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if _, err := NewS3Writer(context.Background(), S3Config{Region: "us-east-1"}, pkgencoder.FormatParquet, "snappy", testLogger(), nil); err == nil {
		t.Error("expected error for missing bucket")
	}
}

func TestS3Writer_PutInput(t *testing.T) {
	tests := []struct {
		name    string
		cfg     S3Config
		wantSSE types.ServerSideEncryption
		wantKMS string
	}{
		{"no SSE", S3Config{Bucket: "b", Region: "us-east-1"}, "", ""},
		{"SSE-S3", S3Config{Bucket: "b", Region: "us-east-1", SSEEnabled: true}, types.ServerSideEncryptionAes256, ""},
		{"SSE-KMS", S3Config{Bucket: "b", Region: "us-east-1", SSEEnabled: true, SSEKMSKeyID: "key-1"}, types.ServerSideEncryptionAwsKms, "key-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestS3Writer(t, tt.cfg)
			input := w.putInput("replay/store/snapshot.parquet", nil)

			if aws.ToString(input.Bucket) != "b" || aws.ToString(input.Key) != "replay/store/snapshot.parquet" {
				t.Errorf("bucket/key = %s/%s", aws.ToString(input.Bucket), aws.ToString(input.Key))
			}
			if input.ServerSideEncryption != tt.wantSSE {
				t.Errorf("ServerSideEncryption = %q, want %q", input.ServerSideEncryption, tt.wantSSE)
			}
			if aws.ToString(input.SSEKMSKeyId) != tt.wantKMS {
				t.Errorf("SSEKMSKeyId = %q, want %q", aws.ToString(input.SSEKMSKeyId), tt.wantKMS)
			}
			if aws.ToString(input.ContentType) != "application/octet-stream" {
				t.Errorf("ContentType = %q", aws.ToString(input.ContentType))
			}
		})
	}
}
