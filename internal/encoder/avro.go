package encoder

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jittakal/diskreplay/pkg/encoder"
	"github.com/jittakal/diskreplay/pkg/replay"
	"github.com/linkedin/goavro/v2"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Apache Avro binary format.
// It produces OCF (Object Container File) output. "gzip" wraps the whole
// container; "deflate" and "snappy" use the OCF block codecs.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: compression,
	}, nil
}

// avroSchema returns the Avro schema for snapshot rows.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "SnapshotRow",
		"namespace": "com.diskreplay.snapshot",
		"fields": [
			{"name": "store_id", "type": "string"},
			{"name": "row", "type": "long"},
			{"name": "field", "type": "string"},
			{"name": "dtype", "type": "string"},
			{"name": "values", "type": {"type": "array", "items": "double"}},
			{"name": "int_values", "type": {"type": "array", "items": "long"}},
			{"name": "taken_at", "type": "string"}
		]
	}`
}

func (e *AvroEncoder) gzipped() bool {
	return e.compression == "gzip" || e.compression == "GZIP"
}

func (e *AvroEncoder) blockCodec() string {
	switch e.compression {
	case "deflate", "DEFLATE":
		return goavro.CompressionDeflateLabel
	case "snappy", "SNAPPY":
		return goavro.CompressionSnappyLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// Encode streams the snapshot into an Avro file, one OCF block per window.
func (e *AvroEncoder) Encode(ctx context.Context, filePath string, snap *replay.Snapshot) (*encoder.FileStats, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	storeRows, records, err := e.write(ctx, file, snap)
	if err != nil {
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &encoder.FileStats{
		StoreRows:   storeRows,
		RecordCount: records,
		SizeBytes:   fileInfo.Size(),
		EncodedAt:   time.Now(),
	}, nil
}

// EncodeToBytes encodes the snapshot to bytes (useful for testing).
func (e *AvroEncoder) EncodeToBytes(ctx context.Context, snap *replay.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if _, _, err := e.write(ctx, &buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) write(ctx context.Context, w io.Writer, snap *replay.Snapshot) (storeRows, records int, err error) {
	if snap == nil {
		return 0, 0, fmt.Errorf("snapshot has no data")
	}

	var gzipWriter *gzip.Writer
	if e.gzipped() {
		gzipWriter = gzip.NewWriter(w)
		w = gzipWriter
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           e.codec,
		CompressionName: e.blockCodec(),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	types := dtypes(snap.Schema)
	takenAt := snap.TakenAt.Format(time.RFC3339Nano)

	storeRows, records, err = eachWindow(ctx, snap, func(rows []Row) error {
		native := make([]any, len(rows))
		for i, r := range rows {
			values := make([]any, len(r.Values))
			for j, v := range r.Values {
				values[j] = v
			}
			ints := make([]any, len(r.Ints))
			for j, v := range r.Ints {
				ints[j] = v
			}
			native[i] = map[string]any{
				"store_id":   snap.StoreID,
				"row":        r.Row,
				"field":      r.Field,
				"dtype":      types[r.Field],
				"values":     values,
				"int_values": ints,
				"taken_at":   takenAt,
			}
		}
		if err := ocfWriter.Append(native); err != nil {
			return fmt.Errorf("failed to write records: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return 0, 0, fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return storeRows, records, nil
}

// Format returns the file format.
func (e *AvroEncoder) Format() encoder.FileFormat {
	return encoder.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.gzipped() {
		return ".avro.gz"
	}
	return ".avro"
}
