package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/pkg/record"
)

// FormatVersion identifies the on-disk layout written by this package.
const FormatVersion = "diskreplay/v1"

const (
	manifestFile = "manifest.json"
	metaFile     = "cursor.meta"
	columnExt    = ".col"
	metaSize     = 16
)

// manifest captures everything that affects the file layout of a store.
type manifest struct {
	Format    string               `json:"format"`
	ID        string               `json:"id"`
	Capacity  int                  `json:"capacity"`
	Fields    []record.FieldSchema `json:"fields"`
	CreatedAt time.Time            `json:"created_at"`
}

func (m manifest) schema() record.Schema {
	return record.Schema{Fields: m.Fields}
}

func manifestPath(dir string) string { return filepath.Join(dir, manifestFile) }

func metaPath(dir string) string { return filepath.Join(dir, metaFile) }

func columnPath(dir, field string) string { return filepath.Join(dir, field+columnExt) }

func writeManifest(dir string, m manifest) error {
	path := manifestPath(dir)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return &errors.IOError{Operation: "create", Path: tmp, Err: err}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		f.Close()
		return &errors.IOError{Operation: "write", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		return &errors.IOError{Operation: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &errors.IOError{Operation: "rename", Path: path, Err: err}
	}
	return nil
}

// readManifest loads and checks a manifest. A missing file is reported with
// os.ErrNotExist; anything unparsable or of a foreign format is a SchemaError.
func readManifest(dir string) (manifest, error) {
	path := manifestPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest{}, err
		}
		return manifest{}, &errors.IOError{Operation: "read", Path: path, Err: err}
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, &errors.SchemaError{
			Reason: fmt.Sprintf("%s is not a valid store manifest", path),
			Err:    err,
		}
	}
	if m.Format != FormatVersion {
		return manifest{}, &errors.SchemaError{
			Reason: fmt.Sprintf("unsupported store format %q (want %q)", m.Format, FormatVersion),
			Err:    errors.ErrStoreIncompatible,
		}
	}
	if m.Capacity <= 0 {
		return manifest{}, &errors.SchemaError{
			Reason: fmt.Sprintf("invalid capacity %d in manifest", m.Capacity),
		}
	}
	if err := m.schema().Validate(); err != nil {
		return manifest{}, &errors.SchemaError{Reason: "manifest schema is invalid", Err: err}
	}
	return m, nil
}

// meta file layout: 16 bytes (little-endian)
// 0..7  : uint64 cursor (next write offset)
// 8..15 : uint64 length (valid rows)

func encodeMeta(cursor, length int) []byte {
	buf := make([]byte, metaSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(cursor))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(length))
	return buf
}

func decodeMeta(buf []byte, capacity int) (cursor, length int, err error) {
	if len(buf) < metaSize {
		return 0, 0, fmt.Errorf("meta file too small: %d bytes", len(buf))
	}
	c := binary.LittleEndian.Uint64(buf[0:8])
	l := binary.LittleEndian.Uint64(buf[8:16])
	if c >= uint64(capacity) || l > uint64(capacity) {
		return 0, 0, fmt.Errorf("meta out of range: cursor=%d length=%d capacity=%d", c, l, capacity)
	}
	return int(c), int(l), nil
}
