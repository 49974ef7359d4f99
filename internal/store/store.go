// Package store implements the fixed-capacity, disk-backed circular store.
//
// A store is a directory holding one column file per schema field, a JSON
// manifest and a small cursor/length meta file. Each column file is sized for
// exactly Capacity rows. Batches are placed contiguously: when a batch does
// not fit in the remaining tail, the cursor resets to zero and the tail is
// left as it was.
//
// CircularStore does no locking of its own beyond atomic cursor, length and
// readiness snapshots. Callers serialize Initialize, Open, Refresh,
// WriteBatch and ReadIndices (see package guard).
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/internal/validator"
	"github.com/jittakal/diskreplay/pkg/record"
)

// Options controls how column files are accessed.
type Options struct {
	// UseMmap maps column files into memory. When false, rows are moved with
	// positional reads and writes.
	UseMmap bool
	// SyncWrites flushes every column to stable storage after each batch.
	SyncWrites bool
	// ReadWorkers bounds the number of columns read or written in parallel.
	ReadWorkers int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		UseMmap:     true,
		ReadWorkers: 4,
	}
}

// CircularStore is the on-disk ring of fixed-shape records.
type CircularStore struct {
	dir      string
	capacity int
	opts     Options
	logger   *slog.Logger

	id        string
	schema    record.Schema
	validator *validator.SchemaValidator
	columns   []*column
	meta      *os.File

	cursor atomic.Int64
	length atomic.Int64
	ready  atomic.Bool
	closed atomic.Bool
}

// New returns an uninitialized store handle for dir. No files are touched
// until Initialize or Open is called.
func New(dir string, capacity int, opts Options, logger *slog.Logger) (*CircularStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if capacity <= 0 {
		return nil, &errors.RangeError{Operation: "capacity", Value: capacity, Limit: 1}
	}
	if opts.ReadWorkers <= 0 {
		opts.ReadWorkers = DefaultOptions().ReadWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircularStore{
		dir:      filepath.Clean(dir),
		capacity: capacity,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Initialize creates every column file for schema and resets cursor and
// length to zero. An existing store at the same path is truncated; a path
// holding anything else is rejected with a SchemaError.
func (s *CircularStore) Initialize(schema record.Schema) error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}
	if err := schema.Validate(); err != nil {
		return &errors.SchemaError{Reason: "invalid schema", Err: err}
	}

	previous, err := s.checkTarget()
	if err != nil {
		return err
	}

	s.release()

	columns := make([]*column, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		path := columnPath(s.dir, f.Name)
		c, err := createColumn(path, f, s.capacity, s.opts.UseMmap)
		if err != nil {
			closeColumns(columns)
			return &errors.IOError{Operation: "create", Path: path, Err: err}
		}
		columns = append(columns, c)
	}

	// Column files from a previous schema that no longer apply.
	for _, f := range previous {
		if _, ok := schema.Field(f.Name); !ok {
			if err := os.Remove(columnPath(s.dir, f.Name)); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove stale column", "field", f.Name, "error", err)
			}
		}
	}

	m := manifest{
		Format:    FormatVersion,
		ID:        uuid.NewString(),
		Capacity:  s.capacity,
		Fields:    schema.Fields,
		CreatedAt: time.Now().UTC(),
	}
	if err := writeManifest(s.dir, m); err != nil {
		closeColumns(columns)
		return err
	}

	meta, err := os.OpenFile(metaPath(s.dir), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		closeColumns(columns)
		return &errors.IOError{Operation: "create", Path: metaPath(s.dir), Err: err}
	}

	s.install(m, columns, meta, 0, 0)
	if err := s.persistMeta(); err != nil {
		return err
	}

	s.logger.Info("initialized store",
		"path", s.dir,
		"id", s.id,
		"capacity", s.capacity,
		"fields", strings.Join(schema.Names(), ","),
		"mmap", s.opts.UseMmap,
	)
	return nil
}

// Open attaches to a store previously created by Initialize, restoring its
// cursor and length. It returns ErrNotInitialized if dir holds no manifest.
func (s *CircularStore) Open() error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}

	m, err := readManifest(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ErrNotInitialized
		}
		return err
	}
	if m.Capacity != s.capacity {
		return &errors.SchemaError{
			Reason: fmt.Sprintf("store capacity is %d, configured %d", m.Capacity, s.capacity),
			Err:    errors.ErrStoreIncompatible,
		}
	}

	s.release()

	columns := make([]*column, 0, len(m.Fields))
	for _, f := range m.Fields {
		path := columnPath(s.dir, f.Name)
		c, err := openColumn(path, f, m.Capacity, s.opts.UseMmap)
		if err != nil {
			closeColumns(columns)
			if mismatch, ok := err.(errSizeMismatch); ok {
				return &errors.SchemaError{Field: f.Name, Reason: mismatch.Error()}
			}
			return &errors.IOError{Operation: "open", Path: path, Err: err}
		}
		columns = append(columns, c)
	}

	path := metaPath(s.dir)
	meta, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		closeColumns(columns)
		return &errors.IOError{Operation: "open", Path: path, Err: err}
	}
	cursor, length, err := readMeta(meta, m.Capacity)
	if err != nil {
		meta.Close()
		closeColumns(columns)
		return err
	}

	s.install(m, columns, meta, cursor, length)

	s.logger.Info("opened store",
		"path", s.dir,
		"id", s.id,
		"capacity", s.capacity,
		"cursor", cursor,
		"length", length,
	)
	return nil
}

// checkTarget inspects the store directory. It returns the fields of an
// existing store, nil for a fresh or empty directory, and a SchemaError
// when the path holds something that is not a store.
func (s *CircularStore) checkTarget() ([]record.FieldSchema, error) {
	info, err := os.Stat(s.dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, &errors.IOError{Operation: "mkdir", Path: s.dir, Err: err}
		}
		return nil, nil
	case err != nil:
		return nil, &errors.IOError{Operation: "stat", Path: s.dir, Err: err}
	case !info.IsDir():
		return nil, &errors.SchemaError{
			Reason: fmt.Sprintf("%s exists and is not a directory", s.dir),
			Err:    errors.ErrStoreIncompatible,
		}
	}

	m, err := readManifest(s.dir)
	if err == nil {
		return m.Fields, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &errors.IOError{Operation: "read", Path: s.dir, Err: err}
	}
	if len(entries) > 0 {
		return nil, &errors.SchemaError{
			Reason: fmt.Sprintf("%s is not empty and holds no store manifest", s.dir),
			Err:    errors.ErrStoreIncompatible,
		}
	}
	return nil, nil
}

func (s *CircularStore) install(m manifest, columns []*column, meta *os.File, cursor, length int) {
	s.id = m.ID
	s.schema = m.schema()
	s.validator = validator.NewSchemaValidator(s.schema)
	s.columns = columns
	s.meta = meta
	s.cursor.Store(int64(cursor))
	s.length.Store(int64(length))
	s.ready.Store(true)
}

// place computes where a batch of b rows goes given the current cursor.
func place(cursor, b, capacity int) record.Placement {
	if cursor+b <= capacity {
		return record.Placement{Start: cursor, Count: b}
	}
	return record.Placement{Start: 0, Count: b, Wrapped: true}
}

// WriteBatch appends records as one contiguous run and advances cursor and
// length. Neither is changed when the write fails.
func (s *CircularStore) WriteBatch(records []record.Record) (record.Placement, error) {
	if s.closed.Load() {
		return record.Placement{}, errors.ErrStoreClosed
	}
	if !s.ready.Load() {
		return record.Placement{}, errors.ErrNotInitialized
	}

	b := len(records)
	if b < 1 || b > s.capacity {
		return record.Placement{}, &errors.RangeError{Operation: "write", Value: b, Limit: s.capacity}
	}
	if err := s.validator.ValidateBatch(records); err != nil {
		return record.Placement{}, err
	}

	cursor := int(s.cursor.Load())
	length := int(s.length.Load())
	p := place(cursor, b, s.capacity)

	g := s.group()
	for _, c := range s.columns {
		g.Go(func() error {
			buf := make([]byte, b*c.rowBytes)
			for i, rec := range records {
				if err := record.Encode(c.field, rec[c.field.Name], buf[i*c.rowBytes:(i+1)*c.rowBytes]); err != nil {
					return &errors.SchemaError{Field: c.field.Name, Reason: err.Error()}
				}
			}
			if err := c.writeRows(p.Start, buf); err != nil {
				return &errors.IOError{Operation: "write", Path: c.path, Err: err}
			}
			if s.opts.SyncWrites {
				if err := c.sync(); err != nil {
					return &errors.IOError{Operation: "sync", Path: c.path, Err: err}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return record.Placement{}, err
	}

	s.cursor.Store(int64(p.End() % s.capacity))
	s.length.Store(int64(min(length+b, s.capacity)))

	if err := s.persistMeta(); err != nil {
		// Rows and in-memory state are already updated; only restart
		// recovery is affected.
		s.logger.Warn("failed to persist cursor meta", "path", s.dir, "error", err)
	}

	if p.Wrapped {
		s.logger.Debug("store wrapped",
			"path", s.dir,
			"unused_tail", s.capacity-cursor,
			"batch", b,
		)
	}
	return p, nil
}

// ReadIndices returns the rows at indices, in input order, as one
// contiguous block per field. Every index must lie in [0, Length()).
func (s *CircularStore) ReadIndices(indices []int) (*record.Batch, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}
	if !s.ready.Load() {
		return nil, errors.ErrNotInitialized
	}

	length := int(s.length.Load())
	for _, idx := range indices {
		if idx < 0 || idx >= length {
			return nil, &errors.RangeError{Operation: "read", Value: idx, Limit: length}
		}
	}

	batch := &record.Batch{
		Len:     len(indices),
		Indices: append(record.IndexSet(nil), indices...),
		Columns: make(map[string]*record.Column, len(s.columns)),
	}
	cols := make([]*record.Column, len(s.columns))
	for i, c := range s.columns {
		cols[i] = record.NewColumn(c.field, len(indices))
		batch.Columns[c.field.Name] = cols[i]
	}

	g := s.group()
	for i, c := range s.columns {
		g.Go(func() error {
			if err := c.readRows(indices, cols[i].Data); err != nil {
				return &errors.IOError{Operation: "read", Path: c.path, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}

// ReadRange returns rows [start, start+count) in storage order.
func (s *CircularStore) ReadRange(start, count int) (*record.Batch, error) {
	if count < 0 {
		return nil, &errors.RangeError{Operation: "read", Value: count, Limit: s.Length()}
	}
	indices := make([]int, count)
	for i := range indices {
		indices[i] = start + i
	}
	return s.ReadIndices(indices)
}

// Sync flushes every column and the meta file to stable storage.
func (s *CircularStore) Sync() error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}
	if !s.ready.Load() {
		return nil
	}
	for _, c := range s.columns {
		if err := c.sync(); err != nil {
			return &errors.IOError{Operation: "sync", Path: c.path, Err: err}
		}
	}
	if err := s.meta.Sync(); err != nil {
		return &errors.IOError{Operation: "sync", Path: s.meta.Name(), Err: err}
	}
	return nil
}

// Close syncs and releases every file. It is safe to call more than once.
func (s *CircularStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if s.ready.Load() {
		for _, c := range s.columns {
			if err := c.sync(); err != nil && firstErr == nil {
				firstErr = &errors.IOError{Operation: "sync", Path: c.path, Err: err}
			}
		}
	}
	if err := s.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Info("closed store", "path", s.dir)
	return firstErr
}

// release closes open files without marking the store closed.
func (s *CircularStore) release() error {
	err := closeColumns(s.columns)
	s.columns = nil
	if s.meta != nil {
		if cerr := s.meta.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.meta = nil
	}
	s.ready.Store(false)
	return err
}

// Refresh reloads cursor and length from the meta file, picking up batches
// written by another process sharing the store directory. It is a no-op on
// a store that is not initialized or opened.
func (s *CircularStore) Refresh() error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}
	if !s.ready.Load() {
		return nil
	}
	cursor, length, err := readMeta(s.meta, s.capacity)
	if err != nil {
		return err
	}
	s.cursor.Store(int64(cursor))
	s.length.Store(int64(length))
	return nil
}

func readMeta(meta *os.File, capacity int) (cursor, length int, err error) {
	buf := make([]byte, metaSize)
	if _, err := meta.ReadAt(buf, 0); err != nil {
		return 0, 0, &errors.IOError{Operation: "read", Path: meta.Name(), Err: err}
	}
	cursor, length, err = decodeMeta(buf, capacity)
	if err != nil {
		return 0, 0, &errors.SchemaError{Reason: "corrupt cursor meta", Err: err}
	}
	return cursor, length, nil
}

func (s *CircularStore) persistMeta() error {
	buf := encodeMeta(int(s.cursor.Load()), int(s.length.Load()))
	if _, err := s.meta.WriteAt(buf, 0); err != nil {
		return &errors.IOError{Operation: "write", Path: s.meta.Name(), Err: err}
	}
	return nil
}

func (s *CircularStore) group() *errgroup.Group {
	g := new(errgroup.Group)
	g.SetLimit(s.opts.ReadWorkers)
	return g
}

func closeColumns(columns []*column) error {
	var firstErr error
	for _, c := range columns {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Length returns the number of readable rows. It is a snapshot and may be
// stale by the time the caller uses it.
func (s *CircularStore) Length() int { return int(s.length.Load()) }

// Cursor returns the offset the next batch would start from if it fits.
func (s *CircularStore) Cursor() int { return int(s.cursor.Load()) }

// Capacity returns the fixed number of rows the store holds.
func (s *CircularStore) Capacity() int { return s.capacity }

// Schema returns the schema the store was initialized or opened with.
func (s *CircularStore) Schema() record.Schema { return s.schema }

// ID returns the identifier recorded in the manifest.
func (s *CircularStore) ID() string { return s.id }

// Dir returns the store directory.
func (s *CircularStore) Dir() string { return s.dir }

// Ready reports whether the store has been initialized or opened.
func (s *CircularStore) Ready() bool { return s.ready.Load() && !s.closed.Load() }
