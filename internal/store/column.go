package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/jittakal/diskreplay/pkg/record"
)

// column is one fixed-capacity on-disk array. When mmap is set, reads and
// writes are memory copies; otherwise they go through positional file I/O.
type column struct {
	field    record.FieldSchema
	path     string
	file     *os.File
	mmap     []byte
	rowBytes int
	size     int64
}

// createColumn truncates (or creates) the file for f and sizes it for
// capacity rows. Truncating to zero first guarantees zeroed contents.
func createColumn(path string, f record.FieldSchema, capacity int, useMmap bool) (*column, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open column %s: %w", f.Name, err)
	}

	size := int64(capacity) * int64(f.RowBytes())
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, fmt.Errorf("allocate column %s: %w", f.Name, err)
	}

	return mapColumn(file, path, f, size, useMmap)
}

// openColumn opens an existing column file and checks its size.
func openColumn(path string, f record.FieldSchema, capacity int, useMmap bool) (*column, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open column %s: %w", f.Name, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat column %s: %w", f.Name, err)
	}
	size := int64(capacity) * int64(f.RowBytes())
	if info.Size() != size {
		file.Close()
		return nil, errSizeMismatch{field: f.Name, have: info.Size(), want: size}
	}

	return mapColumn(file, path, f, size, useMmap)
}

func mapColumn(file *os.File, path string, f record.FieldSchema, size int64, useMmap bool) (*column, error) {
	c := &column{
		field:    f,
		path:     path,
		file:     file,
		rowBytes: f.RowBytes(),
		size:     size,
	}

	if useMmap {
		m, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("mmap column %s: %w", f.Name, err)
		}
		// Sampled reads hit rows at random. The hint is advisory.
		_ = unix.Madvise(m, unix.MADV_RANDOM)
		c.mmap = m
	}
	return c, nil
}

// writeRows writes count contiguous rows starting at row start.
func (c *column) writeRows(start int, src []byte) error {
	off := int64(start) * int64(c.rowBytes)
	if off+int64(len(src)) > c.size {
		return fmt.Errorf("write past end of column %s", c.field.Name)
	}
	if c.mmap != nil {
		copy(c.mmap[off:off+int64(len(src))], src)
		return nil
	}
	_, err := c.file.WriteAt(src, off)
	return err
}

// readRows copies the rows at the given indices into dst in input order.
// Runs of consecutive indices are read with a single call.
func (c *column) readRows(indices []int, dst []byte) error {
	rb := c.rowBytes
	for i := 0; i < len(indices); {
		j := i + 1
		for j < len(indices) && indices[j] == indices[j-1]+1 {
			j++
		}

		off := int64(indices[i]) * int64(rb)
		chunk := dst[i*rb : j*rb]
		if c.mmap != nil {
			copy(chunk, c.mmap[off:off+int64(len(chunk))])
		} else if _, err := c.file.ReadAt(chunk, off); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (c *column) sync() error {
	if c.mmap != nil {
		return unix.Msync(c.mmap, unix.MS_SYNC)
	}
	return c.file.Sync()
}

func (c *column) close() error {
	var firstErr error
	if c.mmap != nil {
		if err := unix.Munmap(c.mmap); err != nil {
			firstErr = fmt.Errorf("unmap column %s: %w", c.field.Name, err)
		}
		c.mmap = nil
	}
	if err := c.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close column %s: %w", c.field.Name, err)
	}
	return firstErr
}

type errSizeMismatch struct {
	field      string
	have, want int64
}

func (e errSizeMismatch) Error() string {
	return fmt.Sprintf("column %s is %d bytes, want %d", e.field, e.have, e.want)
}
