// Package spool buffers one media item between download and upload.
// Small items stay in memory; larger ones spill to a temporary file.
package spool

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// DefaultThreshold is the in-memory limit before spilling to disk.
const DefaultThreshold int64 = 512 << 20

// ErrClosed is returned by operations on a closed buffer.
var ErrClosed = errors.New("spool: buffer closed")

// Buffer is an io.Writer that can be replayed from the start any number of
// times. It is owned by a single in-flight message and is not safe for
// concurrent use.
type Buffer struct {
	fs        afero.Fs
	dir       string
	threshold int64

	mem    bytes.Buffer
	file   afero.File
	size   int64
	closed bool
}

// New returns a buffer spilling to dir (os temp dir when empty) once more
// than threshold bytes were written. fs may be nil for the OS filesystem.
func New(fs afero.Fs, dir string, threshold int64) *Buffer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Buffer{fs: fs, dir: dir, threshold: threshold}
}

// Write appends p, promoting the buffer to a temp file when it would grow
// past the threshold.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}

	if b.file == nil && b.size+int64(len(p)) > b.threshold {
		if err := b.spill(); err != nil {
			return 0, err
		}
	}

	if b.file != nil {
		if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
			return 0, fmt.Errorf("spool: seek: %w", err)
		}
		n, err := b.file.Write(p)
		b.size += int64(n)
		return n, err
	}

	n, _ := b.mem.Write(p)
	b.size += int64(n)
	return n, nil
}

func (b *Buffer) spill() error {
	f, err := afero.TempFile(b.fs, b.dir, "teleclone-spool-*")
	if err != nil {
		return fmt.Errorf("spool: create temp file: %w", err)
	}
	if _, err := f.Write(b.mem.Bytes()); err != nil {
		_ = f.Close()
		_ = b.fs.Remove(f.Name())
		return fmt.Errorf("spool: spill: %w", err)
	}
	b.file = f
	b.mem = bytes.Buffer{}
	return nil
}

// Size returns the number of bytes written.
func (b *Buffer) Size() int64 {
	return b.size
}

// OnDisk reports whether the buffer spilled to a temp file.
func (b *Buffer) OnDisk() bool {
	return b.file != nil
}

// Reader returns a reader positioned at the first byte. Calling it again
// rewinds.
func (b *Buffer) Reader() (io.ReadSeeker, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if b.file == nil {
		return bytes.NewReader(b.mem.Bytes()), nil
	}
	return io.NewSectionReader(b.file, 0, b.size), nil
}

// Reset discards the content so the buffer can be refilled, e.g. after a
// failed download. A spilled file is truncated and kept.
func (b *Buffer) Reset() error {
	if b.closed {
		return ErrClosed
	}
	b.mem.Reset()
	b.size = 0
	if b.file != nil {
		if err := b.file.Truncate(0); err != nil {
			return fmt.Errorf("spool: truncate: %w", err)
		}
		if _, err := b.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("spool: rewind: %w", err)
		}
	}
	return nil
}

// Close releases memory and removes the temp file.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.mem = bytes.Buffer{}

	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	cerr := b.file.Close()
	rerr := b.fs.Remove(name)
	b.file = nil
	return errors.Join(cerr, rerr)
}
