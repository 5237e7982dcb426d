package media

import (
	"context"
	"fmt"
	"io"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/telegram"
)

// Part sizes accepted by the upload endpoint.
const (
	DefaultPartSize         = 512 * 1024
	DefaultFallbackPartSize = 256 * 1024
)

// Uploader turns a byte stream into an uploaded file handle.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, size int64, name string, partSize int) (*telegram.InputFile, error)
}

// Source replays the bytes to upload from the start.
type Source interface {
	Reader() (io.ReadSeeker, error)
	Size() int64
}

// UploadConfig controls the part-size fallback.
type UploadConfig struct {
	PartSize         int
	FallbackPartSize int
	Retries          int // same-size retries after a rejected part layout
}

// DefaultUploadConfig uses 512 KiB parts, one retry, then 256 KiB.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:         DefaultPartSize,
		FallbackPartSize: DefaultFallbackPartSize,
		Retries:          1,
	}
}

func (c UploadConfig) attempts() []int {
	primary := c.PartSize
	if primary <= 0 {
		primary = DefaultPartSize
	}
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}

	sizes := make([]int, 0, retries+2)
	for i := 0; i <= retries; i++ {
		sizes = append(sizes, primary)
	}
	if c.FallbackPartSize > 0 && c.FallbackPartSize != primary {
		sizes = append(sizes, c.FallbackPartSize)
	}
	return sizes
}

// Upload sends src through up. A rejected part layout rewinds and retries
// with the primary size, then once with the fallback size; any other error
// is returned at once. Flood waits are absorbed by flood.
func Upload(ctx context.Context, up Uploader, flood *telegram.FloodPolicy, src Source, name string, cfg UploadConfig, log *logger.Logger) (*telegram.InputFile, error) {
	if log == nil {
		log = logger.Get()
	}

	var lastErr error
	for i, partSize := range cfg.attempts() {
		var file *telegram.InputFile
		err := flood.Do(ctx, "upload", func(ctx context.Context) error {
			r, err := src.Reader()
			if err != nil {
				return err
			}
			file, err = up.Upload(ctx, r, src.Size(), name, partSize)
			return err
		})
		if err == nil {
			return file, nil
		}
		if !telegram.IsFilePartsInvalid(err) {
			return nil, err
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("file", name).
			Int("attempt", i+1).
			Int("part_kb", partSize/1024).
			Msg("media: upload parts rejected, retrying")
	}
	return nil, fmt.Errorf("upload %s: all part sizes rejected: %w", name, lastErr)
}
