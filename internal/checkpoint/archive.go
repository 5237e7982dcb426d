package checkpoint

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/blockedby/teleclone/internal/logger"
)

// ArchiveFile is the checkpoint file name inside an export directory.
const ArchiveFile = "checkpoint.json"

type archiveDoc struct {
	DoneIDs []int `json:"done_ids"`
	Bytes   int64 `json:"bytes"`
}

// Archive tracks which messages of an export have their media on disk and
// how many bytes were written. Persistence failures are logged, never
// returned, so a full disk cannot stop an export midway.
type Archive struct {
	fs   afero.Fs
	path string
	log  *logger.Logger

	mu   sync.Mutex
	done map[int]bool
	doc  archiveDoc
}

// LoadArchive reads dir/checkpoint.json. A missing or unreadable file
// yields an empty checkpoint.
func LoadArchive(fs afero.Fs, dir string, log *logger.Logger) *Archive {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.Get()
	}

	a := &Archive{
		fs:   fs,
		path: filepath.Join(dir, ArchiveFile),
		log:  log,
		done: make(map[int]bool),
	}

	data, err := afero.ReadFile(fs, a.path)
	if err != nil {
		return a
	}
	var doc archiveDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("path", a.path).Msg("checkpoint: unreadable archive checkpoint, starting fresh")
		return a
	}

	a.doc.Bytes = doc.Bytes
	for _, id := range doc.DoneIDs {
		if !a.done[id] {
			a.done[id] = true
			a.doc.DoneIDs = append(a.doc.DoneIDs, id)
		}
	}
	return a
}

// Done reports whether the message's media was already exported.
func (a *Archive) Done(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done[id]
}

// Bytes returns the total size of the files written so far.
func (a *Archive) Bytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc.Bytes
}

// DoneCount returns the number of completed messages.
func (a *Archive) DoneCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.doc.DoneIDs)
}

// MarkDone records id with size written bytes and saves the file.
func (a *Archive) MarkDone(id int, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done[id] {
		return
	}
	a.done[id] = true
	a.doc.DoneIDs = append(a.doc.DoneIDs, id)
	a.doc.Bytes += size

	data, err := json.MarshalIndent(a.doc, "", "  ")
	if err != nil {
		a.log.Error().Err(err).Msg("checkpoint: encode archive checkpoint")
		return
	}
	if err := WriteAtomic(a.fs, a.path, data); err != nil {
		a.log.Error().Err(err).Str("path", a.path).Msg("checkpoint: failed to save archive checkpoint")
	}
}
