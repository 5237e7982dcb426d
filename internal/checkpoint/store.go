// Package checkpoint persists resume points for transfers and exports.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/afero"
)

// Document is the on-disk transfer checkpoint:
// source conversation id → topic id → last forwarded message id.
type Document map[string]map[string]int

// Store is the transfer checkpoint file. Every call loads the whole
// document, mutates it and rewrites it atomically.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore creates a store over path. fs may be nil for the OS filesystem.
func NewStore(fs afero.Fs, path string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, path: path}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

func key[T int | int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

// Get returns the last forwarded id for the pair. ok is false when the
// pair was never checkpointed.
func (s *Store) Get(conv int64, topic int) (id int, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, false, err
	}
	id, ok = doc[key(conv)][key(topic)]
	return id, ok, nil
}

// Update records id for the pair. The stored value never decreases, so
// completions arriving out of order keep the highest id.
func (s *Store) Update(conv int64, topic int, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	grp, ok := doc[key(conv)]
	if !ok {
		grp = make(map[string]int)
		doc[key(conv)] = grp
	}
	if cur, ok := grp[key(topic)]; ok && cur >= id {
		return nil
	}
	grp[key(topic)] = id

	return s.save(doc)
}

// Clear forgets the pair so the next run starts from the beginning.
func (s *Store) Clear(conv int64, topic int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	grp, ok := doc[key(conv)]
	if !ok {
		return nil
	}
	delete(grp, key(topic))
	if len(grp) == 0 {
		delete(doc, key(conv))
	}
	return s.save(doc)
}

// All returns a copy of the whole document.
func (s *Store) All() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Document, error) {
	doc := make(Document)

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return WriteAtomic(s.fs, s.path, data)
}

// WriteAtomic writes data to a sibling temp file and renames it over path,
// so readers see either the old or the new content.
func WriteAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
