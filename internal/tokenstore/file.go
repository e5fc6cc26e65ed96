package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"adsync/internal/askdelphi"
)

// FileStore persists the token set as plain JSON in a single file.
// Writes go through a temp file + rename so a crash never leaves a
// half-written cache.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the persisted token set, or (nil, nil) when the file does
// not exist.
func (s *FileStore) Load() (*askdelphi.TokenSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token cache: %w", err)
	}

	var ts askdelphi.TokenSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("parsing token cache %s: %w", s.path, err)
	}
	return &ts, nil
}

// Save replaces the persisted token set.
func (s *FileStore) Save(ts *askdelphi.TokenSet) error {
	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token set: %w", err)
	}
	return writeFileAtomic(s.path, data, 0600)
}

// Clear removes the token cache file.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token cache: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to path via a temp file in the same
// directory followed by a rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating token cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting token cache permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming token cache: %w", err)
	}

	success = true
	return nil
}

var _ askdelphi.TokenStore = (*FileStore)(nil)
