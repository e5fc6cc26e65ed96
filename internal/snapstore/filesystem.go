package snapstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"adsync/internal/askdelphi"
)

// FileSystemStore keeps snapshots as JSON files in a single directory.
// Writes are atomic (temp file + rename) so an interrupted export never
// leaves a truncated document behind.
type FileSystemStore struct {
	dir string
}

// NewFileSystemStore creates a store rooted at dir, creating it if needed.
func NewFileSystemStore(dir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FileSystemStore{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *FileSystemStore) Dir() string { return s.dir }

// Write stores a snapshot atomically under name.
func (s *FileSystemStore) Write(_ context.Context, name string, snap *askdelphi.Snapshot) error {
	if err := validName(name); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := askdelphi.EncodeSnapshot(&buf, snap); err != nil {
		return err
	}
	return WriteFileAtomic(filepath.Join(s.dir, name), buf.Bytes())
}

// Read loads the snapshot stored under name.
func (s *FileSystemStore) Read(_ context.Context, name string) (*askdelphi.Snapshot, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot not found: %s", name)
		}
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	return askdelphi.DecodeSnapshot(f)
}

// List returns the stored names beginning with prefix, sorted ascending.
func (s *FileSystemStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WriteFileAtomic writes data to path via a temp file in the same
// directory followed by a rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snap-*")
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
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}

	success = true
	return nil
}

var _ Store = (*FileSystemStore)(nil)
