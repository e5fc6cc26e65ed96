package snapstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"adsync/internal/askdelphi"
)

// Naming conventions for stored snapshots. Timestamped names sort
// lexicographically in chronological order.
const (
	ExportPrefix = "content_export_"
	BackupPrefix = "backup_before_upload_"
)

// Store provides an interface for snapshot storage backends. Exports and
// pre-upload backups are read and written only through this interface so a
// filesystem directory, an S3 bucket, and an in-memory map are
// interchangeable.
type Store interface {
	// Write stores a snapshot under name, replacing any existing one.
	// Backends write atomically where the medium allows it.
	Write(ctx context.Context, name string, snap *askdelphi.Snapshot) error

	// Read loads the snapshot stored under name.
	Read(ctx context.Context, name string) (*askdelphi.Snapshot, error)

	// List returns the stored names beginning with prefix, sorted
	// ascending.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ExportName builds the timestamped file name for a new export.
func ExportName(now time.Time) string {
	return ExportPrefix + now.Format("20060102_150405") + ".json"
}

// BackupName builds the timestamped file name for a pre-upload backup.
func BackupName(now time.Time) string {
	return BackupPrefix + now.Format("20060102_150405") + ".json"
}

// LatestExport returns the name of the most recent export in the store, or
// "" when none exists.
func LatestExport(ctx context.Context, s Store) (string, error) {
	names, err := s.List(ctx, ExportPrefix)
	if err != nil {
		return "", fmt.Errorf("listing exports: %w", err)
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[len(names)-1], nil
}

// validName rejects names that could escape the store's namespace.
func validName(name string) error {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid snapshot name: %q", name)
	}
	return nil
}
