package snapstore

import (
	"context"
	"testing"
	"time"

	"adsync/internal/askdelphi"
)

func sampleSnapshot(topicID string) *askdelphi.Snapshot {
	return &askdelphi.Snapshot{
		Metadata: askdelphi.SnapshotMetadata{
			Version:    askdelphi.SnapshotVersion,
			ExportedAt: "2024-01-15T10:30:00Z",
			TenantID:   "ten",
			TopicCount: 1,
		},
		Topics: map[string]askdelphi.Topic{
			topicID: {ID: topicID, Title: "Topic " + topicID, Parts: map[string]askdelphi.Part{}},
		},
	}
}

func TestSnapshotNames(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)

	if got, want := ExportName(ts), "content_export_20240115_103045.json"; got != want {
		t.Errorf("ExportName() = %q, want %q", got, want)
	}
	if got, want := BackupName(ts), "backup_before_upload_20240115_103045.json"; got != want {
		t.Errorf("BackupName() = %q, want %q", got, want)
	}
}

func TestLatestExport(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	t.Run("empty store yields empty name", func(t *testing.T) {
		name, err := LatestExport(ctx, s)
		if err != nil {
			t.Fatalf("LatestExport() error = %v", err)
		}
		if name != "" {
			t.Errorf("name = %q, want empty", name)
		}
	})

	t.Run("newest export wins, backups are ignored", func(t *testing.T) {
		base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
		for _, offset := range []time.Duration{0, time.Hour, 30 * time.Minute} {
			if err := s.Write(ctx, ExportName(base.Add(offset)), sampleSnapshot("t-1")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
		}
		if err := s.Write(ctx, BackupName(base.Add(2*time.Hour)), sampleSnapshot("t-1")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		name, err := LatestExport(ctx, s)
		if err != nil {
			t.Fatalf("LatestExport() error = %v", err)
		}
		if want := ExportName(base.Add(time.Hour)); name != want {
			t.Errorf("LatestExport() = %q, want %q", name, want)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Write(ctx, "content_export_a.json", sampleSnapshot("t-1")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := s.Read(ctx, "content_export_a.json")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if _, ok := got.Topics["t-1"]; !ok {
		t.Errorf("topics = %+v", got.Topics)
	}

	if _, err := s.Read(ctx, "missing.json"); err == nil {
		t.Error("Read() of a missing name should fail")
	}
}
