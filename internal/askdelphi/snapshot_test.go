package askdelphi

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTopicChecksum(t *testing.T) {
	t.Run("stable under volatile field changes", func(t *testing.T) {
		a := makeTopic("t-1", "One", map[string]Part{"p": {ID: "p", Content: "x"}})
		b := a
		b.VersionID = "v-other"
		b.Checksum = ""
		b.FetchError = "transient"

		if a.checksum() != b.checksum() {
			t.Error("checksum must ignore version ID, checksum, and fetch error")
		}
	})

	t.Run("sensitive to content", func(t *testing.T) {
		a := makeTopic("t-1", "One", map[string]Part{"p": {ID: "p", Content: "x"}})
		b := makeTopic("t-1", "One", map[string]Part{"p": {ID: "p", Content: "y"}})

		if a.checksum() == b.checksum() {
			t.Error("different content must produce different checksums")
		}
	})

	t.Run("stamped by NewTopicEntry", func(t *testing.T) {
		summary := TopicSummary{TopicGuid: "t-1", Title: "One", TopicVersionKey: "v-1"}
		entry := NewTopicEntry(summary, nil)

		if entry.Checksum == "" || !strings.HasPrefix(entry.Checksum, "sha256:") {
			t.Errorf("Checksum = %q", entry.Checksum)
		}
		if entry.Parts == nil {
			t.Error("Parts should be an empty map, not nil")
		}
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	creds := &Credentials{TenantID: "ten", ProjectID: "proj", ACLEntryID: "acl"}
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	snap := &Snapshot{
		Metadata: NewSnapshotMetadata(creds, 1, true, now),
		ContentDesign: SnapshotDesign{
			TopicTypes: []TopicType{{Key: "type-a", Title: "Procedure"}},
		},
		Topics: map[string]Topic{
			"t-1": makeTopic("t-1", "One", map[string]Part{
				"p-1": {ID: "p-1", Name: "Body", Type: "richtext", Group: "Content", Content: "<p>x &amp; y</p>"},
			}),
		},
	}

	var buf bytes.Buffer
	if err := EncodeSnapshot(&buf, snap); err != nil {
		t.Fatalf("EncodeSnapshot() error = %v", err)
	}

	// HTML content must survive unescaped.
	if !strings.Contains(buf.String(), "<p>x &amp; y</p>") {
		t.Error("encoded snapshot escaped HTML content")
	}

	got, err := DecodeSnapshot(&buf)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}

	if got.Metadata.Version != SnapshotVersion {
		t.Errorf("Version = %q, want %q", got.Metadata.Version, SnapshotVersion)
	}
	if got.Metadata.ExportedAt != "2024-01-15T10:30:00Z" {
		t.Errorf("ExportedAt = %q", got.Metadata.ExportedAt)
	}
	topic, ok := got.Topics["t-1"]
	if !ok {
		t.Fatal("topic t-1 missing after round trip")
	}
	if topic.Parts["p-1"].Content != "<p>x &amp; y</p>" {
		t.Errorf("part content = %q", topic.Parts["p-1"].Content)
	}
	if topic.checksum() != snap.Topics["t-1"].checksum() {
		t.Error("checksum changed across the round trip")
	}
	if len(got.ContentDesign.TopicTypes) != 1 {
		t.Errorf("topic types = %+v", got.ContentDesign.TopicTypes)
	}
}

func TestDecodeSnapshot_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing metadata", `{"topics": {}}`},
		{"missing topics", `{"_metadata": {"version": "1.0"}}`},
		{"not an object", `[1, 2, 3]`},
		{"empty input", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSnapshot(strings.NewReader(tt.input)); err == nil {
				t.Error("DecodeSnapshot() error = nil, want validation error")
			}
		})
	}
}
