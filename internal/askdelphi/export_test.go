package askdelphi_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"adsync/internal/askdelphi"
	"adsync/internal/testutil"
)

func seedTopics(cms *testutil.FakeCMS, n int) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t-%03d", i)
		cms.AddTopic(&testutil.TopicFixture{
			ID: id, VersionID: "v-" + id, Title: "Topic " + id,
			TypeID: "type-a", TypeTitle: "Procedure",
			Parts: map[string]testutil.PartFixture{
				"p-body": {Name: "Body", Type: "richtext", Group: "Content", Content: fmt.Sprintf("<p>body %d</p>", i)},
			},
		})
	}
}

func newTestExporter(t *testing.T, cms *testutil.FakeCMS) *askdelphi.Exporter {
	t.Helper()
	creds := testCreds("")
	client := newTestClient(t, cms, seededStore(cms), creds)
	return askdelphi.NewExporter(client, creds, testutil.FixedClock(), askdelphi.NewNopLogger())
}

func TestExporter_Export(t *testing.T) {
	t.Run("downloads all topics with parts", func(t *testing.T) {
		cms := testutil.NewFakeCMS("code-1")
		defer cms.Close()
		cms.AddTopicType("type-a", "Procedure")
		seedTopics(cms, 3)

		e := newTestExporter(t, cms)

		snap, err := e.Export(context.Background(), askdelphi.ExportOptions{IncludeParts: true, Workers: 4})
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		if len(snap.Topics) != 3 {
			t.Fatalf("topics = %d, want 3", len(snap.Topics))
		}
		topic := snap.Topics["t-001"]
		if topic.Title != "Topic t-001" {
			t.Errorf("title = %q", topic.Title)
		}
		if got := topic.Parts["p-body"].Content; got != "<p>body 1</p>" {
			t.Errorf("part content = %q", got)
		}
		if topic.Checksum == "" {
			t.Error("topic entry is missing its checksum")
		}

		if snap.Metadata.TopicCount != 3 || !snap.Metadata.IncludesParts {
			t.Errorf("metadata = %+v", snap.Metadata)
		}
		if snap.Metadata.ExportedAt != "2024-01-15T10:30:00Z" {
			t.Errorf("ExportedAt = %q", snap.Metadata.ExportedAt)
		}
		if len(snap.ContentDesign.TopicTypes) != 1 {
			t.Errorf("topic types = %d, want 1", len(snap.ContentDesign.TopicTypes))
		}
	})

	t.Run("serializes identically for any worker count", func(t *testing.T) {
		cms := testutil.NewFakeCMS("code-1")
		defer cms.Close()
		seedTopics(cms, 25)

		e := newTestExporter(t, cms)
		ctx := context.Background()

		sequential, err := e.Export(ctx, askdelphi.ExportOptions{IncludeParts: true, Workers: 1})
		if err != nil {
			t.Fatalf("Export(workers=1) error = %v", err)
		}
		pooled, err := e.Export(ctx, askdelphi.ExportOptions{IncludeParts: true, Workers: 10})
		if err != nil {
			t.Fatalf("Export(workers=10) error = %v", err)
		}

		var a, b bytes.Buffer
		if err := askdelphi.EncodeSnapshot(&a, sequential); err != nil {
			t.Fatal(err)
		}
		if err := askdelphi.EncodeSnapshot(&b, pooled); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a.Bytes(), b.Bytes()) {
			t.Error("snapshots differ between worker counts")
		}
	})

	t.Run("part fetch failure is recorded, not fatal", func(t *testing.T) {
		cms := testutil.NewFakeCMS("code-1")
		defer cms.Close()
		seedTopics(cms, 3)
		cms.FailParts = map[string]bool{"t-001": true}

		e := newTestExporter(t, cms)

		snap, err := e.Export(context.Background(), askdelphi.ExportOptions{IncludeParts: true, Workers: 2})
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		if len(snap.Topics) != 3 {
			t.Fatalf("topics = %d, want all 3 kept", len(snap.Topics))
		}
		if snap.Topics["t-001"].FetchError == "" {
			t.Error("failed topic should carry its fetch error")
		}
		if len(snap.Topics["t-001"].Parts) != 0 {
			t.Error("failed topic should have no parts")
		}
		if snap.Topics["t-000"].FetchError != "" || len(snap.Topics["t-000"].Parts) != 1 {
			t.Error("healthy topics should be unaffected")
		}
	})

	t.Run("metadata-only export makes no part requests", func(t *testing.T) {
		cms := testutil.NewFakeCMS("code-1")
		defer cms.Close()
		seedTopics(cms, 5)

		e := newTestExporter(t, cms)

		snap, err := e.Export(context.Background(), askdelphi.ExportOptions{IncludeParts: false})
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if len(snap.Topics) != 5 {
			t.Fatalf("topics = %d, want 5", len(snap.Topics))
		}
		if n := cms.Count("parts"); n != 0 {
			t.Errorf("part requests = %d, want 0", n)
		}
		if snap.Metadata.IncludesParts {
			t.Error("metadata should record a parts-free export")
		}
	})
}
