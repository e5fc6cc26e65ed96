package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"adsync/internal/app"
	"adsync/internal/askdelphi"
	"adsync/internal/config"
	"adsync/internal/testutil"
)

// newTestConfig points a default config at the fake CMS and a temp base dir.
func newTestConfig(t *testing.T, cms *testutil.FakeCMS) *config.Config {
	t.Helper()

	cfg := config.NewConfig(t.TempDir())
	cfg.API.APIServer = cms.URL()
	cfg.API.PortalServer = cms.URL()

	t.Setenv("ASKDELPHI_TENANT_ID", "tenant-a")
	t.Setenv("ASKDELPHI_PROJECT_ID", "project-b")
	t.Setenv("ASKDELPHI_ACL_ENTRY_ID", "acl-c")
	t.Setenv("ASKDELPHI_PORTAL_CODE", "code-1")
	return cfg
}

func TestSyncApp_DownloadUploadCycle(t *testing.T) {
	cms := testutil.NewFakeCMS("code-1")
	defer cms.Close()

	cms.AddTopicType("type-proc", "Procedure")
	cms.AddTopic(&testutil.TopicFixture{
		ID: "t-1", VersionID: "v-1", Title: "Install pump", TypeID: "type-proc", TypeTitle: "Procedure",
		Parts: map[string]testutil.PartFixture{
			"p-body": {Name: "Body", Type: "richtext", Group: "Content", Content: "<p>old</p>"},
		},
	})
	cms.AddTopic(&testutil.TopicFixture{
		ID: "t-2", VersionID: "v-2", Title: "Remove pump", TypeID: "type-proc", TypeTitle: "Procedure",
		Parts: map[string]testutil.PartFixture{
			"p-body": {Name: "Body", Type: "richtext", Group: "Content", Content: "<p>other</p>"},
		},
	})

	ctx := context.Background()
	cfg := newTestConfig(t, cms)

	// Download everything into the snapshot store.
	a, err := app.NewSyncApp(ctx, cfg, "Download", "")
	if err != nil {
		t.Fatalf("NewSyncApp() error = %v", err)
	}
	result, err := a.Download(ctx, app.DownloadOptions{IncludeParts: true})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if result.TopicCount != 2 {
		t.Fatalf("TopicCount = %d, want 2", result.TopicCount)
	}
	if result.ErrorCount != 0 {
		t.Fatalf("ErrorCount = %d, want 0", result.ErrorCount)
	}

	exportPath := filepath.Join(cfg.Snapshots.Dir, result.Location)
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("reading stored export: %v", err)
	}

	// Edit one part and write the edited snapshot to its own file.
	edited, err := askdelphi.DecodeSnapshot(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}
	topic := edited.Topics["t-1"]
	part := topic.Parts["p-body"]
	part.Content = "<p>new</p>"
	topic.Parts["p-body"] = part
	edited.Topics["t-1"] = topic

	editedPath := filepath.Join(t.TempDir(), "edited.json")
	f, err := os.Create(editedPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := askdelphi.EncodeSnapshot(f, edited); err != nil {
		t.Fatalf("EncodeSnapshot() error = %v", err)
	}
	f.Close()

	// Upload: baseline comes from the snapshot store automatically.
	a2, err := app.NewSyncApp(ctx, cfg, "Upload", editedPath)
	if err != nil {
		t.Fatalf("NewSyncApp() error = %v", err)
	}
	opts := app.UploadOptions{SnapshotPath: editedPath}

	editedSnap, changes, err := a2.PlanUpload(ctx, opts)
	if err != nil {
		t.Fatalf("PlanUpload() error = %v", err)
	}
	if len(changes.ModifiedTopics) != 1 || changes.ModifiedTopics[0].TopicID != "t-1" {
		t.Fatalf("ModifiedTopics = %+v, want exactly t-1", changes.ModifiedTopics)
	}
	if len(changes.NewTopics) != 0 || len(changes.DeletedTopics) != 0 {
		t.Fatalf("unexpected new/deleted topics: %+v", changes)
	}

	upResult, err := a2.ApplyUpload(ctx, editedSnap, changes, opts)
	if err != nil {
		t.Fatalf("ApplyUpload() error = %v", err)
	}
	if err := a2.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(upResult.Report.Updated) != 1 {
		t.Fatalf("Updated = %+v, want 1 topic", upResult.Report.Updated)
	}
	if upResult.BackupName == "" {
		t.Error("expected a pre-upload backup name")
	}
	if got := cms.Topic("t-1").Parts["p-body"].Content; got != "<p>new</p>" {
		t.Errorf("remote part content = %q, want %q", got, "<p>new</p>")
	}

	// History survives across app instances.
	a3, err := app.NewSyncApp(ctx, cfg, "GetHistory", "")
	if err != nil {
		t.Fatalf("NewSyncApp() error = %v", err)
	}
	defer a3.Close()

	runs, err := a3.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("recorded runs = %d, want 2", len(runs))
	}
	// Newest first.
	if runs[0].Operation != "Upload" || runs[1].Operation != "Download" {
		t.Errorf("run order = %s, %s; want Upload, Download", runs[0].Operation, runs[1].Operation)
	}
	for _, r := range runs {
		if r.Status != "success" {
			t.Errorf("run %s status = %q, want success", r.Operation, r.Status)
		}
	}

	// Both a stored export and the pre-upload backup exist.
	names, err := a3.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(names) != 2 {
		t.Errorf("stored snapshots = %v, want export + backup", names)
	}
}

func TestSyncApp_DownloadToExplicitFile(t *testing.T) {
	cms := testutil.NewFakeCMS("code-1")
	defer cms.Close()
	cms.AddTopic(&testutil.TopicFixture{ID: "t-1", VersionID: "v-1", Title: "Only topic"})

	ctx := context.Background()
	cfg := newTestConfig(t, cms)

	a, err := app.NewSyncApp(ctx, cfg, "Download", "")
	if err != nil {
		t.Fatalf("NewSyncApp() error = %v", err)
	}
	defer a.Close()

	out := filepath.Join(t.TempDir(), "out.json")
	result, err := a.Download(ctx, app.DownloadOptions{Output: out, IncludeParts: false})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if result.Location != out {
		t.Errorf("Location = %q, want %q", result.Location, out)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	defer f.Close()
	snap, err := askdelphi.DecodeSnapshot(f)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}
	if len(snap.Topics) != 1 {
		t.Errorf("topics in output = %d, want 1", len(snap.Topics))
	}
	if snap.Metadata.IncludesParts {
		t.Error("metadata should record a parts-free export")
	}
}
