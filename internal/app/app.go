package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"adsync/internal/askdelphi"
	"adsync/internal/config"
	"adsync/internal/history"
	"adsync/internal/snapstore"
	"adsync/internal/tokenstore"

	"golang.org/x/term"
)

// SyncApp is the application layer between the CLI and the askdelphi
// client. It constructs all dependencies from config, exposes high-level
// operations, and manages the history DB lifecycle on Close.
type SyncApp struct {
	cfg      *config.Config
	creds    *askdelphi.Credentials
	tokens   *askdelphi.TokenManager
	client   *askdelphi.Client
	exporter *askdelphi.Exporter
	uploader *askdelphi.Uploader
	snaps    snapstore.Store
	hist     *history.DB
	clock    askdelphi.Clock
	logger   askdelphi.Logger
	op       *SyncOperation
	logFile  *os.File
}

// NewSyncApp creates a fully wired SyncApp from the given config.
// operation identifies the CLI command being run (e.g. "Download", "Upload").
// The caller must call Close when done.
func NewSyncApp(ctx context.Context, cfg *config.Config, operation, parameters string) (*SyncApp, error) {
	creds, err := cfg.ResolveCredentials()
	if err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}

	store, err := newTokenStore(cfg.TokenStore)
	if err != nil {
		return nil, fmt.Errorf("creating token store: %w", err)
	}

	snaps, err := snapstore.NewStoreFromConfig(ctx, cfg.Snapshots)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}

	hist, err := history.NewFromConfig(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID, cfg.Verbose)
	if err != nil {
		hist.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: timeout}

	clock := askdelphi.RealClock{}
	tokens := askdelphi.NewTokenManager(cfg.API.PortalServer, creds, store, httpClient, clock, logger)

	client, err := askdelphi.NewClient(cfg.API.APIServer, creds, tokens, httpClient, logger, askdelphi.UUIDGenerator{})
	if err != nil {
		hist.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating client: %w", err)
	}

	return &SyncApp{
		cfg:      cfg,
		creds:    creds,
		tokens:   tokens,
		client:   client,
		exporter: askdelphi.NewExporter(client, creds, clock, logger),
		uploader: askdelphi.NewUploader(client, logger),
		snaps:    snaps,
		hist:     hist,
		clock:    clock,
		logger:   logger,
		op:       NewSyncOperation(operation, parameters),
		logFile:  logFile,
	}, nil
}

// newTokenStore builds the configured token store. For the age backend,
// when ADSYNC_TOKEN_PASSPHRASE is unset and stdin is a terminal, the
// passphrase is prompted for instead.
func newTokenStore(cfg config.TokenStoreConfig) (askdelphi.TokenStore, error) {
	if cfg.Type == "age" && os.Getenv("ADSYNC_TOKEN_PASSPHRASE") == "" {
		if cfg.Path == "" {
			return nil, fmt.Errorf("age token store requires path to be set")
		}
		passphrase, err := promptPassphrase("Token store passphrase: ")
		if err != nil {
			return nil, err
		}
		return tokenstore.NewAgeStore(cfg.Path, passphrase)
	}
	return tokenstore.NewStoreFromConfig(cfg)
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required: set ADSYNC_TOKEN_PASSPHRASE or run interactively")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// persistOperation saves the sync operation to the history database, giving
// it an auto-increment ID. This should only be called for commands that talk
// to the remote project.
func (a *SyncApp) persistOperation() error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	run, err := a.hist.StartRun(a.op.Operation, a.op.Parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting sync operation: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

// Login runs the full authentication flow and reports the API token expiry.
// A fresh portal code must be available when no stored tokens work.
func (a *SyncApp) Login(ctx context.Context) (time.Time, error) {
	if err := a.client.Authenticate(ctx); err != nil {
		return time.Time{}, err
	}
	ts, err := a.tokens.Current()
	if err != nil || ts == nil {
		return time.Time{}, err
	}
	return ts.APITokenExpiry, nil
}

// AuthStatus returns the stored token set, or nil when none exists.
func (a *SyncApp) AuthStatus() (*askdelphi.TokenSet, error) {
	return a.tokens.Current()
}

// Logout removes all stored tokens.
func (a *SyncApp) Logout() error {
	return a.tokens.Clear()
}

// DownloadOptions controls the Download operation.
type DownloadOptions struct {
	// Output is an explicit file path for the snapshot. When empty the
	// snapshot is written to the snapshot store under a timestamped name.
	Output string

	Workers      int
	IncludeParts bool
	TopicTypeIDs []string
}

// DownloadResult summarizes a completed download.
type DownloadResult struct {
	Snapshot   *askdelphi.Snapshot
	Location   string // file path or store name
	TopicCount int
	ErrorCount int
}

// Download exports the remote project into a snapshot and persists it.
func (a *SyncApp) Download(ctx context.Context, opts DownloadOptions) (*DownloadResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = a.cfg.Download.Workers
	}
	snap, err := a.exporter.Export(ctx, askdelphi.ExportOptions{
		IncludeParts: opts.IncludeParts,
		Workers:      workers,
		TopicTypeIDs: opts.TopicTypeIDs,
		Delay:        time.Duration(a.cfg.Download.RateLimitMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	errorCount := 0
	for _, t := range snap.Topics {
		if t.FetchError != "" {
			errorCount++
		}
	}

	result := &DownloadResult{
		Snapshot:   snap,
		TopicCount: len(snap.Topics),
		ErrorCount: errorCount,
	}

	if opts.Output != "" {
		if err := writeSnapshotFile(opts.Output, snap); err != nil {
			return nil, err
		}
		result.Location = opts.Output
	} else {
		name := snapstore.ExportName(a.clock.Now())
		if err := a.snaps.Write(ctx, name, snap); err != nil {
			return nil, fmt.Errorf("writing snapshot: %w", err)
		}
		result.Location = name
	}

	a.op.TopicCount = result.TopicCount
	a.op.ErrorCount = result.ErrorCount
	a.op.SnapshotName = result.Location
	return result, nil
}

// UploadOptions controls the Upload operation.
type UploadOptions struct {
	// SnapshotPath is the edited snapshot file to apply.
	SnapshotPath string

	// OriginalPath is an explicit baseline snapshot file. When empty the
	// latest export in the snapshot store is used, and when the store has
	// none, a fresh metadata-and-parts download serves as baseline.
	OriginalPath string

	DryRun   bool
	NoBackup bool
}

// UploadResult carries the detected changes and, for live runs, the outcome
// of applying them.
type UploadResult struct {
	Changes    *askdelphi.ChangeReport
	Report     *askdelphi.UploadReport
	BackupName string
}

// PlanUpload loads the edited snapshot and its baseline and detects changes
// without touching the remote project. The returned snapshot is the edited
// one, ready to be passed to ApplyUpload.
func (a *SyncApp) PlanUpload(ctx context.Context, opts UploadOptions) (*askdelphi.Snapshot, *askdelphi.ChangeReport, error) {
	edited, err := readSnapshotFile(opts.SnapshotPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading edited snapshot: %w", err)
	}

	baseline, err := a.loadBaseline(ctx, opts.OriginalPath)
	if err != nil {
		return nil, nil, err
	}

	return edited, askdelphi.DetectChanges(baseline, edited), nil
}

// ApplyUpload applies a previously detected change report. Unless NoBackup
// is set, the current remote state is downloaded and stored first.
func (a *SyncApp) ApplyUpload(ctx context.Context, edited *askdelphi.Snapshot, changes *askdelphi.ChangeReport, opts UploadOptions) (*UploadResult, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}

	result := &UploadResult{Changes: changes}

	if !opts.NoBackup {
		backup, err := a.exporter.Export(ctx, askdelphi.ExportOptions{
			IncludeParts: true,
			Workers:      a.cfg.Download.Workers,
			Delay:        time.Duration(a.cfg.Download.RateLimitMS) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("creating pre-upload backup: %w", err)
		}
		name := snapstore.BackupName(a.clock.Now())
		if err := a.snaps.Write(ctx, name, backup); err != nil {
			return nil, fmt.Errorf("writing pre-upload backup: %w", err)
		}
		result.BackupName = name
		a.logger.Info("pre-upload backup stored", "name", name)
	}

	report := a.uploader.Apply(ctx, changes, edited, askdelphi.UploadOptions{
		Delay: time.Duration(a.cfg.Download.RateLimitMS) * time.Millisecond,
	})
	result.Report = report

	a.op.TopicCount = len(report.Created) + len(report.Updated)
	a.op.ErrorCount = len(report.Errors)
	a.op.SnapshotName = result.BackupName
	if len(report.Errors) > 0 {
		a.op.Status = "error"
	}
	return result, nil
}

// loadBaseline picks the comparison snapshot for an upload.
func (a *SyncApp) loadBaseline(ctx context.Context, originalPath string) (*askdelphi.Snapshot, error) {
	if originalPath != "" {
		snap, err := readSnapshotFile(originalPath)
		if err != nil {
			return nil, fmt.Errorf("reading baseline snapshot: %w", err)
		}
		return snap, nil
	}

	name, err := snapstore.LatestExport(ctx, a.snaps)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot store: %w", err)
	}
	if name != "" {
		a.logger.Info("using stored baseline", "name", name)
		return a.snaps.Read(ctx, name)
	}

	a.logger.Info("no stored baseline, downloading current state")
	return a.exporter.Export(ctx, askdelphi.ExportOptions{
		IncludeParts: true,
		Workers:      a.cfg.Download.Workers,
		Delay:        time.Duration(a.cfg.Download.RateLimitMS) * time.Millisecond,
	})
}

// ListSnapshots returns the names of stored exports and backups.
func (a *SyncApp) ListSnapshots(ctx context.Context) ([]string, error) {
	return a.snaps.List(ctx, "")
}

// GetHistory returns the most recent sync runs.
func (a *SyncApp) GetHistory(limit int) ([]*history.SyncRun, error) {
	return a.hist.RecentRuns(limit)
}

// Fail marks the current operation as failed. The CLI calls this before
// Close when a command returns an error.
func (a *SyncApp) Fail() {
	a.op.Status = "error"
}

// Close finalizes the operation record and closes all resources.
func (a *SyncApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		err := a.hist.FinishRun(a.op.ID, a.op.Status, a.op.TopicCount, a.op.ErrorCount, a.op.SnapshotName, a.clock.Now())
		if err != nil {
			firstErr = fmt.Errorf("finishing sync operation: %w", err)
		}
	}

	if err := a.hist.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing history database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// readSnapshotFile loads a snapshot from an arbitrary file path.
func readSnapshotFile(path string) (*askdelphi.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return askdelphi.DecodeSnapshot(f)
}

// writeSnapshotFile stores a snapshot at an arbitrary file path, atomically.
func writeSnapshotFile(path string, snap *askdelphi.Snapshot) error {
	var buf bytes.Buffer
	if err := askdelphi.EncodeSnapshot(&buf, snap); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := snapstore.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}
