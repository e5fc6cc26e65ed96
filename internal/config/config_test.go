package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"adsync/internal/askdelphi"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/home/user/.local/share/adsync",
		LogDir:  "/home/user/.local/share/adsync/log",
		Credentials: CredentialsConfig{
			TenantID:   "tenant-a",
			ProjectID:  "project-b",
			ACLEntryID: "acl-c",
		},
		API: APIConfig{
			APIServer:      "https://api.example.com",
			PortalServer:   "https://portal.example.com",
			TimeoutSeconds: 30,
		},
		TokenStore: TokenStoreConfig{Type: "age", Path: "/tokens.age"},
		Snapshots: SnapshotsConfig{
			Type:     "s3",
			S3Bucket: "snapshots",
			S3Prefix: "adsync/",
			S3Region: "eu-west-1",
		},
		History:  HistoryConfig{Type: "sqlite", DataDir: "/data"},
		Download: DownloadConfig{Workers: 8, RateLimitMS: 250},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Credentials.TenantID != "tenant-a" {
		t.Errorf("Credentials.TenantID = %q, want %q", got.Credentials.TenantID, "tenant-a")
	}
	if got.API.APIServer != original.API.APIServer {
		t.Errorf("API.APIServer = %q, want %q", got.API.APIServer, original.API.APIServer)
	}
	if got.API.TimeoutSeconds != 30 {
		t.Errorf("API.TimeoutSeconds = %d, want %d", got.API.TimeoutSeconds, 30)
	}
	if got.TokenStore.Type != "age" {
		t.Errorf("TokenStore.Type = %q, want %q", got.TokenStore.Type, "age")
	}
	if got.Snapshots.Type != "s3" {
		t.Errorf("Snapshots.Type = %q, want %q", got.Snapshots.Type, "s3")
	}
	if got.Snapshots.S3Bucket != "snapshots" {
		t.Errorf("Snapshots.S3Bucket = %q, want %q", got.Snapshots.S3Bucket, "snapshots")
	}
	if got.History.Type != "sqlite" {
		t.Errorf("History.Type = %q, want %q", got.History.Type, "sqlite")
	}
	if got.Download.Workers != 8 {
		t.Errorf("Download.Workers = %d, want %d", got.Download.Workers, 8)
	}
	if got.Download.RateLimitMS != 250 {
		t.Errorf("Download.RateLimitMS = %d, want %d", got.Download.RateLimitMS, 250)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/adsync")

	if cfg.BaseDir != "/data/adsync" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/adsync")
	}
	if cfg.LogDir != "/data/adsync/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/adsync/log")
	}
	if cfg.TokenStore.Type != "file" {
		t.Errorf("TokenStore.Type = %q, want %q", cfg.TokenStore.Type, "file")
	}
	if cfg.TokenStore.Path != "/data/adsync/tokens.json" {
		t.Errorf("TokenStore.Path = %q, want %q", cfg.TokenStore.Path, "/data/adsync/tokens.json")
	}
	if cfg.Snapshots.Dir != "/data/adsync/snapshots" {
		t.Errorf("Snapshots.Dir = %q, want %q", cfg.Snapshots.Dir, "/data/adsync/snapshots")
	}
	if cfg.History.DataDir != "/data/adsync/data" {
		t.Errorf("History.DataDir = %q, want %q", cfg.History.DataDir, "/data/adsync/data")
	}
	if cfg.API.TimeoutSeconds != 60 {
		t.Errorf("API.TimeoutSeconds = %d, want %d", cfg.API.TimeoutSeconds, 60)
	}
	if cfg.API.APIServer == "" {
		t.Error("API.APIServer is empty")
	}
	if cfg.Download.Workers <= 0 {
		t.Errorf("Download.Workers = %d, want > 0", cfg.Download.Workers)
	}
}

func TestResolveCredentials(t *testing.T) {
	clearEnv := func(t *testing.T) {
		t.Helper()
		for _, key := range []string{
			"ASKDELPHI_TENANT_ID", "ASKDELPHI_PROJECT_ID", "ASKDELPHI_ACL_ENTRY_ID",
			"ASKDELPHI_CMS_URL", "ASKDELPHI_PORTAL_CODE",
		} {
			t.Setenv(key, "")
		}
	}

	t.Run("uses config values", func(t *testing.T) {
		clearEnv(t)
		cfg := NewConfig(t.TempDir())
		cfg.Credentials = CredentialsConfig{
			TenantID:   "tenant-a",
			ProjectID:  "project-b",
			ACLEntryID: "acl-c",
		}

		creds, err := cfg.ResolveCredentials()
		if err != nil {
			t.Fatalf("ResolveCredentials() error = %v", err)
		}
		if creds.TenantID != "tenant-a" {
			t.Errorf("TenantID = %q, want %q", creds.TenantID, "tenant-a")
		}
		if creds.ProjectID != "project-b" {
			t.Errorf("ProjectID = %q, want %q", creds.ProjectID, "project-b")
		}
		if creds.ACLEntryID != "acl-c" {
			t.Errorf("ACLEntryID = %q, want %q", creds.ACLEntryID, "acl-c")
		}
	})

	t.Run("environment overrides config", func(t *testing.T) {
		clearEnv(t)
		cfg := NewConfig(t.TempDir())
		cfg.Credentials = CredentialsConfig{
			TenantID:   "tenant-a",
			ProjectID:  "project-b",
			ACLEntryID: "acl-c",
			PortalCode: "code-prompted",
		}
		t.Setenv("ASKDELPHI_TENANT_ID", "tenant-env")
		t.Setenv("ASKDELPHI_PORTAL_CODE", "code-env")

		creds, err := cfg.ResolveCredentials()
		if err != nil {
			t.Fatalf("ResolveCredentials() error = %v", err)
		}
		if creds.TenantID != "tenant-env" {
			t.Errorf("TenantID = %q, want %q", creds.TenantID, "tenant-env")
		}
		if creds.ProjectID != "project-b" {
			t.Errorf("ProjectID = %q, want %q", creds.ProjectID, "project-b")
		}
		if creds.PortalCode != "code-env" {
			t.Errorf("PortalCode = %q, want %q", creds.PortalCode, "code-env")
		}
	})

	t.Run("uses explicit portal code", func(t *testing.T) {
		clearEnv(t)
		cfg := NewConfig(t.TempDir())
		cfg.Credentials = CredentialsConfig{
			TenantID:   "tenant-a",
			ProjectID:  "project-b",
			ACLEntryID: "acl-c",
			PortalCode: "code-prompted",
		}

		creds, err := cfg.ResolveCredentials()
		if err != nil {
			t.Fatalf("ResolveCredentials() error = %v", err)
		}
		if creds.PortalCode != "code-prompted" {
			t.Errorf("PortalCode = %q, want %q", creds.PortalCode, "code-prompted")
		}
	})

	t.Run("CMS URL fills missing IDs", func(t *testing.T) {
		clearEnv(t)
		cfg := NewConfig(t.TempDir())
		cfg.Credentials = CredentialsConfig{
			CMSURL:   "https://cms.example.com/cms/tenant/1a1a/project/2b2b/acl/3c3c/home",
			TenantID: "tenant-explicit",
		}

		creds, err := cfg.ResolveCredentials()
		if err != nil {
			t.Fatalf("ResolveCredentials() error = %v", err)
		}
		if creds.TenantID != "tenant-explicit" {
			t.Errorf("TenantID = %q, want explicit value kept", creds.TenantID)
		}
		if creds.ProjectID != "2b2b" {
			t.Errorf("ProjectID = %q, want %q", creds.ProjectID, "2b2b")
		}
		if creds.ACLEntryID != "3c3c" {
			t.Errorf("ACLEntryID = %q, want %q", creds.ACLEntryID, "3c3c")
		}
	})

	t.Run("fails when IDs are missing", func(t *testing.T) {
		clearEnv(t)
		cfg := NewConfig(t.TempDir())
		cfg.Credentials = CredentialsConfig{TenantID: "tenant-a"}

		if _, err := cfg.ResolveCredentials(); err == nil {
			t.Fatal("ResolveCredentials() expected error with missing IDs")
		}
	})

	t.Run("fails on unparseable CMS URL", func(t *testing.T) {
		clearEnv(t)
		cfg := NewConfig(t.TempDir())
		cfg.Credentials = CredentialsConfig{CMSURL: "https://example.com/nothing/here"}

		if _, err := cfg.ResolveCredentials(); err == nil {
			t.Fatal("ResolveCredentials() expected error for unparseable URL")
		}
	})
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "adsync.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "adsync.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "adsync.toml")
		cfg := NewConfig(dir)
		cfg.History = HistoryConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.History.Type != "memory" {
			t.Errorf("History.Type = %q, want %q", got.History.Type, "memory")
		}
	})

	t.Run("fills defaults for a minimal hand-written file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "adsync.toml")
		raw := "base_dir = \"" + dir + "\"\n\n[credentials]\ntenant_id = \"tenant-a\"\n"
		if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
			t.Fatalf("writing config: %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.API.APIServer != askdelphi.DefaultAPIServer {
			t.Errorf("API.APIServer = %q, want %q", got.API.APIServer, askdelphi.DefaultAPIServer)
		}
		if got.API.PortalServer != askdelphi.DefaultPortalServer {
			t.Errorf("API.PortalServer = %q, want %q", got.API.PortalServer, askdelphi.DefaultPortalServer)
		}
		if got.API.TimeoutSeconds != 60 {
			t.Errorf("API.TimeoutSeconds = %d, want %d", got.API.TimeoutSeconds, 60)
		}
		if got.TokenStore.Path != filepath.Join(dir, "tokens.json") {
			t.Errorf("TokenStore.Path = %q, want under %q", got.TokenStore.Path, dir)
		}
		if got.Snapshots.Dir != filepath.Join(dir, "snapshots") {
			t.Errorf("Snapshots.Dir = %q, want under %q", got.Snapshots.Dir, dir)
		}
		if got.History.DataDir != filepath.Join(dir, "data") {
			t.Errorf("History.DataDir = %q, want under %q", got.History.DataDir, dir)
		}
		if got.Download.Workers <= 0 {
			t.Errorf("Download.Workers = %d, want > 0", got.Download.Workers)
		}
		if got.Credentials.TenantID != "tenant-a" {
			t.Errorf("Credentials.TenantID = %q, want %q", got.Credentials.TenantID, "tenant-a")
		}
	})

	t.Run("keeps explicit values over defaults", func(t *testing.T) {
		cfg := &Config{
			BaseDir: "/data/adsync",
			API:     APIConfig{APIServer: "https://api.example.com", TimeoutSeconds: 15},
			History: HistoryConfig{Type: "memory"},
		}
		cfg.ApplyDefaults()

		if cfg.API.APIServer != "https://api.example.com" {
			t.Errorf("API.APIServer = %q, want the explicit value kept", cfg.API.APIServer)
		}
		if cfg.API.TimeoutSeconds != 15 {
			t.Errorf("API.TimeoutSeconds = %d, want %d", cfg.API.TimeoutSeconds, 15)
		}
		if cfg.API.PortalServer != askdelphi.DefaultPortalServer {
			t.Errorf("API.PortalServer = %q, want the default", cfg.API.PortalServer)
		}
		if cfg.History.Type != "memory" {
			t.Errorf("History.Type = %q, want %q", cfg.History.Type, "memory")
		}
		if cfg.History.DataDir != "" {
			t.Errorf("History.DataDir = %q, want empty for a memory backend", cfg.History.DataDir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/adsync.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
