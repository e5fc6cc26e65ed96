package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"adsync/internal/askdelphi"
)

// Config is the main configuration for adsync.
type Config struct {
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`

	// Verbose enables debug logging. Set from the CLI flag, never persisted.
	Verbose bool `toml:"-"`

	Credentials CredentialsConfig `toml:"credentials"`
	API         APIConfig         `toml:"api"`
	TokenStore  TokenStoreConfig  `toml:"token_store"`
	Snapshots   SnapshotsConfig   `toml:"snapshots"`
	History     HistoryConfig     `toml:"history"`
	Download    DownloadConfig    `toml:"download"`
}

// CredentialsConfig identifies the project to sync against. Either a full
// CMS URL or the three discrete IDs. Environment variables override all of
// these at run time.
type CredentialsConfig struct {
	CMSURL     string `toml:"cms_url,omitempty"`
	TenantID   string `toml:"tenant_id,omitempty"`
	ProjectID  string `toml:"project_id,omitempty"`
	ACLEntryID string `toml:"acl_entry_id,omitempty"`

	// PortalCode is a one-shot session code supplied at run time (CLI
	// prompt or environment), never persisted to the config file.
	PortalCode string `toml:"-"`
}

// APIConfig holds the server endpoints and the per-request timeout.
type APIConfig struct {
	APIServer      string `toml:"api_server"`
	PortalServer   string `toml:"portal_server"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TokenStoreConfig selects the token persistence backend.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type TokenStoreConfig struct {
	Type string `toml:"type"` // "file" (default), "age", or "memory"
	Path string `toml:"path,omitempty"`
}

// SnapshotsConfig selects where exports and pre-upload backups are kept.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type SnapshotsConfig struct {
	Type string `toml:"type"` // "filesystem" (default), "s3", or "memory"
	Dir  string `toml:"dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
}

// HistoryConfig selects the run-history database backend.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite" (default) or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DownloadConfig carries download defaults that flags can override.
type DownloadConfig struct {
	Workers     int `toml:"workers"`
	RateLimitMS int `toml:"rate_limit_ms"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		API: APIConfig{
			APIServer:      askdelphi.DefaultAPIServer,
			PortalServer:   askdelphi.DefaultPortalServer,
			TimeoutSeconds: 60,
		},
		TokenStore: TokenStoreConfig{
			Type: "file",
			Path: filepath.Join(baseDir, "tokens.json"),
		},
		Snapshots: SnapshotsConfig{
			Type: "filesystem",
			Dir:  filepath.Join(baseDir, "snapshots"),
		},
		History: HistoryConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Download: DownloadConfig{
			Workers: askdelphi.DefaultWorkers,
		},
	}
}

// ApplyDefaults fills zero-valued fields from NewConfig's defaults, so a
// hand-edited file that omits whole sections still yields a complete
// configuration. Fields derived from BaseDir are only filled once BaseDir
// is known, so callers that learn the base directory late can apply again.
func (c *Config) ApplyDefaults() {
	d := NewConfig(c.BaseDir)

	if c.API.APIServer == "" {
		c.API.APIServer = d.API.APIServer
	}
	if c.API.PortalServer == "" {
		c.API.PortalServer = d.API.PortalServer
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = d.API.TimeoutSeconds
	}
	if c.TokenStore.Type == "" {
		c.TokenStore.Type = d.TokenStore.Type
	}
	if c.Snapshots.Type == "" {
		c.Snapshots.Type = d.Snapshots.Type
	}
	if c.History.Type == "" {
		c.History.Type = d.History.Type
	}
	if c.Download.Workers <= 0 {
		c.Download.Workers = d.Download.Workers
	}

	if c.BaseDir == "" {
		return
	}
	if c.LogDir == "" {
		c.LogDir = d.LogDir
	}
	if c.TokenStore.Path == "" && c.TokenStore.Type != "memory" {
		c.TokenStore.Path = d.TokenStore.Path
	}
	if c.Snapshots.Dir == "" && c.Snapshots.Type == "filesystem" {
		c.Snapshots.Dir = d.Snapshots.Dir
	}
	if c.History.DataDir == "" && c.History.Type == "sqlite" {
		c.History.DataDir = d.History.DataDir
	}
}

// ResolveCredentials merges the config file's credential section with the
// ASKDELPHI_* environment variables (environment wins) and parses a CMS URL
// when one is given.
func (c *Config) ResolveCredentials() (*askdelphi.Credentials, error) {
	creds := &askdelphi.Credentials{
		TenantID:   firstNonEmpty(os.Getenv("ASKDELPHI_TENANT_ID"), c.Credentials.TenantID),
		ProjectID:  firstNonEmpty(os.Getenv("ASKDELPHI_PROJECT_ID"), c.Credentials.ProjectID),
		ACLEntryID: firstNonEmpty(os.Getenv("ASKDELPHI_ACL_ENTRY_ID"), c.Credentials.ACLEntryID),
		PortalCode: firstNonEmpty(os.Getenv("ASKDELPHI_PORTAL_CODE"), c.Credentials.PortalCode),
	}

	if cmsURL := firstNonEmpty(os.Getenv("ASKDELPHI_CMS_URL"), c.Credentials.CMSURL); cmsURL != "" {
		tenant, project, acl, err := askdelphi.ParseCMSURL(cmsURL)
		if err != nil {
			return nil, err
		}
		// The URL fills anything not set explicitly.
		if creds.TenantID == "" {
			creds.TenantID = tenant
		}
		if creds.ProjectID == "" {
			creds.ProjectID = project
		}
		if creds.ACLEntryID == "" {
			creds.ACLEntryID = acl
		}
	}

	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the
// provided Config. Fails if one already exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
