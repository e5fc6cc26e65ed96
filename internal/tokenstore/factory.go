package tokenstore

import (
	"fmt"
	"os"

	"adsync/internal/askdelphi"
	"adsync/internal/config"
)

// NewStoreFromConfig creates a TokenStore based on the token store config
// type. The age backend takes its passphrase from ADSYNC_TOKEN_PASSPHRASE.
func NewStoreFromConfig(cfg config.TokenStoreConfig) (askdelphi.TokenStore, error) {
	switch cfg.Type {
	case "file", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file token store requires path to be set")
		}
		return NewFileStore(cfg.Path), nil
	case "age":
		if cfg.Path == "" {
			return nil, fmt.Errorf("age token store requires path to be set")
		}
		return NewAgeStore(cfg.Path, os.Getenv("ADSYNC_TOKEN_PASSPHRASE"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown token store type: %s", cfg.Type)
	}
}
