package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - ADSYNC_CONFIG_PATH: config file location (default: ~/.config/adsync.toml)
//   - ADSYNC_HOME: base directory for adsync data (default: ~/.local/share/adsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking ADSYNC_CONFIG_PATH env var first,
// then falling back to the default ~/.config/adsync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("ADSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "adsync.toml"), nil
}

// getBaseDir returns the base directory for adsync data, checking ADSYNC_HOME env var
// first, then falling back to the XDG default ~/.local/share/adsync.
func getBaseDir() (string, error) {
	if path := os.Getenv("ADSYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "adsync"), nil
}
