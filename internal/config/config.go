// Package config handles configuration loading and validation for ratlocker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ratlocker/ratlocker/pkg/bytesize"
)

// ServerConfig holds configuration for the file server.
type ServerConfig struct {
	Listen            string        `yaml:"listen"`               // HTTP listen address (default: ":3000")
	DataDir           string        `yaml:"data_dir"`             // Storage root (default: ~/.ratlocker)
	MaxFileSize       bytesize.Size `yaml:"max_file_size"`        // Per-file upload ceiling (default: 35MB)
	MaxFilesPerUpload int           `yaml:"max_files_per_upload"` // Multipart parts per request (default: 5)
	PublicDownload    *bool         `yaml:"public_download"`      // Gate /download behind a key when false (default: true)
	Metrics           *bool         `yaml:"metrics"`              // Expose /metrics (default: true)
}

// DownloadIsPublic reports whether /download requires no upload key.
func (c *ServerConfig) DownloadIsPublic() bool {
	return c.PublicDownload == nil || *c.PublicDownload
}

// MetricsEnabled reports whether /metrics is served.
func (c *ServerConfig) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

// KeysPath returns the path of the key table document.
func (c *ServerConfig) KeysPath() string {
	return filepath.Join(c.DataDir, "keys.json")
}

// Default returns the configuration used when no config file is given.
func Default() *ServerConfig {
	cfg := &ServerConfig{}
	applyDefaults(cfg)
	return cfg
}

// LoadServerConfig loads server configuration from a YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &ServerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":3000"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "~/.ratlocker"
	}
	// Expand home directory in data dir
	if strings.HasPrefix(cfg.DataDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(homeDir, cfg.DataDir[2:])
		}
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = bytesize.Size(35 * bytesize.MB)
	}
	if cfg.MaxFilesPerUpload == 0 {
		cfg.MaxFilesPerUpload = 5
	}
}

func validate(cfg *ServerConfig) error {
	if cfg.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size must not be negative")
	}
	if cfg.MaxFilesPerUpload < 1 {
		return fmt.Errorf("max_files_per_upload must be at least 1")
	}
	return nil
}
