package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapConfigFilename is looked up inside the config directory.
const BootstrapConfigFilename = "server_config.yaml"

// DefaultPointCloudFile is served when data.file is not configured.
const DefaultPointCloudFile = "merged_0.pcd"

// BootstrapConfig holds the configuration loaded from server_config.yaml
type BootstrapConfig struct {
	Logging LoggingConfig   `yaml:"logging"`
	Server  ServerConfig    `yaml:"server"`
	Data    DataConfig      `yaml:"data"`
	Cache   CacheConfig     `yaml:"cache"`
	ZeroMQ  ZeroMQBootstrap `yaml:"zeromq"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	HTTPPort          int `yaml:"http_port"`
	ReadTimeoutMs     int `yaml:"read_timeout_ms"`
	WriteTimeoutMs    int `yaml:"write_timeout_ms"`
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`
}

// DataConfig locates the point cloud file. A relative File is joined to
// Directory, or to the executable's directory when Directory is empty.
type DataConfig struct {
	Directory string `yaml:"directory"`
	File      string `yaml:"file"`
}

// CacheConfig controls reuse of decoded clouds between requests
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ZeroMQBootstrap holds ZeroMQ settings; an empty address disables the bridge
type ZeroMQBootstrap struct {
	RequestBindAddress string `yaml:"request_bind_address"`
}

// Default returns the configuration used when no file is present.
func Default() *BootstrapConfig {
	return &BootstrapConfig{
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			HTTPPort:          8080,
			ReadTimeoutMs:     10000,
			WriteTimeoutMs:    30000,
			ShutdownTimeoutMs: 5000,
		},
		Data: DataConfig{File: DefaultPointCloudFile},
	}
}

// LoadBootstrapConfig loads the bootstrap configuration from server_config.yaml.
// A missing file yields Default(); values present in the file override defaults.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapConfigFilename)
	cfg := Default()

	data, err := os.ReadFile(bootstrapConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}
	return cfg, nil
}

// Validate checks fields that have no usable fallback.
func (c *BootstrapConfig) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Data.File == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.file")
	}
	if c.Server.ReadTimeoutMs < 0 || c.Server.WriteTimeoutMs < 0 || c.Server.ShutdownTimeoutMs < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	return nil
}
