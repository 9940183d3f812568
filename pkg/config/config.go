package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override the bootstrap file.
const (
	EnvPointCloudPath = "POINTCLOUD_PATH"
	EnvPointCloudDir  = "POINTCLOUD_DIR"
	EnvPort           = "PORT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogPath        = "LOG_PATH"
	EnvCacheEnabled   = "CACHE_ENABLED"
	EnvZMQAddress     = "ZMQ_REQUEST_ADDRESS"
)

// LoadDotEnv loads variables from path into the process environment without
// overriding variables that are already set. It reports whether the file
// existed.
func LoadDotEnv(path string) (bool, error) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("error loading env file '%s': %w", path, err)
	}
	return true, nil
}

// ApplyEnv overrides configuration values from environment variables.
func (c *BootstrapConfig) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvPointCloudPath); ok && v != "" {
		c.Data.File = v
	}
	if v, ok := os.LookupEnv(EnvPointCloudDir); ok && v != "" {
		c.Data.Directory = v
	}
	if v, ok := os.LookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Server.HTTPPort = port
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvLogPath); ok {
		c.Logging.LogPath = v
	}
	if v, ok := os.LookupEnv(EnvCacheEnabled); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvCacheEnabled, v, err)
		}
		c.Cache.Enabled = enabled
	}
	if v, ok := os.LookupEnv(EnvZMQAddress); ok {
		c.ZeroMQ.RequestBindAddress = v
	}
	return c.Validate()
}

// ResolveCloudPath returns the absolute path of the point cloud file.
// exeDir is used when neither data.file nor data.directory is absolute.
func (c *BootstrapConfig) ResolveCloudPath(exeDir string) (string, error) {
	file := c.Data.File
	if !filepath.IsAbs(file) {
		dir := c.Data.Directory
		if dir == "" {
			dir = exeDir
		}
		file = filepath.Join(dir, file)
	}
	return filepath.Abs(file)
}

// ExecutableDir returns the directory holding the running binary.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}
