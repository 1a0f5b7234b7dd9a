package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config *GlobalConfig
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *GlobalConfig) *ConfigHelpers {
	return &ConfigHelpers{config: config}
}

// Workers returns the number of concurrent download workers
func (c *ConfigHelpers) Workers() int {
	if c.config.Workers < 1 {
		return 1
	}
	return c.config.Workers
}

// CacheDir returns the absolute path to the cache directory
func (c *ConfigHelpers) CacheDir() (string, error) {
	return filepath.Abs(c.config.CacheDir)
}

// DownloadsDir returns the directory verified downloads are cached in
func (c *ConfigHelpers) DownloadsDir() (string, error) {
	cacheDir, err := c.CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "downloads"), nil
}

// WorkDir returns the absolute path to the work directory
func (c *ConfigHelpers) WorkDir() (string, error) {
	return filepath.Abs(c.config.WorkDir)
}

// CellarDir returns the absolute path under which prefixes are created
func (c *ConfigHelpers) CellarDir() (string, error) {
	return filepath.Abs(c.config.Cellar)
}

// PrefixFor returns <cellar>/<name>/<version>. Name and version must each be
// a single path element.
func (c *ConfigHelpers) PrefixFor(name, version string) (string, error) {
	for _, elem := range []string{name, version} {
		if elem == "" || elem == "." || elem == ".." || strings.ContainsAny(elem, `/\`) {
			return "", fmt.Errorf("invalid prefix element %q", elem)
		}
	}
	cellar, err := c.CellarDir()
	if err != nil {
		return "", fmt.Errorf("resolving cellar: %w", err)
	}
	return filepath.Join(cellar, name, version), nil
}

// TempDir returns the temporary directory path
func (c *ConfigHelpers) TempDir() string {
	if c.config.TempDir == "" {
		return os.TempDir()
	}
	return c.config.TempDir
}

// LogLevel returns the configured log level
func (c *ConfigHelpers) LogLevel() string {
	return c.config.Logging.Level
}

// IsDebugMode returns true if debug logging is enabled
func (c *ConfigHelpers) IsDebugMode() bool {
	return c.config.Logging.Level == "debug"
}

// ShowProgress reports whether download progress bars should be drawn.
// In auto mode they are only drawn when stderr is a terminal.
func (c *ConfigHelpers) ShowProgress() bool {
	switch c.config.Progress {
	case ProgressAlways:
		return true
	case ProgressNever:
		return false
	default:
		fd := os.Stderr.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
}

// GetConfig returns the underlying global config (for advanced usage)
func (c *ConfigHelpers) GetConfig() *GlobalConfig {
	return c.config
}

// CreateCacheDir ensures the download cache directory exists
func (c *ConfigHelpers) CreateCacheDir() error {
	downloads, err := c.DownloadsDir()
	if err != nil {
		return fmt.Errorf("resolving cache directory: %w", err)
	}
	return createDirIfNotExists(downloads)
}

// CreateWorkDir ensures the work directory exists
func (c *ConfigHelpers) CreateWorkDir() error {
	workDir, err := c.WorkDir()
	if err != nil {
		return fmt.Errorf("resolving work directory: %w", err)
	}
	return createDirIfNotExists(workDir)
}

// CreateTempDir ensures a temp subdirectory exists
func (c *ConfigHelpers) CreateTempDir(subdir string) (string, error) {
	tempDir := filepath.Join(c.TempDir(), subdir)
	err := createDirIfNotExists(tempDir)
	return tempDir, err
}

// Helper function to create directories
func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
