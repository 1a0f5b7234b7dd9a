package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-edge-platform/formula-installer/internal/config/validate"
	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"
)

const (
	appName = "formula-installer"

	// ConfigEnvVar names the environment variable that points at a config file.
	ConfigEnvVar = "FORMULA_INSTALLER_CONFIG"

	ProgressAuto   = "auto"
	ProgressAlways = "always"
	ProgressNever  = "never"
)

// GlobalConfig holds the tool-wide settings.
type GlobalConfig struct {
	Workers     int               `yaml:"workers"`
	CacheDir    string            `yaml:"cache_dir"`
	WorkDir     string            `yaml:"work_dir"`
	TempDir     string            `yaml:"temp_dir"`
	Cellar      string            `yaml:"cellar"`
	Catalog     string            `yaml:"catalog"`
	Keyring     string            `yaml:"keyring"`
	Progress    string            `yaml:"progress"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
	Completions CompletionsConfig `yaml:"completions"`
}

// HTTPConfig tunes the download client.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// CompletionsConfig overrides where shell completions are copied. Empty
// values select the directories inside the install prefix.
type CompletionsConfig struct {
	Bash string `yaml:"bash"`
	Zsh  string `yaml:"zsh"`
	Fish string `yaml:"fish"`
}

// GlConfig is the configuration in effect for this process.
var GlConfig = DefaultGlobalConfig()

// DefaultGlobalConfig returns the configuration used when no file is given.
func DefaultGlobalConfig() *GlobalConfig {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(homeDir(), ".local", "share")
	}
	cacheHome, err := os.UserCacheDir()
	if err != nil {
		cacheHome = filepath.Join(os.TempDir(), "cache")
	}

	return &GlobalConfig{
		Workers:  4,
		CacheDir: filepath.Join(cacheHome, appName),
		WorkDir:  filepath.Join(dataHome, appName, "work"),
		TempDir:  "",
		Cellar:   filepath.Join(dataHome, appName, "Cellar"),
		Catalog:  "Formula",
		Progress: ProgressAuto,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() string {
	configHome, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configHome, appName, "config.yml")
}

// FindConfigFile resolves which config file to load: the explicit path,
// then $FORMULA_INSTALLER_CONFIG, then the per-user default when it exists.
// An empty result means built-in defaults.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(ConfigEnvVar); env != "" {
		return env
	}
	if def := DefaultConfigPath(); def != "" {
		if _, err := os.Stat(def); err == nil {
			return def
		}
	}
	return ""
}

// LoadGlobalConfig reads, validates and defaults the configuration at path.
// An empty path returns the defaults.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	if path == "" {
		return DefaultGlobalConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	cfg, err := parseGlobalConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func parseGlobalConfig(data []byte) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	jsonData, err := k8syaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("converting YAML to JSON: %w", err)
	}
	if string(jsonData) != "null" {
		if err := validate.ValidateConfigJSON(jsonData); err != nil {
			return nil, err
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	cfg.expandPaths()
	return cfg, nil
}

func (c *GlobalConfig) expandPaths() {
	for _, p := range []*string{
		&c.CacheDir, &c.WorkDir, &c.TempDir, &c.Cellar, &c.Catalog, &c.Keyring,
		&c.Logging.File, &c.Completions.Bash, &c.Completions.Zsh, &c.Completions.Fish,
	} {
		*p = ExpandHome(*p)
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}
