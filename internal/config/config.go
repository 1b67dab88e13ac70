package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

// Timeouts bounds the long-running stages. Values are Go duration strings
// such as "15m" or "5s".
type Timeouts struct {
	Download time.Duration `toml:"download"`
	Grace    time.Duration `toml:"grace"`
	Gate     time.Duration `toml:"gate"`
	Install  time.Duration `toml:"install"`
}

// GitHubConfig holds credentials for the release catalog.
type GitHubConfig struct {
	Token string `toml:"token"`
	// ClientID is the OAuth app used by "gamedeck -login".
	ClientID string `toml:"client_id"`
}

// CatalogEntry pins a selector of a family to a download URL.
type CatalogEntry struct {
	Family   string `toml:"family"`
	Selector string `toml:"selector"`
	URL      string `toml:"url"`
	Version  string `toml:"version"`
}

// Config holds all gamedeck configuration.
type Config struct {
	TempDir           string         `toml:"temp_dir"`
	JavaPath          string         `toml:"java_path"`
	LogLevel          string         `toml:"log_level"`
	MetricsAddr       string         `toml:"metrics_addr"`
	ParallelDownloads int            `toml:"parallel_downloads"`
	Timeouts          Timeouts       `toml:"timeouts"`
	GitHub            GitHubConfig   `toml:"github"`
	Catalog           []CatalogEntry `toml:"catalog"`
}

const (
	defaultParallelDownloads = 4
	defaultDownloadTimeout   = 15 * time.Minute
	defaultGrace             = 5 * time.Second
	defaultGateTimeout       = 2 * time.Minute
	defaultInstallTimeout    = 10 * time.Minute
)

// ParallelDownloadsOrDefault returns ParallelDownloads if set, otherwise defaultParallelDownloads.
func (c Config) ParallelDownloadsOrDefault() int {
	if c.ParallelDownloads > 0 {
		return c.ParallelDownloads
	}
	return defaultParallelDownloads
}

// DownloadTimeoutOrDefault returns the per-download ceiling.
func (c Config) DownloadTimeoutOrDefault() time.Duration {
	return orDefault(c.Timeouts.Download, defaultDownloadTimeout)
}

// GraceOrDefault returns the termination grace window.
func (c Config) GraceOrDefault() time.Duration {
	return orDefault(c.Timeouts.Grace, defaultGrace)
}

// GateTimeoutOrDefault returns the hard timeout of a first run.
func (c Config) GateTimeoutOrDefault() time.Duration {
	return orDefault(c.Timeouts.Gate, defaultGateTimeout)
}

// InstallTimeoutOrDefault returns the hard timeout of an installer run.
func (c Config) InstallTimeoutOrDefault() time.Duration {
	return orDefault(c.Timeouts.Install, defaultInstallTimeout)
}

// TempDirOrDefault returns TempDir if set, otherwise the system temp dir.
func (c Config) TempDirOrDefault() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}

// LogLevelOrDefault parses LogLevel ("debug", "info", "warn", "error").
// Unknown or empty values give slog.LevelInfo.
func (c Config) LogLevelOrDefault() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - GAMEDECK_TEMP_DIR      overrides temp_dir
//   - GAMEDECK_JAVA          overrides java_path
//   - GAMEDECK_LOG_LEVEL     overrides log_level
//   - GAMEDECK_METRICS_ADDR  overrides metrics_addr
//   - GAMEDECK_GITHUB_TOKEN  overrides github.token (GITHUB_TOKEN is used when unset)
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// DefaultConfigPath returns the default path for the gamedeck config file,
// under the XDG config home.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "gamedeck", "config.toml")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GAMEDECK_TEMP_DIR"); v != "" {
		cfg.TempDir = v
	}
	if v := os.Getenv("GAMEDECK_JAVA"); v != "" {
		cfg.JavaPath = v
	}
	if v := os.Getenv("GAMEDECK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GAMEDECK_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" && cfg.GitHub.Token == "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("GAMEDECK_GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}
