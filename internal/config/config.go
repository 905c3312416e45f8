package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains runtime directory and socket configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	Socket   string `toml:"socket"`
}

// Jobs contains defaults applied to job submissions and process control.
type Jobs struct {
	Shell      string `toml:"shell"`
	DefaultMax int    `toml:"default_max"`
	DefaultTTL int    `toml:"default_ttl"`
	// KillAfter escalates a terminated job to SIGKILL after this many seconds.
	// Zero keeps the single cooperative SIGTERM.
	KillAfter      int `toml:"kill_after"`
	ReceiveTimeout int `toml:"receive_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// History contains configuration for the finished-run audit log.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Limit   int    `toml:"limit"`
}

// Metrics contains configuration for the Prometheus exposition endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for qrun.
//
// Configuration sections by subsystem:
//   - Paths: state directory and rendezvous socket
//   - Jobs: shell, submission defaults, termination and receive timeouts
//   - Logging: log format, level, and retention
//   - History: SQLite log of finished job runs
//   - Metrics: Prometheus endpoint bind address
type Config struct {
	Paths   Paths   `toml:"paths"`
	Jobs    Jobs    `toml:"jobs"`
	Logging Logging `toml:"logging"`
	History History `toml:"history"`
	Metrics Metrics `toml:"metrics"`
}

// Load reads the configuration file at path, or the first file found in
// the search order when path is empty, then normalizes and validates it. It
// returns the resolved file path and whether that file existed; a missing
// file is not an error and yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// locate applies the search order: explicit path, the user config file,
// then qrun.toml in the working directory. With nothing found it reports
// the user config path as missing.
func locate(path string) (string, bool, error) {
	candidates := []string{path}
	if strings.TrimSpace(path) == "" {
		candidates = []string{defaultConfigPath, "qrun.toml"}
	}
	for _, candidate := range candidates {
		expanded, err := ExpandPath(strings.TrimSpace(candidate))
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		switch {
		case err == nil && !info.IsDir():
			return expanded, true, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config: %w", err)
		}
	}
	fallback, err := ExpandPath(candidates[0])
	return fallback, false, err
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, filepath.Dir(c.Paths.Socket)}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) != "" {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "qrun.log")
}

// OutputPath returns the file a detached daemon's jobs write stdout and
// stderr to.
func (c *Config) OutputPath() string {
	return filepath.Join(c.Paths.StateDir, "output.log")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "qrun.pid")
}

// KillAfter returns the SIGKILL escalation delay; zero disables escalation.
func (c *Config) KillAfter() time.Duration {
	return time.Duration(c.Jobs.KillAfter) * time.Second
}

// ReceiveTimeout bounds how long the dispatcher waits for one request frame.
func (c *Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.Jobs.ReceiveTimeout) * time.Second
}

// ExpandPath resolves a leading ~ to the home directory and returns the
// absolute, cleaned path. Empty stays empty.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}
