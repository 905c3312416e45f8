package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeJobs()
	c.normalizeLogging()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" || c.Paths.StateDir == defaultStateDir {
		if base, ok := os.LookupEnv(stateDirEnvironmentXDG); ok && strings.TrimSpace(base) != "" {
			c.Paths.StateDir = filepath.Join(base, stateDirRelativeToXDGDir)
		} else {
			c.Paths.StateDir = defaultStateDir
		}
	}
	if c.Paths.StateDir, err = ExpandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}

	if value, ok := os.LookupEnv(socketEnvOverride); ok && strings.TrimSpace(value) != "" {
		c.Paths.Socket = value
	}
	if strings.TrimSpace(c.Paths.Socket) == "" {
		c.Paths.Socket = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.Socket, err = ExpandPath(strings.TrimSpace(c.Paths.Socket)); err != nil {
		return fmt.Errorf("paths.socket: %w", err)
	}
	return nil
}

func (c *Config) normalizeJobs() {
	c.Jobs.Shell = strings.TrimSpace(c.Jobs.Shell)
	if c.Jobs.ReceiveTimeout == 0 {
		c.Jobs.ReceiveTimeout = defaultReceiveTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeHistory() error {
	if strings.TrimSpace(c.History.Path) == "" {
		c.History.Path = filepath.Join(c.Paths.StateDir, defaultHistoryName)
	}
	var err error
	if c.History.Path, err = ExpandPath(strings.TrimSpace(c.History.Path)); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	if c.History.Limit <= 0 {
		c.History.Limit = defaultHistoryListLimit
	}
	return nil
}
