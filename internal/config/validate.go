package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.Shell == "" {
		return errors.New("jobs.shell must be set")
	}
	if c.Jobs.DefaultMax < 0 {
		return errors.New("jobs.default_max must be zero or positive")
	}
	if c.Jobs.DefaultTTL < 0 {
		return errors.New("jobs.default_ttl must be zero or positive")
	}
	if c.Jobs.KillAfter < 0 {
		return errors.New("jobs.kill_after must be zero or positive")
	}
	if c.Jobs.ReceiveTimeout < 0 {
		return errors.New("jobs.receive_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
