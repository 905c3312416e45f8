package testsupport

import (
	"path/filepath"
	"testing"

	"qrun/internal/config"
)

// ConfigOption tweaks a test configuration before its directories are made.
type ConfigOption func(*config.Config)

// NewConfig returns defaults rooted in a fresh temp dir. History and metrics
// stay off unless an option enables them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(root, "state")
	// sun_path is ~108 bytes; keep the socket directly under root.
	cfg.Paths.Socket = filepath.Join(root, "q.sock")
	cfg.History.Enabled = false
	cfg.History.Path = filepath.Join(cfg.Paths.StateDir, "history.db")
	cfg.Jobs.ReceiveTimeout = 2

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("create test dirs: %v", err)
	}
	return &cfg
}

// WithHistory turns on the SQLite run history.
func WithHistory() ConfigOption {
	return func(cfg *config.Config) { cfg.History.Enabled = true }
}
