package config

const (
	defaultConfigPath        = "~/.config/qrun/config.toml"
	defaultStateDir          = "~/.local/state/qrun"
	defaultSocketName        = "qrun.sock"
	defaultHistoryName       = "history.db"
	defaultShell             = "/bin/sh"
	defaultMax               = 2
	defaultTTL               = 0
	defaultReceiveTimeout    = 5
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
	defaultHistoryEnabled    = true
	defaultHistoryListLimit  = 20
	socketEnvOverride        = "QRUN_SOCKET"
	stateDirEnvironmentXDG   = "XDG_STATE_HOME"
	stateDirRelativeToXDGDir = "qrun"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		Jobs: Jobs{
			Shell:          defaultShell,
			DefaultMax:     defaultMax,
			DefaultTTL:     defaultTTL,
			ReceiveTimeout: defaultReceiveTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		History: History{
			Enabled: defaultHistoryEnabled,
			Limit:   defaultHistoryListLimit,
		},
	}
}
