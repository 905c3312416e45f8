package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qrun/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// OutputPaths lists "stdout" and/or log file paths; empty means stdout.
	OutputPaths []string
	// Development forces caller information at every level.
	Development bool
	// Quiet discards every record regardless of level.
	Quiet bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	if opts.Quiet {
		return NewNop(), nil
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	w, err := openOutputs(opts.OutputPaths)
	if err != nil {
		return nil, err
	}
	level := parseLevel(opts.Level)
	source := opts.Development || level <= slog.LevelDebug

	if format == "json" {
		return slog.New(newJSONHandler(w, level, source)), nil
	}
	return slog.New(newConsoleHandler(w, level, source)), nil
}

// NewFromConfig creates the daemon logger. logPath overrides the configured
// log file; empty uses cfg.LogPath(). Foreground daemons also echo to stdout
// at debug level.
func NewFromConfig(cfg *config.Config, logPath string, foreground, quiet bool) (*slog.Logger, error) {
	if quiet {
		return NewNop(), nil
	}
	if cfg == nil {
		return New(Options{Level: "info"})
	}

	var outputs []string
	if foreground {
		outputs = append(outputs, "stdout")
	}
	if logPath == "" && cfg.Paths.StateDir != "" {
		logPath = cfg.LogPath()
	}
	if logPath != "" {
		outputs = append(outputs, logPath)
	}

	level := cfg.Logging.Level
	if foreground {
		level = "debug"
	}
	return New(Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openOutputs opens each destination once. Log files are opened for append
// and stay open for the life of the process.
func openOutputs(paths []string) (io.Writer, error) {
	var writers []io.Writer
	seen := make(map[string]bool)
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		if path == "stdout" {
			writers = append(writers, os.Stdout)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		writers = append(writers, file)
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

func newJSONHandler(w io.Writer, level slog.Level, source bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: source,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339Nano))
			case slog.LevelKey:
				return slog.String(slog.LevelKey, strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	})
}
