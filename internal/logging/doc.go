// Package logging assembles structured slog loggers and formatting helpers used
// across qrun.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes helpers so the dispatcher and queue workers tag log
// lines with queue names, job IDs, and request correlation IDs. Quiet mode and
// tests use the no-op logger.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits data with the same shape and routing guarantees.
package logging
