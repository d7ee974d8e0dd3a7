// Package logging assembles structured slog loggers and formatting helpers
// used across replate.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so conversion code can
// automatically tag log lines with batch run IDs and source paths. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
//
// Log output is routed to stderr (and optionally a log file) so stdout stays
// reserved for command results such as the converted archive path.
package logging
