package testsupport

import (
	"path/filepath"
	"testing"

	"replate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.StateDir = filepath.Join(base, "state")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWorkers sets the batch worker count on the test config.
func WithWorkers(workers int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Batch.Workers = workers
	}
}

// WithLedger toggles the conversion ledger on the test config.
func WithLedger(enabled bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Batch.Ledger = enabled
	}
}

// WithCompressionLevel overrides the output compression level.
func WithCompressionLevel(level int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Output.CompressionLevel = level
	}
}
