package config

const (
	defaultLogDir            = "~/.local/share/replate/logs"
	defaultCompressionLevel  = 6
	defaultBatchWorkers      = 1
	defaultBatchLedger       = true
	defaultWatchSettleSecond = 2
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDirValue(),
		},
		Output: Output{
			CompressionLevel: defaultCompressionLevel,
		},
		Batch: Batch{
			Workers: defaultBatchWorkers,
			Ledger:  defaultBatchLedger,
		},
		Watch: Watch{
			SettleSeconds: defaultWatchSettleSecond,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
