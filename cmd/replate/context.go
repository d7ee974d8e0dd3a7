package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"replate/internal/config"
	"replate/internal/converter"
	"replate/internal/logging"
)

// commandContext lazily resolves configuration and logging for subcommands.
// Both are built at most once per invocation.
type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, logLevelFlag, logFormatFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolvedPath, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolvedPath
		c.configExists = exists
	})
	return c.config, c.configErr
}

// ensureLogger builds the process logger from config, with the persistent
// log flags taking precedence over the file.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		overlay := *cfg
		if c.logLevelFlag != nil {
			if v := strings.TrimSpace(*c.logLevelFlag); v != "" {
				overlay.Logging.Level = v
			}
		}
		if c.logFormatFlag != nil {
			if v := strings.TrimSpace(*c.logFormatFlag); v != "" {
				overlay.Logging.Format = v
			}
		}
		c.logger, c.loggerErr = logging.NewFromConfig(&overlay)
	})
	return c.logger, c.loggerErr
}

// newConverter wires a Converter from the resolved config and logger.
func (c *commandContext) newConverter() (*converter.Converter, *config.Config, *slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, nil, nil, err
	}
	return converter.New(cfg, logger), cfg, logger, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
