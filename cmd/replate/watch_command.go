package main

import (
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"replate/internal/batch"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var settle time.Duration
	var noInitial bool

	cmd := &cobra.Command{
		Use:   "watch <input-dir>",
		Short: "Convert bundles as they appear under a directory",
		Long: `Watch monitors the input tree and converts each bundle once its size has
been stable for the settle interval. Pre-existing bundles are converted on
startup unless --no-initial is given. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, cfg, logger, err := ctx.newConverter()
			if err != nil {
				return err
			}

			watcher, err := batch.NewWatcher(cfg, conv, logger, batch.WatchOptions{
				InputDir:  args[0],
				OutputDir: strings.TrimSpace(outputDir),
				Settle:    settle,
				Initial:   !noInitial,
			})
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := watcher.Start(signalCtx); err != nil {
				return err
			}
			<-signalCtx.Done()
			watcher.Stop()
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for converted bundles")
	cmd.Flags().DurationVar(&settle, "settle", 0, "How long a file must stay unchanged before converting (defaults to watch.settle_seconds)")
	cmd.Flags().BoolVar(&noInitial, "no-initial", false, "Skip bundles already present at startup")
	return cmd
}
