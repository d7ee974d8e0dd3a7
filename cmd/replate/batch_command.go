package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"replate/internal/batch"
	"replate/internal/ledger"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var recursive bool
	var dryRun bool
	var resume bool
	var workers int

	cmd := &cobra.Command{
		Use:   "batch <input-dir>",
		Short: "Convert every bundle found under a directory",
		Long: `Batch discovers .gcode.3mf bundles under the input directory and converts
each one, mirroring subdirectory layout under the output root. Individual
failures are reported and counted without aborting the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, cfg, logger, err := ctx.newConverter()
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var store *ledger.Store
			if cfg.Batch.Ledger && !dryRun {
				store, err = ledger.Open(cfg)
				if err != nil {
					return fmt.Errorf("open ledger: %w", err)
				}
				defer store.Close()
			}
			if resume && store == nil {
				logger.Warn("resume requested but the ledger is disabled, converting everything")
			}

			runner := batch.NewRunner(cfg, conv, store, logger)
			summary, err := runner.Run(signalCtx, batch.Options{
				InputDir:  args[0],
				OutputDir: strings.TrimSpace(outputDir),
				Recursive: recursive,
				DryRun:    dryRun,
				Workers:   workers,
				Resume:    resume,
			})
			if err != nil {
				return err
			}

			printBatchSummary(cmd.OutOrStdout(), summary, dryRun)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Root directory for converted bundles")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List matching bundles without converting")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent conversions (defaults to batch.workers)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Skip sources already recorded in the ledger")
	return cmd
}

func printBatchSummary(out io.Writer, summary *batch.Summary, dryRun bool) {
	if len(summary.Results) > 0 {
		rows := make([][]string, 0, len(summary.Results))
		for _, res := range summary.Results {
			rows = append(rows, []string{res.Source, batchResultCell(res, dryRun)})
		}
		fmt.Fprintln(out, renderTable([]string{"SOURCE", "RESULT"}, rows, nil))
	}

	colorize := shouldColorize(out)
	failedKind := statusOK
	if summary.Failed > 0 {
		failedKind = statusError
	}
	fmt.Fprintln(out, renderCountLine("found", statusInfo, summary.Found, colorize))
	fmt.Fprintln(out, renderCountLine("converted", statusOK, summary.Converted, colorize))
	fmt.Fprintln(out, renderCountLine("skipped", statusInfo, summary.Skipped, colorize))
	fmt.Fprintln(out, renderCountLine("failed", failedKind, summary.Failed, colorize))
}

func batchResultCell(res batch.FileResult, dryRun bool) string {
	switch {
	case res.Err != nil:
		return "failed: " + res.Err.Error()
	case res.Skipped:
		return "skipped (already converted)"
	case dryRun:
		return "would convert into " + res.OutputDir
	case res.FastPath:
		return res.Output + " (copied)"
	default:
		return res.Output
	}
}
