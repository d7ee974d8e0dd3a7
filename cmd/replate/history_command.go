package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"replate/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently recorded conversions",
		Long: `History lists the newest entries in the conversion ledger, most recent
first. Batch runs write the ledger when batch.ledger is enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfg.LedgerPath()); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(out, "No conversions recorded yet.")
				return nil
			}

			store, err := ledger.Open(cfg)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			convs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversions recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(convs))
			for _, conv := range convs {
				rows = append(rows, []string{
					conv.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					conv.SourcePath,
					historyOutputCell(conv),
					strconv.Itoa(conv.PlateID),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"CONVERTED AT", "SOURCE", "OUTPUT", "PLATE"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	return cmd
}

func historyOutputCell(conv ledger.Conversion) string {
	if conv.FastPath {
		return conv.OutputPath + " (copied)"
	}
	return conv.OutputPath
}
