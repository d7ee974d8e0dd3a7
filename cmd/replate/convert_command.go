package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"replate/internal/logging"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "convert <input.gcode.3mf>",
		Short: "Rewrite a bundle so it contains only its exported plate",
		Long: `Convert reads a sliced project bundle, keeps the plate whose G-code was
exported, renumbers it to plate 1, and writes the result next to similarly
named bundles in the output directory. The input file is never modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, cfg, logger, err := ctx.newConverter()
			if err != nil {
				return err
			}

			input := args[0]
			if _, err := os.Stat(input); err != nil {
				return fmt.Errorf("input bundle: %w", err)
			}
			if !strings.HasSuffix(strings.ToLower(input), ".gcode.3mf") {
				logger.Warn("input does not look like a sliced project bundle, continuing anyway",
					logging.String(logging.FieldSource, input))
			}

			outDir := strings.TrimSpace(outputDir)
			if outDir == "" {
				outDir = cfg.Paths.OutputDir
			}
			if outDir == "" {
				return errors.New("output directory not set (use --output-dir or paths.output_dir)")
			}

			res, err := conv.Convert(cmd.Context(), input, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.OutputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for the converted bundle")
	return cmd
}
