package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"replate/internal/plate"
	"replate/internal/threemf"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <input.gcode.3mf>",
		Short: "Show container layout and plate listing without converting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			arc, err := threemf.Open(args[0])
			if err != nil {
				return err
			}

			files := 0
			junk := 0
			for _, entry := range arc.Entries {
				if entry.Dir {
					continue
				}
				files++
				if threemf.IsJunk(entry.Name) || threemf.IsJunk(arc.StripPrefix(entry.Name)) {
					junk++
				}
			}

			prefix := "(none)"
			if arc.Prefix != "" {
				prefix = strconv.Quote(arc.Prefix)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("container", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderDetailLine("path", arc.Path))
			fmt.Fprintln(out, renderDetailLine("wrapper prefix", prefix))
			fmt.Fprintln(out, renderDetailLine("entries", strconv.Itoa(files)))
			fmt.Fprintln(out, renderDetailLine("junk entries", strconv.Itoa(junk)))
			fmt.Fprintln(out, renderDetailLine("already single", yesNo(plate.AlreadySingle(arc, logger))))
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("plates", colorize) {
				fmt.Fprintln(out, line)
			}
			data, ok := arc.Data(arc.Prefix + threemf.ModelSettingsPath)
			if !ok {
				fmt.Fprintln(out, detailIndent+"no plate listing found")
				return nil
			}
			infos, err := plate.ParseListing(string(data))
			if err != nil {
				fmt.Fprintf(out, "%splate listing malformed: %v\n", detailIndent, err)
				return nil
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, detailIndent+"plate listing has no plates")
				return nil
			}

			keepID := 0
			if det, err := plate.Detect(arc, logger); err == nil {
				keepID = det.ID
			}

			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				gcode := strings.TrimSpace(info.GCode)
				present := gcode != "" && arc.Exists(arc.Prefix+strings.TrimLeft(gcode, "/"))
				if gcode == "" {
					gcode = "(none)"
				}
				keep := ""
				if info.ID == keepID {
					keep = "yes"
				}
				rows = append(rows, []string{strconv.Itoa(info.ID), gcode, yesNo(present), keep})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "GCODE FILE", "PRESENT", "KEEP"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	return cmd
}
