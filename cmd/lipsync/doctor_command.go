package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lipsync/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, directories and the sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			results := preflight.RunAll(cmd.Context(), cfg)
			failed := preflight.Failed(results)
			if ctx.JSONMode() {
				if err := writeJSON(cmd, map[string]any{
					"config_path": ctx.configPath,
					"checks":      results,
					"ready":       len(failed) == 0,
				}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range doctorLines(ctx.configPath, results, colorize) {
					fmt.Fprintln(out, line)
				}
			}

			if len(failed) > 0 {
				names := make([]string, 0, len(failed))
				for _, r := range failed {
					names = append(names, r.Name)
				}
				return fmt.Errorf("%d required checks failed: %s", len(failed), strings.Join(names, ", "))
			}
			return nil
		},
	}
}

func doctorLines(configPath string, results []preflight.Result, colorize bool) []string {
	lines := renderSectionHeader("lipsync doctor", colorize)
	lines = append(lines, fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Config:", configPath))
	for _, r := range results {
		lines = append(lines, renderStatusLine(r.Name, checkStatus(r), r.Detail, colorize))
	}
	return lines
}
