package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lipsync/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage per-run staging directories",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List run directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			stagingDir := strings.TrimSpace(cfg.Paths.StagingDir)
			dirs, err := staging.ListDirectories(stagingDir)
			if err != nil {
				return fmt.Errorf("list staging directories: %w", err)
			}
			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}

			if ctx.JSONMode() {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir":      stagingDir,
					"directories":      dirs,
					"total_size_bytes": totalSize,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No staging directories found")
				return nil
			}

			fmt.Fprintf(out, "Staging directory: %s\n\n", stagingDir)
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				age := time.Since(dir.ModTime).Truncate(time.Second)
				rows = append(rows, []string{
					strings.TrimPrefix(dir.Name, staging.RunPrefix),
					formatDuration(age),
					humanize.IBytes(uint64(dir.Size)),
					yesNo(dir.Active),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Age", "Size", "Active"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				[]string{fmt.Sprintf("%d runs", len(dirs)), "", humanize.IBytes(uint64(totalSize)), ""},
			))
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var cleanAll bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale run directories",
		Long: `Remove run directories left behind by interrupted runs.

By default, only directories older than paths.staging_max_age_hours are
removed. Use --all to remove every idle run directory regardless of age.
Directories held by a live run are never removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			maxAge := time.Duration(cfg.Paths.StagingMaxAgeHours) * time.Hour
			scope := "stale"
			if cleanAll {
				maxAge = 0
				scope = "idle"
			}
			result := staging.CleanStale(cmd.Context(), cfg.Paths.StagingDir, maxAge, logger)

			if ctx.JSONMode() {
				errs := make([]string, 0, len(result.Errors))
				for _, e := range result.Errors {
					errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
				}
				return writeJSON(cmd, map[string]any{
					"removed": len(result.Removed),
					"skipped": len(result.Skipped),
					"errors":  errs,
				})
			}
			printStagingCleanResult(cmd, result, scope)
			return nil
		},
	}

	cmd.Flags().BoolVar(&cleanAll, "all", false, "Remove every idle run directory regardless of age")

	return cmd
}

func printStagingCleanResult(cmd *cobra.Command, result staging.CleanStaleResult, scope string) {
	out := cmd.OutOrStdout()
	switch {
	case len(result.Removed) == 0 && len(result.Errors) == 0:
		fmt.Fprintf(out, "No %s run directories to clean\n", scope)
	case len(result.Errors) > 0:
		fmt.Fprintf(out, "Removed %d %s run directories, %d errors\n", len(result.Removed), scope, len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
	default:
		fmt.Fprintf(out, "Removed %d %s run directories\n", len(result.Removed), scope)
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped %d active run directories\n", len(result.Skipped))
	}
}
