package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lipsync/internal/config"
	"lipsync/internal/facecache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the face detection cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

// openFaceCache opens the configured cache. It returns nil without error when
// the cache has never been created.
func openFaceCache(cfg *config.Config) (*facecache.Store, error) {
	if _, err := os.Stat(cfg.FaceCache.Path); os.IsNotExist(err) {
		return nil, nil
	}
	return facecache.Open(cfg.FaceCache.Path)
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show face cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openFaceCache(cfg)
			if err != nil {
				return err
			}
			var stats facecache.Stats
			if store != nil {
				defer store.Close()
				if stats, err = store.Stats(cmd.Context()); err != nil {
					return err
				}
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{
					"path":    cfg.FaceCache.Path,
					"enabled": cfg.FaceCache.Enabled,
					"entries": stats.Entries,
					"frames":  stats.Frames,
					"bytes":   stats.Bytes,
				})
			}

			rows := [][]string{
				{"Path", cfg.FaceCache.Path},
				{"Enabled", yesNo(cfg.FaceCache.Enabled)},
				{"Videos", fmt.Sprint(stats.Entries)},
				{"Frames", fmt.Sprint(stats.Frames)},
				{"Database size", humanize.IBytes(uint64(stats.Bytes))},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Face cache", ""}, rows, nil, nil))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached detections",
		Long: `Remove cached face detections.

By default every entry is removed. Use --older-than to keep entries that were
used recently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			store, err := openFaceCache(cfg)
			if err != nil {
				return err
			}
			var removed int64
			if store != nil {
				defer store.Close()
				if removed, err = store.Prune(cmd.Context(), olderThan); err != nil {
					return err
				}
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"removed": removed})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached videos\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove entries unused for this long (e.g. 720h)")
	return cmd
}
