package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	cachepkg "github.com/folio-site/folio/pkg/cache/sqlite"
	"github.com/folio-site/folio/pkg/config"
)

func openCache() (*config.Config, *cachepkg.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	c, err := cachepkg.New(cfg.Offline.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open offline cache: %w", err)
	}
	return cfg, c, nil
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline cache buckets",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			var size int64
			for _, b := range stats.Buckets {
				size += b.Bytes
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Buckets: %d\nEntries: %d\nSize:    %s\n",
				len(stats.Buckets), stats.Entries, humanize.Bytes(uint64(size)))
			return nil
		},
	}

	bucketsCmd := &cobra.Command{
		Use:   "buckets",
		Short: "List cache buckets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, c, err := openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stats.Buckets) == 0 {
				fmt.Fprintln(out, "No cache buckets.")
				return nil
			}
			fmt.Fprintf(out, "%-24s %8s %10s\n", "BUCKET", "ENTRIES", "SIZE")
			for _, b := range stats.Buckets {
				name := b.Name
				if name == cfg.Offline.Version {
					name += " *"
				}
				fmt.Fprintf(out, "%-24s %8d %10s\n", name, b.Entries, humanize.Bytes(uint64(b.Bytes)))
			}
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every bucket except the configured version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, c, err := openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			keys, err := c.Keys(cmd.Context())
			if err != nil {
				return err
			}
			purged := 0
			for _, name := range keys {
				if name == cfg.Offline.Version {
					continue
				}
				if _, err := c.Delete(cmd.Context(), name); err != nil {
					return err
				}
				purged++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d stale bucket(s).\n", purged)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := openCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cache buckets cleared.")
			return nil
		},
	}

	cmd.AddCommand(statsCmd, bucketsCmd, purgeCmd, clearCmd)
	return cmd
}
