package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cachepkg "github.com/folio-site/folio/pkg/cache/sqlite"
	"github.com/folio-site/folio/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start folio as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cache, err := cachepkg.New(cfg.Offline.DBPath)
			if err != nil {
				return fmt.Errorf("open offline cache: %w", err)
			}
			defer func() { _ = cache.Close() }()

			store, closeStore, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			return mcp.New(cache, store, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
