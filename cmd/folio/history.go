package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/folio-site/folio/pkg/config"
	"github.com/folio-site/folio/pkg/history"
)

// openHistory builds the transcript store for the configured backend. The
// returned close func releases the backend.
func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, func(), error) {
	var backend history.Backend
	switch cfg.History.Backend {
	case "redis":
		b, err := history.NewRedisBackend(ctx, cfg.History.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("init history: %w", err)
		}
		backend = b
	default:
		b, err := history.NewSQLiteBackend(cfg.History.DBPath, cfg.History.QuotaBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("init history: %w", err)
		}
		backend = b
	}

	store := history.NewStore(backend,
		history.WithKey(cfg.History.Key),
		history.WithLimits(cfg.History.MaxTurns, cfg.History.FallbackTurns),
	)
	return store, func() { _ = backend.Close() }, nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear the persisted chat transcript",
	}

	var limit int
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			turns := store.Load(cmd.Context())
			if limit > 0 && len(turns) > limit {
				turns = turns[len(turns)-limit:]
			}
			out := cmd.OutOrStdout()
			if len(turns) == 0 {
				fmt.Fprintln(out, "No chat history.")
				return nil
			}
			for i, t := range turns {
				fmt.Fprintf(out, "%3d  %-9s %s\n", i+1, t.Role, t.Content)
			}
			return nil
		},
	}
	showCmd.Flags().IntVarP(&limit, "limit", "n", 0, "only show the last N turns")

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Clear chat history?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			store.Clear(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Chat history cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(showCmd, clearCmd)
	return cmd
}

// confirm asks a yes/no question and defaults to no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return isYes(line)
}
