package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"club-manager/backend/internal/session/stats"
)

func newStatsCmd(a *app) *cobra.Command {
	var (
		days   int
		format string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize sessions from the last N days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 || days > 365 {
				return fmt.Errorf("--days must be between 1 and 365, got %d", days)
			}
			if !validFormat(format) {
				return fmt.Errorf("unknown format %q (table, json, yaml)", format)
			}
			repo, closer, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer closer.Close()

			reader := stats.NewReader(repo, a.clock, a.location(), a.logger)
			sessions := reader.Sessions(cmd.Context(), days)
			if sessions == nil {
				return errors.New("reading sessions failed, see log")
			}
			return renderSummary(cmd.OutOrStdout(), format, days, stats.Summarize(sessions, a.location()))
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days to look back")
	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format: table, json or yaml")
	return cmd
}
