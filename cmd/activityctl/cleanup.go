package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"club-manager/backend/internal/session/maintenance"
	"club-manager/backend/internal/session/repository"
)

func newCleanupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Close stale sessions and remove duplicate open sessions",
	}
	cmd.AddCommand(
		a.cleanupCmd("stale", "Close sessions left open on previous days", true, false),
		a.cleanupCmd("duplicates", "Delete all but the newest open session per user and day", false, true),
		a.cleanupCmd("all", "Run stale, then duplicates", true, true),
	)
	return cmd
}

func (a *app) cleanupCmd(use, short string, stale, duplicates bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closer, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer closer.Close()

			ok := a.runCleanup(cmd.Context(), cmd.OutOrStdout(), repo, stale, duplicates)
			if !ok {
				return fmt.Errorf("cleanup finished with errors, see log")
			}
			return nil
		},
	}
}

func (a *app) runCleanup(ctx context.Context, w io.Writer, repo repository.Repository, stale, duplicates bool) bool {
	opts := maintenance.Options{
		Clock:      a.clock,
		Location:   a.location(),
		BatchSize:  a.cfg.CleanupBatchSize,
		BatchPause: a.cfg.CleanupBatchPauseDuration(),
		Logger:     a.logger,
	}
	success := true
	if stale {
		o := opts
		o.Limit = a.cfg.ReconcileLimit
		r := maintenance.NewReconciler(repo, o).Run(ctx)
		success = success && r.Success
		fmt.Fprintf(w, "%s closed %s stale sessions\n", resultMark(r.Success), countStyle.Render(fmt.Sprint(r.Processed)))
	}
	if duplicates {
		o := opts
		o.Limit = a.cfg.DuplicateScanLimit
		r := maintenance.NewCollapser(repo, o).Run(ctx)
		success = success && r.Success
		fmt.Fprintf(w, "%s removed %s duplicate sessions\n", resultMark(r.Success), countStyle.Render(fmt.Sprint(r.Deleted)))
	}
	return success
}
