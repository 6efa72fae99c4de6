// activityctl is the operator CLI for activity sessions: statistics and cleanup jobs run directly
// against the database configured by DATABASE_URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/spf13/cobra"

	"club-manager/backend/internal/config"
	"club-manager/backend/internal/db"
	"club-manager/backend/internal/logging"
	"club-manager/backend/internal/session/repository"
)

// app holds what every subcommand needs. Tests fill it in directly.
type app struct {
	cfg      *config.Config
	clock    quartz.Clock
	logger   slog.Logger
	openRepo func(ctx context.Context) (repository.Repository, io.Closer, error)
}

func (a *app) location() *time.Location {
	return a.cfg.Location()
}

func (a *app) load(cmd *cobra.Command) error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.clock = quartz.NewReal()
	a.logger = logging.New(cmd.ErrOrStderr(), cfg.LogLevel).Named("activityctl")
	a.openRepo = func(ctx context.Context) (repository.Repository, io.Closer, error) {
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is not set")
		}
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		return repository.NewPostgresRepository(conn), conn, nil
	}
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "activityctl",
		Short:         "Inspect and clean up club activity sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.AddCommand(newStatsCmd(a), newCleanupCmd(a))
	return root
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}
