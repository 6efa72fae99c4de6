// migrate applies the activity and audit schema from embedded SQL; use with go run ./cmd/migrate.
package main

import (
	"context"
	"flag"
	"os"

	"cdr.dev/slog/v3"

	"club-manager/backend/internal/config"
	"club-manager/backend/internal/db/migrate"
	"club-manager/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	ctx := context.Background()
	logger := logging.New(os.Stderr, "info").Named("migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(ctx, "load config", slog.Error(err))
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal(ctx, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		logger.Fatal(ctx, "bad flag", slog.Error(err))
	}

	version, err := migrate.Run(cfg.DatabaseURL, dir)
	if err != nil {
		logger.Fatal(ctx, "migrate", slog.F("direction", dir), slog.Error(err))
	}
	logger.Info(ctx, "migrations applied", slog.F("direction", dir), slog.F("version", version))
}
