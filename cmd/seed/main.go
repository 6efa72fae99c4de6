// seed inserts development sample sessions for local testing: closed history for the stats endpoint,
// sessions left open on previous days for the reconciler and same-day duplicates for the collapser.
// Idempotent: skips inserts if the demo member already has sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cdr.dev/slog/v3"

	"club-manager/backend/internal/config"
	"club-manager/backend/internal/db"
	"club-manager/backend/internal/logging"
	"club-manager/backend/internal/security"
	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/repository"
	"club-manager/backend/internal/session/service"
)

const (
	demoPrefix       = "demo-"
	devOperatorPass  = "password123" // development only; exchanged at POST /api/admin/token
	historyDays      = 14
	staleSessions    = 75
	duplicateCopies  = 3
	duplicateMembers = 4
)

var devices = []domain.DeviceType{domain.DeviceDesktop, domain.DeviceMobile, domain.DeviceTablet}

func main() {
	ctx := context.Background()
	logger := logging.New(os.Stderr, "info").Named("seed")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(ctx, "load config", slog.Error(err))
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal(ctx, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal(ctx, "open db", slog.Error(err))
	}
	defer conn.Close()

	repo := repository.NewPostgresRepository(conn)
	loc := cfg.Location()
	now := time.Now().In(loc)

	existing, err := repo.ListSince(ctx, now.AddDate(0, 0, -historyDays-2))
	if err != nil {
		logger.Fatal(ctx, "seed check", slog.Error(err))
	}
	for _, s := range existing {
		if s.UserName == demoPrefix+"member-00" {
			logger.Info(ctx, "seed already applied, skipping")
			printOperatorHash(ctx, logger, cfg.BcryptCost)
			return
		}
	}

	n := 0
	// Closed history, one session per member per day.
	for d := historyDays; d >= 1; d-- {
		day := domain.Day(now.AddDate(0, 0, -d), loc)
		for m := 0; m < 5; m++ {
			login := day.Add(time.Duration(8+m) * time.Hour)
			s := demoSession(fmt.Sprintf("member-%02d", m), login, devices[(d+m)%len(devices)])
			s.PageViews = 1 + (d*m)%9
			if err := repo.Create(ctx, s); err != nil {
				logger.Fatal(ctx, "create history session", slog.Error(err))
			}
			if err := repo.Close(ctx, s.ID, domain.CloseAt(s.LoginTime, login.Add(time.Duration(15+10*m)*time.Minute), loc)); err != nil {
				logger.Fatal(ctx, "close history session", slog.Error(err))
			}
			n++
		}
	}

	// Left open on earlier days: more than one reconciler run's worth.
	yesterday := domain.Day(now.AddDate(0, 0, -1), loc)
	for i := 0; i < staleSessions; i++ {
		s := demoSession(fmt.Sprintf("stale-%02d", i), yesterday.Add(time.Duration(9*60+i)*time.Minute), devices[i%len(devices)])
		if err := repo.Create(ctx, s); err != nil {
			logger.Fatal(ctx, "create stale session", slog.Error(err))
		}
		n++
	}

	// Same-day duplicates.
	today := domain.Day(now, loc)
	for m := 0; m < duplicateMembers; m++ {
		for c := 0; c < duplicateCopies; c++ {
			login := today.Add(time.Duration(c) * time.Minute)
			if login.After(now) {
				login = now
			}
			s := demoSession(fmt.Sprintf("dup-%02d", m), login, domain.DeviceDesktop)
			if err := repo.Create(ctx, s); err != nil {
				logger.Fatal(ctx, "create duplicate session", slog.Error(err))
			}
			n++
		}
	}

	logger.Info(ctx, "seed completed", slog.F("sessions", n))
	printOperatorHash(ctx, logger, cfg.BcryptCost)
}

func demoSession(user string, login time.Time, device domain.DeviceType) *domain.Session {
	return &domain.Session{
		SessionID:    service.NewSessionToken(login),
		UserName:     demoPrefix + user,
		DeviceType:   device,
		IPAddress:    "127.0.0.1",
		UserAgent:    "seed",
		LoginTime:    login,
		LastActivity: login,
		PageViews:    1,
	}
}

// printOperatorHash logs a bcrypt hash of the development operator password for OPERATOR_PASSWORD_HASH.
func printOperatorHash(ctx context.Context, logger slog.Logger, cost int) {
	hash, err := security.NewHasher(cost).Hash([]byte(devOperatorPass))
	if err != nil {
		logger.Fatal(ctx, "hash operator password", slog.Error(err))
	}
	logger.Info(ctx, "development operator password hash", slog.F("OPERATOR_PASSWORD_HASH", hash))
}
