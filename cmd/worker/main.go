// worker consumes session lifecycle events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, ACTIVITY_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"github.com/segmentio/kafka-go"

	"club-manager/backend/internal/config"
	"club-manager/backend/internal/logging"
	"club-manager/backend/internal/telemetry/loki"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "info").Fatal(ctx, "load config", slog.Error(err))
	}
	logger := logging.New(os.Stderr, cfg.LogLevel).Named("worker")

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Fatal(ctx, "KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		logger.Fatal(ctx, "LOKI_URL is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.ActivityKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "consuming session events",
		slog.F("topic", cfg.ActivityKafkaTopic),
		slog.F("group", cfg.KafkaGroupID),
		slog.F("loki_url", cfg.LokiURL),
	)

	client := &http.Client{Timeout: 10 * time.Second}
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info(context.Background(), "stopped")
				return
			}
			logger.Warn(ctx, "kafka read", slog.Error(err))
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := loki.PushEventJSON(pushCtx, client, cfg.LokiURL, msg.Value); err != nil {
			logger.Warn(ctx, "loki push failed",
				slog.F("offset", msg.Offset),
				slog.Error(err),
			)
		}
		pushCancel()
	}
}
