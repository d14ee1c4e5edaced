package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staybook/internal/app/policies"
	"staybook/internal/domain/shared/money"
	"staybook/internal/infra/broker/kafka"
	"staybook/internal/infra/config"
	mongostore "staybook/internal/infra/db/mongo"
	"staybook/internal/infra/inbox"
	"staybook/internal/infra/incidents"
	"staybook/internal/infra/obs"
	"staybook/internal/infra/outbox"
	"staybook/internal/infra/storage/s3"
)

const consumerGroup = "staybook-inconsistency-monitor"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	logger := obs.NewLogger(cfg.Env)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if len(cfg.KafkaBrokers) == 0 || cfg.MongoURI == "" {
		logger.Error("KAFKA_BROKERS and MONGO_URI are required")
		os.Exit(1)
	}

	client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Error("mongo connect failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	seen, err := inbox.NewStore(ctx, client.DB, consumerGroup)
	if err != nil {
		logger.Error("inbox setup failed", "error", err)
		os.Exit(1)
	}

	monitor := &incidents.Monitor{Inbox: seen, Logger: logger}
	if cfg.S3Endpoint != "" {
		store, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, logger)
		if err != nil {
			logger.Error("s3 setup failed", "error", err)
			os.Exit(1)
		}
		archive := s3.IncidentArchive{Store: store}
		monitor.Alert = func(ctx context.Context, charge incidents.OrphanedCharge) error {
			return archive.ChargeOrphaned(ctx, policies.Incident{
				BookingID:  charge.BookingID,
				ListingID:  charge.ListingID,
				TenantID:   charge.TenantID,
				ChargeID:   charge.ChargeID,
				Amount:     money.Money{Amount: charge.Amount.Amount, Currency: charge.Amount.Currency},
				Step:       charge.Step,
				Reason:     charge.Reason,
				OccurredAt: time.Now().UTC(),
			})
		}
	}

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, consumerGroup, nil, monitor, logger)
	if err != nil {
		logger.Error("kafka consumer setup failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	topic := outbox.TopicFor(cfg.KafkaTopicPrefix, "booking.inconsistent")
	logger.Info("inconsistency monitor started", "topic", topic)
	if err := consumer.Run(ctx, []string{topic}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("inconsistency monitor stopped")
}
