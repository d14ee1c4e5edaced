package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	availabilityapp "staybook/internal/app/handlers/availability"
	bookingapp "staybook/internal/app/handlers/booking"
	meapp "staybook/internal/app/handlers/me"
	"staybook/internal/app/middleware"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/infra/broker/kafka"
	"staybook/internal/infra/config"
	mongostore "staybook/internal/infra/db/mongo"
	"staybook/internal/infra/db/postgres"
	"staybook/internal/infra/fixtures"
	ginserver "staybook/internal/infra/http/gin"
	"staybook/internal/infra/obs"
	"staybook/internal/infra/outbox"
	"staybook/internal/infra/payments"
	"staybook/internal/infra/storage/memory"
	"staybook/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	infra, err := buildInfrastructure(ctx, cfg, logger)
	if err != nil {
		logger.Error("infrastructure setup failed", "error", err)
		os.Exit(1)
	}
	defer infra.close(logger)

	loader := fixtures.Loader{Units: infra.units, Logger: logger, Currency: cfg.Currency}
	if _, err := loader.Load(ctx, fixturePath(cfg.ListingsFixtures, "listings.json"), fixturePath(cfg.AccountsFixtures, "accounts.json")); err != nil {
		logger.Warn("fixtures load failed", "error", err)
	}

	handlers := buildApplication(cfg, logger, infra)
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Probes: infra.probes}, handlers)

	if infra.worker != nil {
		go func() {
			if err := infra.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.Storage, "payments", cfg.PaymentsMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type infrastructure struct {
	units       uow.UoWFactory
	locker      policies.ListingLocker
	idempotency middleware.IdempotencyStore
	outbox      appoutbox.Outbox
	worker      *outbox.Worker
	archive     policies.CompensationHook
	probes      map[string]obs.Probe
	closers     []func(context.Context) error
}

func (i *infrastructure) close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](ctx); err != nil {
			logger.Warn("shutdown step failed", "error", err)
		}
	}
}

func buildInfrastructure(ctx context.Context, cfg config.Config, logger *slog.Logger) (*infrastructure, error) {
	infra := &infrastructure{probes: map[string]obs.Probe{}}

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		p, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, err
		}
		producer = p
		infra.closers = append(infra.closers, func(context.Context) error { return p.Close() })
	}
	worker := &outbox.Worker{
		Producer:    producer,
		Logger:      logger,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Backoff:     cfg.RetryBackoff,
	}

	switch cfg.Storage {
	case config.StorageMongo:
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, client.Close)
		if err := client.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		idem, err := mongostore.NewIdempotencyStore(ctx, client.DB, cfg.IdempotencyTTL)
		if err != nil {
			return nil, err
		}
		store, err := outbox.NewStore(ctx, client.DB)
		if err != nil {
			return nil, err
		}
		infra.units = mongostore.NewFactory(client.DB)
		infra.locker = mongostore.NewListingLocker(client.DB, cfg.LockTTL)
		infra.idempotency = idem
		infra.outbox = store
		infra.probes["mongo"] = client.Ping
		if producer != nil {
			worker.Store = store
			infra.worker = worker
		}
	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN, 0)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, func(context.Context) error { pool.Close(); return nil })
		// Lock holders pin a connection each, so they get a pool of their own.
		lockPool, err := postgres.NewPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresLockConns))
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, func(context.Context) error { lockPool.Close(); return nil })
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
		store := postgres.NewOutboxStore(pool)
		infra.units = postgres.NewFactory(pool)
		infra.locker = postgres.NewAdvisoryLocker(lockPool)
		infra.idempotency = postgres.NewIdempotencyStore(pool, cfg.IdempotencyTTL)
		infra.outbox = store
		infra.probes["postgres"] = pool.Ping
		if producer != nil {
			worker.Store = store
			infra.worker = worker
		}
	default:
		box := memory.NewOutbox()
		if producer != nil {
			box.Sink = worker.Publish
		} else {
			box.Sink = func(_ context.Context, rec appoutbox.EventRecord) error {
				logger.Info("event", "name", rec.Name, "aggregate", rec.Aggregate, "event_id", rec.ID,
					"correlation_id", rec.Headers[appoutbox.CorrelationHeader])
				return nil
			}
		}
		store := memory.NewStore()
		infra.units = store
		infra.locker = memory.NewListingLocker()
		infra.idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)
		infra.outbox = box
	}

	// With Kafka the inconsistency monitor archives incidents; without it the API does.
	if cfg.S3Endpoint != "" && producer == nil {
		client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, logger)
		if err != nil {
			return nil, err
		}
		infra.archive = s3.IncidentArchive{Store: client}
		infra.probes["s3"] = client.Ping
	}
	return infra, nil
}

func buildApplication(cfg config.Config, logger *slog.Logger, infra *infrastructure) ginserver.Handlers {
	encoder := appoutbox.JSONEventEncoder{}
	hooks := policies.Hooks{bookingapp.OutboxAlertHook{Outbox: infra.outbox, Encoder: encoder}}
	if infra.archive != nil {
		hooks = append(hooks, infra.archive)
	}

	committer := &bookingapp.Committer{
		Units:          infra.units,
		Locker:         infra.locker,
		Gateway:        buildGateway(cfg, logger),
		Hook:           hooks,
		Validator:      domainbooking.Validator{WindowDays: cfg.BookingWindowDays},
		Outbox:         infra.outbox,
		Encoder:        encoder,
		Logger:         logger,
		LoadTimeout:    cfg.LoadTimeout,
		ChargeTimeout:  cfg.ChargeTimeout,
		PersistTimeout: cfg.PersistTimeout,
	}

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler[bookingapp.CreateBookingCommand, *dto.Booking](commandBus,
		bookingapp.CreateBookingCommand{}.Key(), &bookingapp.CreateBookingHandler{Committer: committer, Logger: logger})
	wallets := &meapp.WalletHandler{}
	commands.RegisterHandler[meapp.ConnectWalletCommand, dto.Wallet](commandBus,
		meapp.ConnectWalletCommand{}.Key(), commands.HandlerFunc[meapp.ConnectWalletCommand, dto.Wallet](wallets.Connect))
	commands.RegisterHandler[meapp.DisconnectWalletCommand, dto.Wallet](commandBus,
		meapp.DisconnectWalletCommand{}.Key(), commands.HandlerFunc[meapp.DisconnectWalletCommand, dto.Wallet](wallets.Disconnect))

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler[availabilityapp.GetCalendarQuery, dto.Calendar](queryBus,
		availabilityapp.GetCalendarQuery{}.Key(), &availabilityapp.GetCalendarHandler{UoWFactory: infra.units, WindowDays: cfg.BookingWindowDays})
	queries.RegisterHandler[meapp.ListTenantBookingsQuery, dto.TenantBookingCollection](queryBus,
		meapp.ListTenantBookingsQuery{}.Key(), &meapp.ListTenantBookingsHandler{UoWFactory: infra.units, Logger: logger})

	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.CommandLogging(logger),
		middleware.Idempotency(infra.idempotency, middleware.IdempotencyOptions{Transient: bookingapp.IsTransient}),
		middleware.Transaction(infra.units, nil),
		middleware.OutboxFlush(infra.outbox, logger),
	)
	queryBusWithMiddleware := middleware.ChainQueries(queryBus, middleware.QueryLogging(logger))

	auth := ginserver.AuthMiddleware{Verifier: ginserver.NewTokenVerifier(cfg.JWTSecret), Logger: logger}
	return ginserver.Handlers{
		Booking:        ginserver.BookingHandler{Commands: commandBusWithMiddleware, Logger: logger},
		Availability:   ginserver.AvailabilityHandler{Queries: queryBusWithMiddleware, Logger: logger},
		Me:             ginserver.MeHandler{Queries: queryBusWithMiddleware, Commands: commandBusWithMiddleware, Logger: logger},
		AuthMiddleware: auth.Handle,
	}
}

func buildGateway(cfg config.Config, logger *slog.Logger) policies.ChargeGateway {
	if cfg.PaymentsMode == config.PaymentsHTTP {
		return &payments.HTTPGateway{
			Client:   &http.Client{Timeout: cfg.ChargeTimeout},
			Endpoint: cfg.PaymentsURL,
			APIKey:   cfg.PaymentsAPIKey,
			Logger:   logger,
		}
	}
	logger.Warn("sandbox payments enabled; no real money moves")
	return payments.NewSandbox()
}

func fixturePath(configured, name string) string {
	if configured != "" {
		return configured
	}
	return "data/" + name
}
