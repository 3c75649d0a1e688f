package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"artpay/internal/common/database"
	"artpay/internal/common/idempotency"
	"artpay/internal/common/middleware"
	"artpay/internal/common/nats"
	"artpay/internal/escrow"
	"artpay/internal/gateway"
	"artpay/internal/ledger"
	"artpay/internal/payment"
	paymentapi "artpay/internal/payment/api"
	"artpay/internal/payout"
	payoutapi "artpay/internal/payout/api"
	"artpay/internal/seller"
	sellerapi "artpay/internal/seller/api"
	"artpay/internal/webhook"
	"artpay/migrations"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"SETTLEMENT_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	EscrowSchedule string `envconfig:"ESCROW_RELEASE_SCHEDULE" default:"@every 10m"`
	PayoutSchedule string `envconfig:"PAYOUT_DISPATCH_SCHEDULE" default:"@every 5m"`

	Database    database.Config
	NATS        nats.Config
	Idempotency idempotency.Config
	Gateway     gateway.Config
	Webhook     webhook.Config
	Payment     payment.Config
	Escrow      escrow.Config
	Payout      payout.Config
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := database.Migrate(migrations.FS, migrations.Dir, cfg.Database.URL, logger); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	natsClient, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	if _, err := natsClient.EnsureStream(ctx, nats.DefaultStreamConfig(webhook.StreamName, []string{webhook.SubjectAll})); err != nil {
		logger.Error("failed to ensure gateway event stream", "error", err)
		os.Exit(1)
	}

	idemStore, err := idempotency.NewRedisStore(ctx, cfg.Idempotency)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer idemStore.Close()

	var gw gateway.Gateway
	if cfg.Gateway.BaseURL != "" {
		gw = gateway.NewHTTPGateway(cfg.Gateway, logger)
	} else {
		logger.Warn("no gateway base URL configured, using stub gateway")
		gw = gateway.NewStub(cfg.Gateway.WebhookSecret)
	}

	publisher := nats.NewPublisher(natsClient, logger)

	ledgerStore := ledger.NewStore(db)
	sellerService := seller.NewService(seller.NewStore(db), gw, logger)
	paymentService := payment.NewService(payment.NewStore(db, ledgerStore), gw, sellerService, publisher, cfg.Payment, logger)
	payoutService := payout.NewService(payout.NewStore(db, ledgerStore), sellerService, gw, ledgerStore, publisher, cfg.Payout, logger)
	escrowManager := escrow.NewManager(escrow.NewStore(db), cfg.Escrow, logger)

	webhookStore := webhook.NewStore(db)
	webhookHandler := webhook.NewHandler(cfg.Webhook, webhookStore, publisher, logger)
	reconciler := webhook.NewReconciler(paymentService, payoutService, webhookStore, logger)

	consumerCfg := nats.DefaultConsumerConfig(webhook.ConsumerName, webhook.StreamName, webhook.SubjectAll)
	consumerCfg.MaxDeliver = webhook.MaxEventDeliveries
	consumer, err := natsClient.EnsureConsumer(ctx, consumerCfg)
	if err != nil {
		logger.Error("failed to ensure reconciler consumer", "error", err)
		os.Exit(1)
	}
	subscriber := nats.NewSubscriber(consumer, logger)
	go func() {
		if err := subscriber.Start(ctx, reconciler.Handle); err != nil {
			logger.Error("reconciler subscriber stopped", "error", err)
			cancel()
		}
	}()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.EscrowSchedule, func() {
		released, err := escrowManager.RunOnce(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("escrow release run failed", "error", err)
			return
		}
		if released > 0 {
			logger.Info("escrow release run complete", "released", released)
		}
	}); err != nil {
		logger.Error("invalid escrow schedule", "schedule", cfg.EscrowSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc(cfg.PayoutSchedule, func() {
		if err := payoutService.ProcessPending(ctx, time.Now().UTC()); err != nil {
			logger.Error("payout dispatch run failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid payout schedule", "schedule", cfg.PayoutSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	paymentAPI := paymentapi.NewHandler(paymentService)
	payoutAPI := payoutapi.NewHandler(payoutService)
	sellerAPI := sellerapi.NewHandler(sellerService, payoutService)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		if err := natsClient.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Method(http.MethodPost, "/webhooks/gateway", webhookHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idemStore, cfg.Idempotency.TTL))
		r.Mount("/payments", paymentAPI.Routes())
		r.Mount("/payouts", payoutAPI.Routes())
		r.Mount("/sellers", sellerAPI.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting settlement service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"gateway", gw.Name(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
