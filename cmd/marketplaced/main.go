package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyfronet-fid/marketplace-egi/internal/app"
	"github.com/cyfronet-fid/marketplace-egi/internal/bus"
	"github.com/cyfronet-fid/marketplace-egi/internal/clock"
	"github.com/cyfronet-fid/marketplace-egi/internal/config"
	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/cyfronet-fid/marketplace-egi/internal/notify"
	"github.com/cyfronet-fid/marketplace-egi/internal/queue"
	"github.com/cyfronet-fid/marketplace-egi/internal/storage/postgres"
	"github.com/cyfronet-fid/marketplace-egi/internal/tracker"
	transporthttp "github.com/cyfronet-fid/marketplace-egi/internal/transport/http"
	"github.com/cyfronet-fid/marketplace-egi/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "marketplaced: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	pub, err := newPublisher(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	trackerClient := tracker.NewRESTClient(tracker.RESTConfig{
		BaseURL:          cfg.Tracker.BaseURL,
		Username:         cfg.Tracker.Username,
		Token:            cfg.Tracker.Token,
		ProjectKey:       cfg.Tracker.ProjectKey,
		IssueType:        cfg.Tracker.IssueType,
		ProjectIssueType: cfg.Tracker.ProjectIssueType,
		Timeout:          cfg.Tracker.Timeout,
	})

	orderRepo := postgres.NewOrderRepository(pool)
	projectRepo := postgres.NewProjectRepository(pool)
	clk := clock.NewSystem()

	notifier := newNotifier(cfg.SMTP, projectRepo, logger)

	registerSvc := app.NewRegisterService(orderRepo, projectRepo, trackerClient, clk, logger)

	registrations := queue.New(registerSvc, logger, queue.Options{
		Workers: cfg.Queue.Workers,
		Retries: cfg.Queue.Retries,
		Backoff: cfg.Queue.Backoff,
	})

	orderSvc := app.NewOrderService(orderRepo, projectRepo, notifier, pub, registrations, clk, logger)
	reconcileSvc := app.NewReconcileService(orderRepo, clk, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	registrations.Start(workerCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", transporthttp.HealthHandler)
	mux.Handle("/api/orders", transporthttp.HandleCreateOrder(orderSvc))
	mux.Handle("/api/orders/", transporthttp.HandleGetOrder(orderSvc))
	mux.Handle("/webhooks/tracker", transporthttp.HandleTrackerWebhook(reconcileSvc, orderRepo))
	mux.Handle("/", transporthttp.NotFoundHandler())

	handler := transporthttp.Recover(transporthttp.RequestLogger(mux, logger), logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler,
	}

	logger.Info().Int("port", cfg.Server.Port).Msg("marketplaced listening")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
		}
	case <-stopCtx.Done():
		logger.Info().Msg("shutdown signal received, stopping")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	// Let queued registrations drain before the pool closes.
	registrations.Close()

	logger.Info().Msg("stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// closablePublisher is what main manages: the app-facing publish
// contract plus shutdown.
type closablePublisher interface {
	app.Publisher
	Close()
}

func newPublisher(cfg config.NATSConfig, logger zerolog.Logger) (closablePublisher, error) {
	if cfg.URL == "" {
		logger.Warn().Msg("MP_NATS_URL not set, bus publishing disabled")
		return bus.NopPublisher{Logger: logger}, nil
	}
	publisher, err := bus.NewNATSPublisher(bus.Config{
		URL:         cfg.URL,
		TopicPrefix: cfg.TopicPrefix,
		Name:        "marketplaced",
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}
	return publisher, nil
}

func newNotifier(cfg config.SMTPConfig, projects *postgres.ProjectRepository, logger zerolog.Logger) app.Notifier {
	if cfg.Addr == "" {
		logger.Warn().Msg("MP_SMTP_ADDR not set, notifications are logged only")
		return notify.LogNotifier{Logger: logger}
	}
	return &notify.SMTPNotifier{
		Addr: cfg.Addr,
		From: cfg.From,
		Recipient: func(ctx context.Context, order domain.Order) (string, error) {
			project, err := projects.GetProject(ctx, order.ProjectID)
			if err != nil {
				return "", err
			}
			return project.Email, nil
		},
	}
}
