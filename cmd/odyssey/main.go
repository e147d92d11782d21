package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-trust/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-trust/internal/app"
	"github.com/odyssey-erp/odyssey-trust/internal/observability"
	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
	"github.com/odyssey-erp/odyssey-trust/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	if len(os.Args) > 1 && os.Args[1] == "trust" {
		os.Exit(runTrustCLI(ctx, redisOpts, logger, os.Args[2:]))
	}

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open trust store", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	locker, redisClient, closeLocker, err := app.NewLocker(ctx, cfg, logger)
	if err != nil {
		logger.Error("init locker", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeLocker()
	if redisClient != nil {
		backend.Health["redis"] = app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	service, err := app.NewTrustService(ctx, cfg, backend, locker, logger)
	if err != nil {
		logger.Error("init trust service", slog.Any("error", err))
		os.Exit(1)
	}

	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		TrustHandler:     trust.NewHandler(logger, service),
		ReconcileHandler: reconcile.NewHandler(logger, backend.Results, jobClient),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		Health:           backend.Health,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.TrustStoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runTrustCLI(ctx context.Context, redisOpts asynq.RedisClientOpt, logger *slog.Logger, args []string) int {
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return cli.ExitFailure
	}
	defer func() { _ = client.Close() }()
	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()
	return cli.NewTrustOpsCLI(client, inspector).Run(ctx, args, os.Stdout, os.Stderr)
}
