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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-trust/internal/app"
	"github.com/odyssey-erp/odyssey-trust/internal/observability"
	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	metrics := observability.NewMetrics()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open trust store", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	locker, _, closeLocker, err := app.NewLocker(ctx, cfg, logger)
	if err != nil {
		logger.Error("init locker", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeLocker()

	service, err := app.NewTrustService(ctx, cfg, backend, locker, logger)
	if err != nil {
		logger.Error("init trust service", slog.Any("error", err))
		os.Exit(1)
	}

	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	reconcileJob := app.NewReconcileJob(cfg, backend, service, client, reconcile.Deps{
		Metrics: metrics.Jobs(),
		Logger:  logger,
	})
	trigger, err := reconcile.ParseCronTrigger(cfg.TrustReconCron, time.UTC)
	if err != nil {
		logger.Error("parse reconciliation schedule", slog.Any("error", err))
		os.Exit(1)
	}
	scheduler := reconcile.NewScheduler(reconcileJob, trigger, nil, logger)

	paymentJob := jobs.NewPaymentConfirmedJob(service, logger, metrics.Jobs()).WithTimeout(cfg.TrustEventTimeout)
	reconcileTask := jobs.NewReconcileJob(scheduler, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTrustPaymentConfirmed, Handler: paymentJob.Handle},
			{Type: jobs.TaskTrustReconcile, Handler: reconcileTask.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	mux := chi.NewRouter()
	mux.Method(http.MethodGet, "/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("trust reconciliation scheduled", slog.String("cron", cfg.TrustReconCron))
		return scheduler.Start(gctx)
	})
	g.Go(func() error {
		logger.Info("starting worker metrics server", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
