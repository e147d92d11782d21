package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
)

// ReconcileRunner executes one reconciliation pass.
type ReconcileRunner interface {
	RunNow(ctx context.Context) (reconcile.Summary, error)
}

// ReconcileJob handles on-demand reconciliation tasks.
type ReconcileJob struct {
	runner ReconcileRunner
	logger *slog.Logger
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(runner ReconcileRunner, logger *slog.Logger) *ReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileJob{runner: runner, logger: logger}
}

// Handle runs the reconciliation. A run already holding the lease satisfies the request.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.runner == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := j.logger.With(slog.String("requested_by", payload.RequestedBy))

	summary, err := j.runner.RunNow(ctx)
	if errors.Is(err, reconcile.ErrRunInProgress) {
		logger.Info("reconciliation already running, request satisfied")
		return nil
	}
	if err != nil {
		logger.Error("on-demand reconciliation failed", slog.Any("error", err))
		return err
	}
	missing, mismatches, repairs := summary.Totals()
	logger.Info("on-demand reconciliation completed",
		slog.String("run_id", summary.RunID.String()),
		slog.Int("tenants", len(summary.Results)),
		slog.Int("missing_postings", missing),
		slog.Int("balance_mismatches", mismatches),
		slog.Int("auto_repairs", repairs))
	return nil
}
