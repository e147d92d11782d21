package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-trust/internal/jobs"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

// Payment event outcomes counted in metrics.
const (
	OutcomePosted    = "posted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// PaymentRecorder posts buyer payments into trust.
type PaymentRecorder interface {
	RecordBuyerPayment(ctx context.Context, in trust.BuyerPaymentInput) (trust.PostingResult, error)
}

// PaymentConfirmedJob consumes payment confirmed events.
type PaymentConfirmedJob struct {
	recorder PaymentRecorder
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	timeout  time.Duration
}

// NewPaymentConfirmedJob initialises the payment handler.
func NewPaymentConfirmedJob(recorder PaymentRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *PaymentConfirmedJob {
	return &PaymentConfirmedJob{recorder: recorder, logger: logger, metrics: metrics}
}

// WithTimeout bounds each posting attempt.
func (j *PaymentConfirmedJob) WithTimeout(d time.Duration) *PaymentConfirmedJob {
	j.timeout = d
	return j
}

// Handle posts the payment. Bad input and business-rule rejections skip retry; everything else
// is retried by asynq with backoff.
func (j *PaymentConfirmedJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.recorder == nil {
		return errors.New("payment confirmed: handler not configured")
	}
	var payload PaymentConfirmedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.metrics.ObservePayment(OutcomeRejected)
		return fmt.Errorf("payment confirmed: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics.Track(TaskTrustPaymentConfirmed)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(
		slog.Int64("company_id", payload.CompanyID),
		slog.Int64("property_id", payload.PropertyID),
		slog.String("payment_id", payload.PaymentID),
	)

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	result, err := j.recorder.RecordBuyerPayment(ctx, payload.Input())
	switch {
	case err == nil && result.Duplicate:
		j.metrics.ObservePayment(OutcomeDuplicate)
		logger.Info("payment already posted")
		return nil
	case err == nil:
		j.metrics.ObservePayment(OutcomePosted)
		logger.Info("payment posted to trust",
			slog.String("trust_account_id", result.Account.ID.String()),
			slog.Int64("seq", result.Transaction.Seq),
			slog.String("running_balance", result.Transaction.RunningBalance.StringFixed(2)))
		return nil
	case trust.IsValidation(err) || trust.IsInvariant(err):
		j.metrics.ObservePayment(OutcomeRejected)
		logger.Warn("payment rejected", slog.Any("error", err))
		resultErr = fmt.Errorf("payment confirmed: %v: %w", err, asynq.SkipRetry)
		return resultErr
	default:
		j.metrics.ObservePayment(OutcomeFailed)
		logger.Error("payment posting failed", slog.Any("error", err))
		resultErr = err
		return resultErr
	}
}

func (j *PaymentConfirmedJob) log() *slog.Logger {
	if j.logger == nil {
		return slog.Default()
	}
	return j.logger
}
