package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/odyssey-trust/internal/jobs"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

// JobName labels metrics and logs for the reconciliation job.
const JobName = "trust_reconciliation"

// Config tunes a Job.
type Config struct {
	LeaseTTL      time.Duration
	TenantTimeout time.Duration
	Concurrency   int
}

func (c Config) withDefaults() Config {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Minute
	}
	if c.TenantTimeout <= 0 {
		c.TenantTimeout = 5 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Deps groups the collaborators of a Job.
type Deps struct {
	Leases    LeaseStore
	Results   ResultStore
	Payments  PaymentSource
	Ledger    Ledger
	Emitter   Emitter
	Realigner Realigner
	Metrics   *jobmetrics.Metrics
	Logger    *slog.Logger
}

// Job compares the ledger against source payments and self-heals drift.
type Job struct {
	deps   Deps
	cfg    Config
	holder string
	now    func() time.Time
	newID  func() uuid.UUID
}

// NewJob constructs the reconciliation job.
func NewJob(deps Deps, cfg Config) *Job {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &Job{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		holder: fmt.Sprintf("%s:%d", host, os.Getpid()),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.New,
	}
}

// WithNow overrides the clock for testing.
func (j *Job) WithNow(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// Run executes one reconciliation pass over every tenant with sale payments. It returns
// ErrRunInProgress when another run holds the lease.
func (j *Job) Run(ctx context.Context) (summary Summary, err error) {
	tracker := j.deps.Metrics.Track(JobName)
	defer func() {
		if !errors.Is(err, ErrRunInProgress) {
			err = tracker.End(err)
		}
	}()

	runID := j.newID()
	holder := j.holder + ":" + runID.String()
	acquired, err := j.deps.Leases.AcquireLease(ctx, LeaseName, holder, j.cfg.LeaseTTL, j.now())
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: acquire lease: %w", err)
	}
	if !acquired {
		return Summary{}, ErrRunInProgress
	}
	defer func() {
		if relErr := j.deps.Leases.ReleaseLease(context.WithoutCancel(ctx), LeaseName, holder); relErr != nil {
			j.deps.Logger.Warn("release reconciliation lease", slog.Any("error", relErr))
		}
	}()

	logger := j.deps.Logger.With(slog.String("run_id", runID.String()))
	summary = Summary{RunID: runID, StartedAt: j.now()}
	tenants, err := j.deps.Payments.TenantsWithSalePayments(ctx)
	if err != nil {
		return summary, fmt.Errorf("reconcile: list tenants: %w", err)
	}
	logger.Info("starting trust reconciliation", slog.Int("tenants", len(tenants)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for _, companyID := range tenants {
		g.Go(func() error {
			result := j.reconcileTenant(gctx, runID, companyID, logger)
			if err := j.deps.Results.InsertReconciliationResult(context.WithoutCancel(gctx), result); err != nil {
				logger.Error("persist reconciliation result", slog.Int64("company_id", companyID), slog.Any("error", err))
			}
			j.observe(result)
			mu.Lock()
			summary.Results = append(summary.Results, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = j.now()
	missing, mismatches, repairs := summary.Totals()
	logger.Info("trust reconciliation finished",
		slog.Int("tenants", len(summary.Results)),
		slog.Int("missing_postings", missing),
		slog.Int("balance_mismatches", mismatches),
		slog.Int("auto_repairs", repairs),
		slog.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

func (j *Job) observe(r Result) {
	j.deps.Metrics.AddFindings(jobmetrics.FindingMissingPosting, r.CompanyID, r.MissingPostings)
	j.deps.Metrics.AddFindings(jobmetrics.FindingBalanceMismatch, r.CompanyID, r.BalanceMismatches)
	j.deps.Metrics.AddFindings(jobmetrics.FindingAutoRepair, r.CompanyID, r.AutoRepairs)
	failed := 0
	for _, d := range r.Details {
		if d.Kind == DetailRepairFailed {
			failed++
		}
	}
	j.deps.Metrics.AddFindings(jobmetrics.FindingRepairFailed, r.CompanyID, failed)
}

// reconcileTenant never returns an error: failures land on the result.
func (j *Job) reconcileTenant(ctx context.Context, runID uuid.UUID, companyID int64, logger *slog.Logger) Result {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.TenantTimeout)
	defer cancel()

	result := Result{ID: j.newID(), RunID: runID, CompanyID: companyID, StartedAt: j.now()}
	logger = logger.With(slog.Int64("company_id", companyID))
	if err := j.checkPayments(ctx, &result); err != nil {
		result.Error = err.Error()
	}
	if err := j.checkBalances(ctx, &result); err != nil {
		if result.Error != "" {
			result.Error += "; "
		}
		result.Error += err.Error()
	}
	result.FinishedAt = j.now()
	if result.Error != "" {
		logger.Error("tenant reconciliation failed", slog.String("error", result.Error))
	}
	return result
}

func (j *Job) checkPayments(ctx context.Context, result *Result) error {
	payments, err := j.deps.Payments.CompanySalePayments(ctx, result.CompanyID)
	if err != nil {
		return fmt.Errorf("list sale payments: %w", err)
	}
	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("payments check interrupted: %w", err)
		}
		result.CheckedPayments++
		_, err := j.deps.Ledger.FindTransactionByPayment(ctx, result.CompanyID, p.PaymentID)
		if err == nil {
			continue
		}
		if !errors.Is(err, trust.ErrNotFound) {
			result.addDetail(Detail{Kind: DetailCheckFailed, PaymentID: p.PaymentID, PropertyID: p.PropertyID, Message: err.Error()})
			continue
		}
		result.MissingPostings++
		amount := p.Amount
		if err := j.deps.Emitter.EmitPaymentConfirmed(ctx, p); err != nil {
			result.addDetail(Detail{
				Kind:       DetailRepairFailed,
				PaymentID:  p.PaymentID,
				PropertyID: p.PropertyID,
				Expected:   &amount,
				Message:    fmt.Sprintf("re-emit payment confirmed: %v", err),
			})
			continue
		}
		result.AutoRepairs++
		result.addDetail(Detail{
			Kind:       DetailMissingPosting,
			PaymentID:  p.PaymentID,
			PropertyID: p.PropertyID,
			Expected:   &amount,
			Message:    "payment confirmed re-emitted",
		})
	}
	return nil
}

func (j *Job) checkBalances(ctx context.Context, result *Result) error {
	const perPage = 200
	for page := 1; ; page++ {
		accounts, total, err := j.deps.Ledger.ListAccounts(ctx, trust.AccountFilter{CompanyID: result.CompanyID, Page: page, PerPage: perPage})
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, account := range accounts {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("balance check interrupted: %w", err)
			}
			result.CheckedAccounts++
			j.checkAccount(ctx, result, account)
		}
		if len(accounts) == 0 || page*perPage >= total {
			return nil
		}
	}
}

func (j *Job) checkAccount(ctx context.Context, result *Result, account trust.TrustAccount) {
	accountID := account.ID
	latest, err := j.deps.Ledger.LatestTransaction(ctx, account.CompanyID, account.ID)
	if errors.Is(err, trust.ErrNotFound) {
		return
	}
	if err != nil {
		result.addDetail(Detail{Kind: DetailCheckFailed, TrustAccountID: &accountID, PropertyID: account.PropertyID, Message: err.Error()})
		return
	}
	if latest.RunningBalance.Equal(account.RunningBalance) {
		return
	}
	result.BalanceMismatches++
	expected, actual := latest.RunningBalance, account.RunningBalance
	detail := Detail{
		Kind:           DetailBalanceMismatch,
		TrustAccountID: &accountID,
		PropertyID:     account.PropertyID,
		Expected:       &expected,
		Actual:         &actual,
		Message:        fmt.Sprintf("ledger snapshot %s differs from account balance %s", expected.StringFixed(2), actual.StringFixed(2)),
	}
	if account.Status == trust.AccountStatusClosed {
		detail.Message += "; account closed, not repaired"
		result.addDetail(detail)
		return
	}
	if _, err := j.deps.Realigner.RealignBalance(ctx, account.Ref(), expected, "reconciliation:"+result.RunID.String()); err != nil {
		result.addDetail(Detail{
			Kind:           DetailRepairFailed,
			TrustAccountID: &accountID,
			PropertyID:     account.PropertyID,
			Expected:       &expected,
			Actual:         &actual,
			Message:        fmt.Sprintf("realign balance: %v", err),
		})
		return
	}
	result.AutoRepairs++
	result.addDetail(detail)
}
