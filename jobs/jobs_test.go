package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

type fakeRecorder struct {
	calls  []trust.BuyerPaymentInput
	result trust.PostingResult
	err    error
}

func (f *fakeRecorder) RecordBuyerPayment(_ context.Context, in trust.BuyerPaymentInput) (trust.PostingResult, error) {
	f.calls = append(f.calls, in)
	return f.result, f.err
}

func paymentTask(t *testing.T, payload PaymentConfirmedPayload) *asynq.Task {
	t.Helper()
	task, err := NewPaymentConfirmedTask(payload)
	require.NoError(t, err)
	return task
}

func samplePayload() PaymentConfirmedPayload {
	return PaymentConfirmedPayload{
		CompanyID:  1,
		PropertyID: 10,
		PaymentID:  "pay-1",
		Amount:     decimal.NewFromInt(100000),
		Reference:  "DEP-1",
		PaidAt:     time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPaymentConfirmedJobPostsPayment(t *testing.T) {
	recorder := &fakeRecorder{result: trust.PostingResult{Transaction: trust.TrustTransaction{Seq: 1}}}
	job := NewPaymentConfirmedJob(recorder, nil, nil)

	require.NoError(t, job.Handle(context.Background(), paymentTask(t, samplePayload())))
	require.Len(t, recorder.calls, 1)
	in := recorder.calls[0]
	assert.Equal(t, "pay-1", in.PaymentID)
	assert.True(t, in.Amount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, SourcePaymentConfirmed, in.SourceEvent)
}

func TestPaymentConfirmedJobDuplicateIsSuccess(t *testing.T) {
	recorder := &fakeRecorder{result: trust.PostingResult{Duplicate: true}}
	job := NewPaymentConfirmedJob(recorder, nil, nil)
	assert.NoError(t, job.Handle(context.Background(), paymentTask(t, samplePayload())))
}

func TestPaymentConfirmedJobSkipsRetryOnRejection(t *testing.T) {
	for name, err := range map[string]error{
		"validation": trust.ErrValidation,
		"closed":     trust.ErrAccountClosed,
	} {
		t.Run(name, func(t *testing.T) {
			job := NewPaymentConfirmedJob(&fakeRecorder{err: err}, nil, nil)
			got := job.Handle(context.Background(), paymentTask(t, samplePayload()))
			assert.ErrorIs(t, got, asynq.SkipRetry)
		})
	}
}

func TestPaymentConfirmedJobRetriesTransientFailure(t *testing.T) {
	job := NewPaymentConfirmedJob(&fakeRecorder{err: trust.ErrConcurrentPosting}, nil, nil)
	got := job.Handle(context.Background(), paymentTask(t, samplePayload()))
	require.Error(t, got)
	assert.NotErrorIs(t, got, asynq.SkipRetry)
	assert.ErrorIs(t, got, trust.ErrConcurrentPosting)
}

func TestPaymentConfirmedJobRejectsMalformedPayload(t *testing.T) {
	recorder := &fakeRecorder{}
	job := NewPaymentConfirmedJob(recorder, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskTrustPaymentConfirmed, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, recorder.calls)
}

type fakeRunner struct {
	summary reconcile.Summary
	err     error
	calls   int
}

func (f *fakeRunner) RunNow(context.Context) (reconcile.Summary, error) {
	f.calls++
	return f.summary, f.err
}

func TestReconcileJobTreatsRunInProgressAsDone(t *testing.T) {
	task, err := NewReconcileTask(ReconcilePayload{RequestedBy: "ops"})
	require.NoError(t, err)

	runner := &fakeRunner{err: reconcile.ErrRunInProgress}
	require.NoError(t, NewReconcileJob(runner, nil).Handle(context.Background(), task))
	assert.Equal(t, 1, runner.calls)

	runner = &fakeRunner{err: errors.New("boom")}
	assert.Error(t, NewReconcileJob(runner, nil).Handle(context.Background(), task))

	runner = &fakeRunner{summary: reconcile.Summary{RunID: uuid.New()}}
	assert.NoError(t, NewReconcileJob(runner, nil).Handle(context.Background(), task))
}

type recordingEnqueuer struct {
	tasks  []*asynq.Task
	ids    []string
	queued map[string]bool
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	id := uuid.NewString()
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			id = opt.Value().(string)
		}
	}
	if r.queued == nil {
		r.queued = map[string]bool{}
	}
	if r.queued[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	r.queued[id] = true
	r.tasks = append(r.tasks, task)
	r.ids = append(r.ids, id)
	return &asynq.TaskInfo{ID: id, Type: task.Type()}, nil
}

func (r *recordingEnqueuer) Close() error { return nil }

func TestEmitPaymentConfirmedKeysTaskByPayment(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := newClient(enq)
	payment := trust.SalePayment{PaymentID: "pay-9", CompanyID: 2, PropertyID: 5, Amount: decimal.NewFromInt(10)}

	require.NoError(t, client.EmitPaymentConfirmed(context.Background(), payment))
	require.NoError(t, client.EmitPaymentConfirmed(context.Background(), payment))

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, PaymentTaskID(2, "pay-9"), enq.ids[0])

	var payload PaymentConfirmedPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.True(t, payload.Replayed)
	assert.Equal(t, SourcePaymentConfirmed+".replayed", payload.Input().SourceEvent)
}

func TestEnqueueReconcileReturnsTaskID(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := newClient(enq)
	id, err := client.EnqueueReconcile(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTrustReconcile, enq.tasks[0].Type())
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueCritical: {Queue: QueueCritical, Pending: 3},
	}}, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, 3, body.Queues[0].Pending)
	assert.Equal(t, QueueDefault, body.Queues[1].Queue)
}
