package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-trust/jobs"
)

type stubEnqueuer struct {
	requestedBy string
	err         error
}

func (s *stubEnqueuer) EnqueueReconcile(ctx context.Context, requestedBy string) (string, error) {
	s.requestedBy = requestedBy
	if s.err != nil {
		return "", s.err
	}
	return "task-1", nil
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestReconcileCommandJSON(t *testing.T) {
	enq := &stubEnqueuer{}
	cli := NewTrustOpsCLI(enq, nil)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := cli.ReconcileCommand(context.Background(), ReconcileOptions{Actor: "ops@odyssey", JSONOutput: true, Stdout: stdout, Stderr: stderr})

	require.Equal(t, ExitOK, code, stderr.String())
	require.Equal(t, "ops@odyssey", enq.requestedBy)
	var out map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Equal(t, "task-1", out["task_id"])
	require.Equal(t, "queued", out["status"])
}

func TestReconcileCommandDefaultsActorAndReportsFailure(t *testing.T) {
	enq := &stubEnqueuer{err: errors.New("redis down")}
	cli := NewTrustOpsCLI(enq, nil)

	stderr := new(bytes.Buffer)
	code := cli.ReconcileCommand(context.Background(), ReconcileOptions{Stdout: new(bytes.Buffer), Stderr: stderr})

	require.Equal(t, ExitFailure, code)
	require.Equal(t, "cli", enq.requestedBy)
	require.Contains(t, stderr.String(), "redis down")
}

func TestQueuesCommandBacklogExitCode(t *testing.T) {
	cli := NewTrustOpsCLI(nil, stubInspector{infos: map[string]*asynq.QueueInfo{
		jobs.QueueCritical: {Queue: jobs.QueueCritical, Pending: 40, Retry: 12},
	}})

	stdout := new(bytes.Buffer)
	code := cli.QueuesCommand(context.Background(), QueueOptions{MaxBacklog: 50, JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitBacklog, code)

	var out struct {
		Queues []QueueStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Len(t, out.Queues, 2)
	require.Equal(t, 52, out.Queues[0].Backlog())
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault}, out.Queues[1])
}

func TestQueuesCommandHumanOutput(t *testing.T) {
	cli := NewTrustOpsCLI(nil, stubInspector{infos: map[string]*asynq.QueueInfo{
		jobs.QueueDefault: {Queue: jobs.QueueDefault, Pending: 1},
	}})
	stdout := new(bytes.Buffer)
	code := cli.QueuesCommand(context.Background(), QueueOptions{Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitOK, code)
	require.Contains(t, stdout.String(), "QUEUE")
	require.Contains(t, stdout.String(), jobs.QueueDefault)
}

func TestRunDispatchesAndRejectsUnknownCommands(t *testing.T) {
	enq := &stubEnqueuer{}
	cli := NewTrustOpsCLI(enq, stubInspector{err: errors.New("boom")})
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	require.Equal(t, ExitOK, cli.Run(context.Background(), []string{"reconcile", "-actor", "alice"}, stdout, stderr))
	require.Equal(t, "alice", enq.requestedBy)

	require.Equal(t, ExitFailure, cli.Run(context.Background(), []string{"queues"}, stdout, stderr))
	require.Equal(t, ExitUsage, cli.Run(context.Background(), []string{"rebuild"}, stdout, stderr))
	require.Equal(t, ExitUsage, cli.Run(context.Background(), nil, stdout, stderr))
}
