package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-trust/jobs"
)

// Exit codes returned by TrustOpsCLI commands.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitBacklog  = 10
	defaultActor = "cli"
)

// ReconcileEnqueuer schedules an on-demand reconciliation run.
type ReconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, requestedBy string) (string, error)
}

// QueueInspector reads queue state.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// TrustOpsCLI offers operational helpers for the trust ledger workers.
type TrustOpsCLI struct {
	enqueuer  ReconcileEnqueuer
	inspector QueueInspector
}

// NewTrustOpsCLI constructs the helper. Either collaborator may be nil when the matching command
// is not used.
func NewTrustOpsCLI(enqueuer ReconcileEnqueuer, inspector QueueInspector) *TrustOpsCLI {
	return &TrustOpsCLI{enqueuer: enqueuer, inspector: inspector}
}

// ReconcileOptions defines flags for the reconcile command.
type ReconcileOptions struct {
	Actor      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// QueueOptions defines flags for the queues command. MaxBacklog > 0 makes the command exit with
// ExitBacklog when pending plus retry tasks exceed it on any queue.
type QueueOptions struct {
	MaxBacklog int
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// QueueStats summarises the state of one queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Backlog counts tasks waiting to be processed.
func (s QueueStats) Backlog() int {
	return s.Pending + s.Retry
}

// ReconcileCommand enqueues a reconciliation run and prints the task id.
func (c *TrustOpsCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c == nil || c.enqueuer == nil {
		_, _ = fmt.Fprintln(stderr, "trust reconcile: queue client not configured")
		return ExitFailure
	}
	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		actor = defaultActor
	}
	taskID, err := c.enqueuer.EnqueueReconcile(ctx, actor)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "trust reconcile: %v\n", err)
		return ExitFailure
	}
	if opts.JSONOutput {
		out := map[string]string{"task_id": taskID, "status": "queued", "requested_by": actor}
		if err := json.NewEncoder(stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(stderr, "trust reconcile: encode json: %v\n", err)
			return ExitFailure
		}
		return ExitOK
	}
	_, _ = fmt.Fprintf(stdout, "reconciliation queued (task %s)\n", taskID)
	return ExitOK
}

// QueuesCommand prints the state of the trust queues.
func (c *TrustOpsCLI) QueuesCommand(ctx context.Context, opts QueueOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	stats, err := c.InspectQueues(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "trust queues: %v\n", err)
		return ExitFailure
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(map[string]any{"queues": stats}); err != nil {
			_, _ = fmt.Fprintf(stderr, "trust queues: encode json: %v\n", err)
			return ExitFailure
		}
	} else {
		renderQueues(stdout, stats)
	}
	if opts.MaxBacklog > 0 {
		for _, s := range stats {
			if s.Backlog() > opts.MaxBacklog {
				return ExitBacklog
			}
		}
	}
	return ExitOK
}

// InspectQueues reports the critical and default queues. Queues that were never used report zero.
func (c *TrustOpsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("inspector not configured")
	}
	names := []string{jobs.QueueCritical, jobs.QueueDefault}
	stats := make([]QueueStats, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := c.inspector.GetQueueInfo(name)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			stats = append(stats, QueueStats{Queue: name})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", name, err)
		}
		stats = append(stats, QueueStats{
			Queue:     name,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
		})
	}
	return stats, nil
}

// Run dispatches `trust <command>` arguments. args excludes the "trust" word.
func (c *TrustOpsCLI) Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	stdout, stderr = writers(stdout, stderr)
	if len(args) == 0 {
		usage(stderr)
		return ExitUsage
	}
	switch args[0] {
	case "reconcile":
		fs := flag.NewFlagSet("trust reconcile", flag.ContinueOnError)
		fs.SetOutput(stderr)
		actor := fs.String("actor", defaultActor, "identity recorded as the requester")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return ExitUsage
		}
		return c.ReconcileCommand(ctx, ReconcileOptions{Actor: *actor, JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr})
	case "queues":
		fs := flag.NewFlagSet("trust queues", flag.ContinueOnError)
		fs.SetOutput(stderr)
		maxBacklog := fs.Int("max-backlog", 0, "exit 10 when any queue backlog exceeds this value")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return ExitUsage
		}
		return c.QueuesCommand(ctx, QueueOptions{MaxBacklog: *maxBacklog, JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr})
	default:
		_, _ = fmt.Fprintf(stderr, "trust: unknown command %q\n", args[0])
		usage(stderr)
		return ExitUsage
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: odyssey trust <reconcile|queues> [flags]")
}

func renderQueues(w io.Writer, stats []QueueStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
	for _, s := range stats {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
	}
	_ = tw.Flush()
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
