package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
	fire  chan time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	return c.fire
}

type hourlyTrigger struct{}

func (hourlyTrigger) Next(after time.Time) time.Time {
	return after.Truncate(time.Hour).Add(time.Hour)
}

type countingRunner struct {
	ran chan struct{}
	err error
}

func (r *countingRunner) Run(context.Context) (Summary, error) {
	r.ran <- struct{}{}
	return Summary{}, r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerFiresOnTrigger(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC), fire: make(chan time.Time)}
	runner := &countingRunner{ran: make(chan struct{}, 1), err: ErrRunInProgress}
	scheduler := NewScheduler(runner, hourlyTrigger{}, clock, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	for i := 0; i < 2; i++ {
		clock.fire <- clock.Now()
		select {
		case <-runner.ran:
		case <-time.After(time.Second):
			t.Fatal("runner not fired")
		}
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	clock.mu.Lock()
	defer clock.mu.Unlock()
	require.GreaterOrEqual(t, len(clock.waits), 2)
	assert.Equal(t, 45*time.Minute, clock.waits[0])
}

func TestSchedulerRunNowPassesThroughErrors(t *testing.T) {
	boom := errors.New("boom")
	runner := &countingRunner{ran: make(chan struct{}, 1), err: boom}
	scheduler := NewScheduler(runner, hourlyTrigger{}, nil, discardLogger())

	_, err := scheduler.RunNow(context.Background())
	require.ErrorIs(t, err, boom)

	runner.err = ErrRunInProgress
	<-runner.ran
	_, err = scheduler.RunNow(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)
}

func TestCronTrigger(t *testing.T) {
	trigger, err := ParseCronTrigger("0 2 * * *", nil)
	require.NoError(t, err)
	next := trigger.Next(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), next)

	harare, err := time.LoadLocation("Africa/Harare")
	if err == nil {
		local, err := ParseCronTrigger("0 2 * * *", harare)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), local.Next(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)).UTC())
	}

	def, err := ParseCronTrigger("", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, def.Next(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)).Hour())

	_, err = ParseCronTrigger("every day", nil)
	require.Error(t, err)
}
