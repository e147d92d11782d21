package trust

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTxStore refuses or runs transactions on demand. Store methods are never called.
type fakeTxStore struct {
	Store
	txErr   error
	txCalls int
}

func (f *fakeTxStore) WithinTransaction(ctx context.Context, fn func(context.Context, Store) error) error {
	f.txCalls++
	if f.txErr != nil {
		return f.txErr
	}
	return fn(ctx, f)
}

// plainStore has no transaction support at all.
type plainStore struct {
	Store
}

func TestParseTxMode(t *testing.T) {
	for in, want := range map[string]TxMode{"": TxModeAuto, "auto": TxModeAuto, "transactional": TxModeTransactional, "sequential": TxModeSequential} {
		got, err := ParseTxMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTxMode("eventual")
	require.Error(t, err)
}

func TestUnitOfWorkAutoFallsBackOnce(t *testing.T) {
	store := &fakeTxStore{txErr: ErrTransactionsUnsupported}
	uow := NewUnitOfWork(store, TxModeAuto, nil)
	require.True(t, uow.Transactional())

	runs := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, uow.Do(context.Background(), func(context.Context, Store) error {
			runs++
			return nil
		}))
	}
	assert.Equal(t, 3, runs)
	assert.Equal(t, 1, store.txCalls)
	assert.False(t, uow.Transactional())
}

func TestUnitOfWorkTransactionalRefuses(t *testing.T) {
	store := &fakeTxStore{txErr: ErrTransactionsUnsupported}
	uow := NewUnitOfWork(store, TxModeTransactional, nil)

	called := false
	err := uow.Do(context.Background(), func(context.Context, Store) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrTransactionsUnsupported)
	assert.False(t, called)
	assert.True(t, uow.Transactional())
}

func TestUnitOfWorkPropagatesStepErrors(t *testing.T) {
	store := &fakeTxStore{}
	uow := NewUnitOfWork(store, TxModeAuto, nil)
	boom := errors.New("boom")

	err := uow.Do(context.Background(), func(context.Context, Store) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.True(t, uow.Transactional())
	assert.Equal(t, 1, store.txCalls)
}

func TestUnitOfWorkSequentialModes(t *testing.T) {
	tx := &fakeTxStore{}
	uow := NewUnitOfWork(tx, TxModeSequential, nil)
	require.NoError(t, uow.Do(context.Background(), func(context.Context, Store) error { return nil }))
	assert.Zero(t, tx.txCalls)
	assert.False(t, uow.Transactional())

	plain := NewUnitOfWork(plainStore{}, TxModeAuto, nil)
	assert.False(t, plain.Transactional())
	require.NoError(t, plain.Probe(context.Background()))
}

func TestLocalLockerSerializesPerKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "trust:account:1:a")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, locker.locks)
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	other, err := locker.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	again, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
	assert.Empty(t, locker.locks)
}
