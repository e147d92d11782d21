package glmirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

type stubRepo struct {
	mappings map[string]int64
	linked   map[uuid.UUID]bool
	journals []Journal
	lines    map[int64][]Line
	nextID   int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		mappings: map[string]int64{
			CashKey:                          1000,
			string(trust.TxBuyerPayment):     2100,
			string(trust.TxCGTDeduction):     2200,
			string(trust.TxTransferToSeller): 2300,
		},
		linked: map[uuid.UUID]bool{},
		lines:  map[int64][]Line{},
	}
}

func (r *stubRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	staged := &stubTx{repo: r}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	r.journals = append(r.journals, staged.journals...)
	for id, lines := range staged.lines {
		r.lines[id] = lines
	}
	for id := range staged.links {
		r.linked[id] = true
	}
	return nil
}

func (r *stubRepo) AccountMapping(_ context.Context, module, key string) (int64, error) {
	if module != SourceModule {
		return 0, ErrMappingNotFound
	}
	id, ok := r.mappings[key]
	if !ok {
		return 0, ErrMappingNotFound
	}
	return id, nil
}

type stubTx struct {
	repo     *stubRepo
	journals []Journal
	lines    map[int64][]Line
	links    map[uuid.UUID]bool
}

func (t *stubTx) OpenPeriodFor(context.Context, time.Time) (int64, error) { return 1, nil }

func (t *stubTx) InsertJournalEntry(_ context.Context, _ int64, j Journal) (int64, error) {
	t.repo.nextID++
	t.journals = append(t.journals, j)
	return t.repo.nextID, nil
}

func (t *stubTx) InsertJournalLines(_ context.Context, entryID int64, lines []Line) error {
	if t.lines == nil {
		t.lines = map[int64][]Line{}
	}
	t.lines[entryID] = lines
	return nil
}

func (t *stubTx) LinkSource(_ context.Context, _ string, j Journal, _ int64) error {
	if t.repo.linked[j.SourceID] {
		return ErrSourceAlreadyLinked
	}
	if t.links == nil {
		t.links = map[uuid.UUID]bool{}
	}
	t.links[j.SourceID] = true
	return nil
}

func sampleAccount() trust.TrustAccount {
	return trust.TrustAccount{ID: uuid.New(), CompanyID: 3, PropertyID: 9}
}

func TestBuildJournalOrientation(t *testing.T) {
	account := sampleAccount()
	m := Mappings{Cash: 1000, Counters: map[trust.TransactionType]int64{
		trust.TxBuyerPayment: 2100,
		trust.TxCGTDeduction: 2200,
	}}

	credit := trust.TrustTransaction{ID: uuid.New(), Type: trust.TxBuyerPayment, Credit: decimal.NewFromInt(100000)}
	j, err := BuildJournal(account, credit, m)
	require.NoError(t, err)
	require.Len(t, j.Lines, 2)
	assert.Equal(t, int64(1000), j.Lines[0].AccountID)
	assert.True(t, j.Lines[0].Debit.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, int64(2100), j.Lines[1].AccountID)
	assert.True(t, j.Lines[1].Credit.Equal(decimal.NewFromInt(100000)))

	debit := trust.TrustTransaction{ID: uuid.New(), Type: trust.TxCGTDeduction, Debit: decimal.NewFromInt(20000)}
	j, err = BuildJournal(account, debit, m)
	require.NoError(t, err)
	assert.Equal(t, int64(2200), j.Lines[0].AccountID)
	assert.Equal(t, int64(1000), j.Lines[1].AccountID)
	assert.True(t, j.Lines[1].Credit.Equal(decimal.NewFromInt(20000)))
}

func TestBuildJournalRequiresMapping(t *testing.T) {
	_, err := BuildJournal(sampleAccount(), trust.TrustTransaction{Type: trust.TxRefund, Debit: decimal.NewFromInt(1)},
		Mappings{Cash: 1000, Counters: map[trust.TransactionType]int64{}})
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestJournalValidateRejectsUnbalanced(t *testing.T) {
	j := Journal{Lines: []Line{
		{AccountID: 1, Debit: decimal.NewFromInt(10)},
		{AccountID: 2, Credit: decimal.NewFromInt(9)},
	}}
	assert.ErrorIs(t, j.Validate(), ErrUnbalanced)
}

func TestMirrorIsIdempotentPerTransaction(t *testing.T) {
	repo := newStubRepo()
	mirror := NewMirror(repo, nil)
	account := sampleAccount()
	txn := trust.TrustTransaction{ID: uuid.New(), Type: trust.TxBuyerPayment, Credit: decimal.NewFromInt(50000), Seq: 1}

	id, err := mirror.Mirror(context.Background(), account, txn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = mirror.Mirror(context.Background(), account, txn)
	assert.True(t, errors.Is(err, ErrSourceAlreadyLinked))
	assert.Len(t, repo.journals, 1)

	mirror.TransactionPosted(context.Background(), account, txn)
	assert.Len(t, repo.journals, 1)
}

func TestMirrorLogsMissingMappingWithoutPanicking(t *testing.T) {
	repo := newStubRepo()
	mirror := NewMirror(repo, nil)
	txn := trust.TrustTransaction{ID: uuid.New(), Type: trust.TxVATDeduction, Debit: decimal.NewFromInt(10)}

	_, err := mirror.Mirror(context.Background(), sampleAccount(), txn)
	assert.ErrorIs(t, err, ErrMappingNotFound)
	assert.NotPanics(t, func() { mirror.TransactionPosted(context.Background(), sampleAccount(), txn) })
	assert.Empty(t, repo.journals)
}
