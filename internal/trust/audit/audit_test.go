package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
)

type captureSink struct {
	logs []Log
	err  error
}

func (c *captureSink) InsertAuditLog(_ context.Context, log Log) error {
	if c.err != nil {
		return c.err
	}
	c.logs = append(c.logs, log)
	return nil
}

func TestWriterRecordStampsEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CAT", 2*3600))
	w := NewWriter()
	w.WithNow(func() time.Time { return now })
	sink := &captureSink{}

	ctx := shared.ContextWithActor(context.Background(), "ops@odyssey")
	err := w.Record(ctx, sink, Entry{
		CompanyID:   1,
		EntityType:  EntityTrustAccount,
		EntityID:    "acc-1",
		Action:      ActionBalanceUpdated,
		SourceEvent: "payment_confirmed",
		Old:         map[string]string{"running_balance": "0"},
		New:         map[string]string{"running_balance": "30000"},
	})
	require.NoError(t, err)
	require.Len(t, sink.logs, 1)

	log := sink.logs[0]
	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, "ops@odyssey", log.PerformedBy)
	assert.Equal(t, now.UTC(), log.CreatedAt)
	assert.Equal(t, "payment_confirmed", log.SourceEvent)
	assert.JSONEq(t, `{"running_balance":"0"}`, string(log.OldValue))
	assert.JSONEq(t, `{"running_balance":"30000"}`, string(log.NewValue))
}

func TestWriterRecordDefaultsToSystemActor(t *testing.T) {
	sink := &captureSink{}
	raw := json.RawMessage(`{"locked":true}`)
	require.NoError(t, NewWriter().Record(context.Background(), sink, Entry{
		CompanyID:  1,
		EntityType: EntityTrustSettlement,
		EntityID:   "st-1",
		Action:     ActionSettlementLocked,
		New:        raw,
	}))
	assert.Equal(t, shared.SystemActor, sink.logs[0].PerformedBy)
	assert.Nil(t, sink.logs[0].OldValue)
	assert.Equal(t, raw, sink.logs[0].NewValue)
}

func TestWriterRecordRejectsInvalidEntries(t *testing.T) {
	w := NewWriter()
	valid := Entry{CompanyID: 1, EntityType: EntityTaxRecord, EntityID: "tax-1", Action: ActionTaxRecorded}

	require.Error(t, w.Record(context.Background(), nil, valid))

	for name, mutate := range map[string]func(*Entry){
		"company":     func(e *Entry) { e.CompanyID = 0 },
		"entity type": func(e *Entry) { e.EntityType = "" },
		"entity id":   func(e *Entry) { e.EntityID = "" },
		"action":      func(e *Entry) { e.Action = "" },
	} {
		t.Run(name, func(t *testing.T) {
			entry := valid
			mutate(&entry)
			sink := &captureSink{}
			require.ErrorIs(t, w.Record(context.Background(), sink, entry), ErrInvalidEntry)
			assert.Empty(t, sink.logs)
		})
	}
}

func TestWriterRecordWrapsSinkErrors(t *testing.T) {
	boom := errors.New("disk full")
	err := NewWriter().Record(context.Background(), &captureSink{err: boom}, Entry{
		CompanyID: 1, EntityType: EntityTrustTransaction, EntityID: "txn-1", Action: ActionPosted,
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "TRUST_TRANSACTION POSTED")
}

func TestWriterRecordRejectsUnmarshalableSnapshot(t *testing.T) {
	err := NewWriter().Record(context.Background(), &captureSink{}, Entry{
		CompanyID: 1, EntityType: EntityTrustAccount, EntityID: "acc-1", Action: ActionCreated,
		New: func() {},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal new value")
}
