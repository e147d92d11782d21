// Package audit records the append-only forensic trail for trust ledger mutations.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
)

// EntityType names the kind of record an audit entry refers to.
type EntityType string

const (
	EntityTrustAccount     EntityType = "TRUST_ACCOUNT"
	EntityTrustTransaction EntityType = "TRUST_TRANSACTION"
	EntityTrustSettlement  EntityType = "TRUST_SETTLEMENT"
	EntityTaxRecord        EntityType = "TAX_RECORD"
)

// Action enumerates audited state changes.
type Action string

const (
	ActionCreated               Action = "CREATED"
	ActionPosted                Action = "POSTED"
	ActionBalanceUpdated        Action = "BALANCE_UPDATED"
	ActionDuplicateIgnored      Action = "DUPLICATE_IGNORED"
	ActionCalculated            Action = "CALCULATED"
	ActionTaxRecorded           Action = "TAX_RECORDED"
	ActionTaxRemitted           Action = "TAX_REMITTED"
	ActionSettled               Action = "SETTLED"
	ActionClosed                Action = "CLOSED"
	ActionSettlementLocked      Action = "SETTLEMENT_LOCKED"
	ActionWorkflowStateChanged  Action = "WORKFLOW_STATE_CHANGED"
	ActionInvariantAutoRepaired Action = "INVARIANT_AUTO_REPAIRED"
	ActionBalanceRealigned      Action = "BALANCE_REALIGNED"
)

// Log is one persisted audit row. Rows are never updated or deleted.
type Log struct {
	ID          uuid.UUID       `json:"id"`
	CompanyID   int64           `json:"company_id"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Action      Action          `json:"action"`
	SourceEvent string          `json:"source_event,omitempty"`
	OldValue    json.RawMessage `json:"old_value,omitempty"`
	NewValue    json.RawMessage `json:"new_value,omitempty"`
	PerformedBy string          `json:"performed_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Sink is the insert-only persistence port for audit rows.
type Sink interface {
	InsertAuditLog(ctx context.Context, log Log) error
}

// Filter narrows audit listings. CompanyID is mandatory.
type Filter struct {
	CompanyID  int64
	EntityType EntityType
	EntityID   string
	Action     Action
	Page       int
	PerPage    int
}

// Reader lists audit rows for a tenant.
type Reader interface {
	ListAuditLogs(ctx context.Context, filter Filter) ([]Log, int, error)
}

// Entry is what callers hand to the writer; snapshots are marshalled to JSON.
type Entry struct {
	CompanyID   int64
	EntityType  EntityType
	EntityID    string
	Action      Action
	SourceEvent string
	Old         any
	New         any
}

// ErrInvalidEntry indicates a malformed audit entry.
var ErrInvalidEntry = errors.New("audit: entry requires company, entity type, entity id and action")

// Writer stamps and persists audit entries through whichever sink the caller's unit of work holds.
type Writer struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// NewWriter constructs a Writer.
func NewWriter() *Writer {
	return &Writer{now: time.Now, newID: uuid.New}
}

// WithNow overrides the clock for testing.
func (w *Writer) WithNow(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Record validates, stamps and appends one entry.
func (w *Writer) Record(ctx context.Context, sink Sink, entry Entry) error {
	if sink == nil {
		return errors.New("audit: sink not configured")
	}
	if entry.CompanyID == 0 || entry.EntityType == "" || entry.EntityID == "" || entry.Action == "" {
		return ErrInvalidEntry
	}
	oldValue, err := snapshot(entry.Old)
	if err != nil {
		return fmt.Errorf("audit: marshal old value: %w", err)
	}
	newValue, err := snapshot(entry.New)
	if err != nil {
		return fmt.Errorf("audit: marshal new value: %w", err)
	}
	log := Log{
		ID:          w.newID(),
		CompanyID:   entry.CompanyID,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Action:      entry.Action,
		SourceEvent: entry.SourceEvent,
		OldValue:    oldValue,
		NewValue:    newValue,
		PerformedBy: shared.ActorFromContext(ctx),
		CreatedAt:   w.now().UTC(),
	}
	if err := sink.InsertAuditLog(ctx, log); err != nil {
		return fmt.Errorf("audit: insert %s %s: %w", entry.EntityType, entry.Action, err)
	}
	return nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
