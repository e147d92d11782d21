package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries payment postings ahead of maintenance work.
	QueueCritical = "critical"

	// TaskTrustPaymentConfirmed posts a confirmed sale payment into trust.
	TaskTrustPaymentConfirmed = "trust:payment_confirmed"
	// TaskTrustReconcile runs the ledger reconciliation on demand.
	TaskTrustReconcile = "trust:reconcile"

	// SourcePaymentConfirmed tags audit rows written for payment events.
	SourcePaymentConfirmed = "payment.confirmed"
)

// PaymentConfirmedPayload is the payment pipeline's confirmation event.
type PaymentConfirmedPayload struct {
	CompanyID  int64           `json:"company_id"`
	PropertyID int64           `json:"property_id"`
	PaymentID  string          `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	PayerID    string          `json:"payer_id,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	PaidAt     time.Time       `json:"paid_at"`
	Replayed   bool            `json:"replayed,omitempty"`
}

// PaymentPayloadFrom builds the event for a sale payment.
func PaymentPayloadFrom(p trust.SalePayment) PaymentConfirmedPayload {
	return PaymentConfirmedPayload{
		CompanyID:  p.CompanyID,
		PropertyID: p.PropertyID,
		PaymentID:  p.PaymentID,
		Amount:     p.Amount,
		PayerID:    p.PayerID,
		Reference:  p.Reference,
		PaidAt:     p.PaidAt,
	}
}

// Input converts the payload into the service input.
func (p PaymentConfirmedPayload) Input() trust.BuyerPaymentInput {
	source := SourcePaymentConfirmed
	if p.Replayed {
		source = SourcePaymentConfirmed + ".replayed"
	}
	return trust.BuyerPaymentInput{
		CompanyID:   p.CompanyID,
		PropertyID:  p.PropertyID,
		Amount:      p.Amount,
		PaymentID:   p.PaymentID,
		Reference:   p.Reference,
		PayerID:     p.PayerID,
		PaidAt:      p.PaidAt,
		SourceEvent: source,
	}
}

// PaymentTaskID keys the task by payment so re-emission never queues a second copy.
func PaymentTaskID(companyID int64, paymentID string) string {
	return fmt.Sprintf("trust:payment:%d:%s", companyID, paymentID)
}

// NewPaymentConfirmedTask constructs an Asynq task.
func NewPaymentConfirmedTask(payload PaymentConfirmedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTrustPaymentConfirmed, data), nil
}

// ReconcilePayload identifies who asked for an on-demand run.
type ReconcilePayload struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReconcileTask constructs an Asynq task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTrustReconcile, data), nil
}
