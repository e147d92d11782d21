package mongo

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

func TestAccountModelKeepsCentsAndActiveFlag(t *testing.T) {
	a := trust.TrustAccount{
		ID:             uuid.New(),
		CompanyID:      7,
		PropertyID:     42,
		OpeningBalance: decimal.RequireFromString("1000.10"),
		RunningBalance: decimal.RequireFromString("999999999.99"),
		Status:         trust.AccountStatusSettled,
		WorkflowState:  trust.StateSettled,
		CreatedAt:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	m := toAccountModel(a)
	assert.True(t, m.Active)
	assert.Equal(t, "999999999.99", m.RunningBalance)

	a.Status = trust.AccountStatusClosed
	assert.False(t, toAccountModel(a).Active)

	back, err := fromAccountModel(m)
	require.NoError(t, err)
	assert.True(t, back.RunningBalance.Equal(decimal.RequireFromString("999999999.99")))
	assert.Equal(t, a.ID, back.ID)
}

func TestTransactionModelOmitsEmptyPaymentID(t *testing.T) {
	settlementID := uuid.New()
	txn := trust.TrustTransaction{
		ID:             uuid.New(),
		TrustAccountID: uuid.New(),
		SettlementID:   &settlementID,
		Seq:            3,
		Type:           trust.TxCGTDeduction,
		Debit:          decimal.RequireFromString("20000"),
		Credit:         decimal.Zero,
	}
	m := toTransactionModel(txn)
	assert.Empty(t, m.PaymentID)
	assert.Equal(t, settlementID.String(), m.SettlementID)

	back, err := fromTransactionModel(m)
	require.NoError(t, err)
	require.NotNil(t, back.SettlementID)
	assert.Equal(t, settlementID, *back.SettlementID)
	assert.True(t, back.Debit.Equal(txn.Debit))
}

func TestDecodeReportsMalformedMoney(t *testing.T) {
	_, err := fromAccountModel(accountModel{ID: uuid.NewString(), RunningBalance: "ten"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running_balance")
}

func TestIllegalOperationDetection(t *testing.T) {
	standalone := mongo.CommandError{Code: codeIllegalOperation, Message: "Transaction numbers are only allowed on a replica set member or mongos"}
	assert.True(t, isIllegalOperation(fmt.Errorf("trust: post: %w", standalone)))
	assert.False(t, isIllegalOperation(mongo.CommandError{Code: 11000}))
	assert.False(t, isIllegalOperation(nil))
}
