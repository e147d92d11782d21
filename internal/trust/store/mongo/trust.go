package mongo

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

// ==================== Accounts ====================

func (s *Store) InsertAccount(ctx context.Context, a trust.TrustAccount) error {
	_, err := s.col(colAccounts).InsertOne(ctx, toAccountModel(a))
	if duplicateOn(err, indexLiveAccount) {
		return trust.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("trust/mongo: insert account: %w", err)
	}
	return nil
}

func (s *Store) findAccount(ctx context.Context, filter bson.M) (trust.TrustAccount, error) {
	var m accountModel
	if err := s.col(colAccounts).FindOne(ctx, filter).Decode(&m); err != nil {
		return trust.TrustAccount{}, notFound(err)
	}
	return fromAccountModel(m)
}

func (s *Store) GetAccount(ctx context.Context, companyID int64, id uuid.UUID) (trust.TrustAccount, error) {
	return s.findAccount(ctx, bson.M{"_id": id.String(), "company_id": companyID})
}

// LockAccount reads the account. Documents have no row locks; the ledger seq index rejects
// interleaved postings that slip past the account locker.
func (s *Store) LockAccount(ctx context.Context, companyID int64, id uuid.UUID) (trust.TrustAccount, error) {
	return s.GetAccount(ctx, companyID, id)
}

func (s *Store) FindActiveAccount(ctx context.Context, companyID, propertyID int64) (trust.TrustAccount, error) {
	return s.findAccount(ctx, bson.M{"company_id": companyID, "property_id": propertyID, "active": true})
}

func (s *Store) ListAccounts(ctx context.Context, f trust.AccountFilter) ([]trust.TrustAccount, int, error) {
	filter := bson.M{"company_id": f.CompanyID}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.WorkflowState != "" {
		filter["workflow_state"] = string(f.WorkflowState)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		if propertyID, err := strconv.ParseInt(search, 10, 64); err == nil {
			filter["property_id"] = propertyID
		} else {
			filter["_id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(strings.ToLower(search))}
		}
	}

	total, err := s.col(colAccounts).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("trust/mongo: count accounts: %w", err)
	}
	page, perPage := shared.NormalizePage(f.Page, f.PerPage)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(shared.Offset(page, perPage))).
		SetLimit(int64(perPage))
	var models []accountModel
	if err := s.findAll(ctx, colAccounts, filter, opts, &models); err != nil {
		return nil, 0, fmt.Errorf("trust/mongo: list accounts: %w", err)
	}
	accounts := make([]trust.TrustAccount, 0, len(models))
	for _, m := range models {
		a, err := fromAccountModel(m)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	return accounts, int(total), nil
}

func (s *Store) UpdateAccount(ctx context.Context, a trust.TrustAccount) error {
	res, err := s.col(colAccounts).ReplaceOne(ctx, bson.M{"_id": a.ID.String(), "company_id": a.CompanyID}, toAccountModel(a))
	if err != nil {
		return fmt.Errorf("trust/mongo: update account: %w", err)
	}
	if res.MatchedCount == 0 {
		return trust.ErrNotFound
	}
	return nil
}

// ==================== Ledger ====================

func (s *Store) InsertTransaction(ctx context.Context, t trust.TrustTransaction) error {
	_, err := s.col(colTransactions).InsertOne(ctx, toTransactionModel(t))
	switch {
	case duplicateOn(err, indexPaymentID):
		return trust.ErrDuplicatePayment
	case duplicateOn(err, indexSeq):
		return trust.ErrConcurrentPosting
	case err != nil:
		return fmt.Errorf("trust/mongo: insert transaction: %w", err)
	}
	return nil
}

func (s *Store) findTransaction(ctx context.Context, filter bson.M, opts ...options.Lister[options.FindOneOptions]) (trust.TrustTransaction, error) {
	var m transactionModel
	if err := s.col(colTransactions).FindOne(ctx, filter, opts...).Decode(&m); err != nil {
		return trust.TrustTransaction{}, notFound(err)
	}
	return fromTransactionModel(m)
}

func (s *Store) FindTransactionByPayment(ctx context.Context, companyID int64, paymentID string) (trust.TrustTransaction, error) {
	return s.findTransaction(ctx, bson.M{"company_id": companyID, "payment_id": paymentID})
}

func (s *Store) LatestTransaction(ctx context.Context, companyID int64, accountID uuid.UUID) (trust.TrustTransaction, error) {
	return s.findTransaction(ctx, bson.M{"company_id": companyID, "trust_account_id": accountID.String()},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}))
}

func (s *Store) ListTransactions(ctx context.Context, companyID int64, accountID uuid.UUID, page trust.PageRequest) ([]trust.TrustTransaction, int, error) {
	filter := bson.M{"company_id": companyID, "trust_account_id": accountID.String()}
	total, err := s.col(colTransactions).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("trust/mongo: count transactions: %w", err)
	}
	p, perPage := shared.NormalizePage(page.Page, page.PerPage)
	txns, err := s.transactions(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetSkip(int64(shared.Offset(p, perPage))).
		SetLimit(int64(perPage)))
	return txns, int(total), err
}

func (s *Store) AllTransactions(ctx context.Context, companyID int64, accountID uuid.UUID) ([]trust.TrustTransaction, error) {
	return s.transactions(ctx, bson.M{"company_id": companyID, "trust_account_id": accountID.String()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
}

func (s *Store) SumDebits(ctx context.Context, companyID int64, accountID, settlementID uuid.UUID, txType trust.TransactionType) (decimal.Decimal, error) {
	txns, err := s.transactions(ctx, bson.M{
		"company_id":       companyID,
		"trust_account_id": accountID.String(),
		"settlement_id":    settlementID.String(),
		"type":             string(txType),
	}, options.Find())
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, t := range txns {
		total = total.Add(t.Debit)
	}
	return total, nil
}

func (s *Store) transactions(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]trust.TrustTransaction, error) {
	var models []transactionModel
	if err := s.findAll(ctx, colTransactions, filter, opts, &models); err != nil {
		return nil, fmt.Errorf("trust/mongo: list transactions: %w", err)
	}
	out := make([]trust.TrustTransaction, 0, len(models))
	for _, m := range models {
		t, err := fromTransactionModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ==================== Settlements ====================

func (s *Store) UpsertSettlement(ctx context.Context, st trust.TrustSettlement) error {
	_, err := s.col(colSettlements).ReplaceOne(ctx, bson.M{"trust_account_id": st.TrustAccountID.String()},
		toSettlementModel(st), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("trust/mongo: upsert settlement: %w", err)
	}
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, companyID int64, accountID uuid.UUID) (trust.TrustSettlement, error) {
	var m settlementModel
	err := s.col(colSettlements).FindOne(ctx, bson.M{"company_id": companyID, "trust_account_id": accountID.String()}).Decode(&m)
	if err != nil {
		return trust.TrustSettlement{}, notFound(err)
	}
	return fromSettlementModel(m)
}

// ==================== Tax records ====================

func (s *Store) InsertTaxRecord(ctx context.Context, r trust.TaxRecord) error {
	if _, err := s.col(colTaxRecords).InsertOne(ctx, toTaxRecordModel(r)); err != nil {
		return fmt.Errorf("trust/mongo: insert tax record: %w", err)
	}
	return nil
}

func (s *Store) GetTaxRecord(ctx context.Context, companyID int64, id uuid.UUID) (trust.TaxRecord, error) {
	var m taxRecordModel
	if err := s.col(colTaxRecords).FindOne(ctx, bson.M{"_id": id.String(), "company_id": companyID}).Decode(&m); err != nil {
		return trust.TaxRecord{}, notFound(err)
	}
	return fromTaxRecordModel(m)
}

func (s *Store) ListTaxRecords(ctx context.Context, companyID int64, accountID uuid.UUID) ([]trust.TaxRecord, error) {
	var models []taxRecordModel
	err := s.findAll(ctx, colTaxRecords, bson.M{"company_id": companyID, "trust_account_id": accountID.String()},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}), &models)
	if err != nil {
		return nil, fmt.Errorf("trust/mongo: list tax records: %w", err)
	}
	out := make([]trust.TaxRecord, 0, len(models))
	for _, m := range models {
		r, err := fromTaxRecordModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) MarkTaxRecordPaid(ctx context.Context, r trust.TaxRecord) error {
	res, err := s.col(colTaxRecords).UpdateOne(ctx, bson.M{"_id": r.ID.String(), "company_id": r.CompanyID}, bson.M{"$set": bson.M{
		"paid_to_zimra":     r.PaidToZimra,
		"payment_reference": r.PaymentReference,
		"paid_at":           r.PaidAt,
	}})
	if err != nil {
		return fmt.Errorf("trust/mongo: mark tax record paid: %w", err)
	}
	if res.MatchedCount == 0 {
		return trust.ErrNotFound
	}
	return nil
}

// ==================== Audit ====================

func (s *Store) InsertAuditLog(ctx context.Context, l audit.Log) error {
	if _, err := s.col(colAuditLogs).InsertOne(ctx, toAuditLogModel(l)); err != nil {
		return fmt.Errorf("trust/mongo: insert audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, f audit.Filter) ([]audit.Log, int, error) {
	filter := bson.M{"company_id": f.CompanyID}
	if f.EntityType != "" {
		filter["entity_type"] = string(f.EntityType)
	}
	if f.EntityID != "" {
		filter["entity_id"] = f.EntityID
	}
	if f.Action != "" {
		filter["action"] = string(f.Action)
	}
	total, err := s.col(colAuditLogs).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("trust/mongo: count audit logs: %w", err)
	}
	page, perPage := shared.NormalizePage(f.Page, f.PerPage)
	var models []auditLogModel
	err = s.findAll(ctx, colAuditLogs, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(shared.Offset(page, perPage))).
		SetLimit(int64(perPage)), &models)
	if err != nil {
		return nil, 0, fmt.Errorf("trust/mongo: list audit logs: %w", err)
	}
	logs := make([]audit.Log, 0, len(models))
	for _, m := range models {
		l, err := fromAuditLogModel(m)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, int(total), nil
}

func (s *Store) findAll(ctx context.Context, col string, filter bson.M, opts *options.FindOptionsBuilder, out any) error {
	cursor, err := s.col(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}
