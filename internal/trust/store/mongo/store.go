// Package mongo implements the trust ledger store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

// Collection name constants.
const (
	colAccounts     = "trust_accounts"
	colTransactions = "trust_transactions"
	colSettlements  = "trust_settlements"
	colTaxRecords   = "trust_tax_records"
	colAuditLogs    = "trust_audit_logs"
	colLeases       = "job_leases"
	colResults      = "trust_reconciliation_results"
	colSalePayments = "sale_payments"
	colProperties   = "properties"

	indexLiveAccount = "ux_trust_accounts_live"
	indexPaymentID   = "ux_trust_transactions_payment"
	indexSeq         = "uq_trust_transactions_seq"
)

// codeIllegalOperation is returned by standalone servers for transaction commands.
const codeIllegalOperation = 20

var _ trust.Store = (*Store)(nil)

// Store implements trust.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New creates a store over the named database.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Migrate creates indexes for all trust collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("trust/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// WithinTransaction runs fn in a multi-document transaction. Standalone servers reject the first
// command of the transaction, which is reported as trust.ErrTransactionsUnsupported.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, store trust.Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, s)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("trust/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, s)
	})
	if isIllegalOperation(err) {
		return fmt.Errorf("%w: %v", trust.ErrTransactionsUnsupported, err)
	}
	return err
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func isIllegalOperation(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(codeIllegalOperation)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func duplicateOn(err error, index string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), index)
}

func notFound(err error) error {
	if isNoDocuments(err) {
		return trust.ErrNotFound
	}
	return err
}

// migrationIndexes returns the index definitions for all trust collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "property_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(indexLiveAccount).
					SetPartialFilterExpression(bson.M{"active": true}),
			},
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "trust_account_id", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(indexSeq),
			},
			{
				Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "payment_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(indexPaymentID).
					SetPartialFilterExpression(bson.M{"payment_id": bson.M{"$type": "string"}}),
			},
			{Keys: bson.D{{Key: "trust_account_id", Value: 1}, {Key: "settlement_id", Value: 1}, {Key: "type", Value: 1}}},
		},
		colSettlements: {
			{Keys: bson.D{{Key: "trust_account_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colTaxRecords: {
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "trust_account_id", Value: 1}}},
		},
		colAuditLogs: {
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colResults: {
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "started_at", Value: -1}}},
		},
		colSalePayments: {
			{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "property_id", Value: 1}, {Key: "status", Value: 1}}},
		},
	}
}
