package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

var (
	_ reconcile.LeaseStore    = (*Store)(nil)
	_ reconcile.ResultStore   = (*Store)(nil)
	_ reconcile.PaymentSource = (*Store)(nil)
	_ trust.PropertyDirectory = (*Store)(nil)
	_ trust.SalePaymentSource = (*Store)(nil)
)

// ==================== Leases ====================

// AcquireLease upserts the lease when it is free, expired or already ours. A live lease owned by
// someone else makes the upsert collide on _id.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	filter := bson.M{
		"_id": name,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$lte": now}},
			bson.M{"holder": holder},
		},
	}
	update := bson.M{"$set": bson.M{"holder": holder, "expires_at": now.Add(ttl)}}
	_, err := s.col(colLeases).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("trust/mongo: acquire lease %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := s.col(colLeases).DeleteOne(ctx, bson.M{"_id": name, "holder": holder}); err != nil {
		return fmt.Errorf("trust/mongo: release lease %s: %w", name, err)
	}
	return nil
}

// ==================== Reconciliation results ====================

func (s *Store) InsertReconciliationResult(ctx context.Context, r reconcile.Result) error {
	if _, err := s.col(colResults).InsertOne(ctx, toResultModel(r)); err != nil {
		return fmt.Errorf("trust/mongo: insert reconciliation result: %w", err)
	}
	return nil
}

func (s *Store) LatestReconciliationResult(ctx context.Context, companyID int64) (reconcile.Result, error) {
	var m resultModel
	err := s.col(colResults).FindOne(ctx, bson.M{"company_id": companyID},
		options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}})).Decode(&m)
	if isNoDocuments(err) {
		return reconcile.Result{}, shared.ErrNotFound
	}
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("trust/mongo: latest reconciliation result: %w", err)
	}
	return fromResultModel(m)
}

func (s *Store) ListReconciliationResults(ctx context.Context, companyID int64, page, perPage int) ([]reconcile.Result, int, error) {
	filter := bson.M{"company_id": companyID}
	total, err := s.col(colResults).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("trust/mongo: count reconciliation results: %w", err)
	}
	page, perPage = shared.NormalizePage(page, perPage)
	var models []resultModel
	err = s.findAll(ctx, colResults, filter, options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetSkip(int64(shared.Offset(page, perPage))).
		SetLimit(int64(perPage)), &models)
	if err != nil {
		return nil, 0, fmt.Errorf("trust/mongo: list reconciliation results: %w", err)
	}
	out := make([]reconcile.Result, 0, len(models))
	for _, m := range models {
		r, err := fromResultModel(m)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, int(total), nil
}

// ==================== Payment pipeline read models ====================

func (s *Store) PurchasePrice(ctx context.Context, companyID, propertyID int64) (decimal.Decimal, error) {
	var m propertyModel
	if err := s.col(colProperties).FindOne(ctx, bson.M{"_id": propertyID, "company_id": companyID}).Decode(&m); err != nil {
		return decimal.Zero, notFound(err)
	}
	var d decoder
	price := d.money("purchase_price", m.PurchasePrice)
	return price, d.err
}

func completedPayments(companyID int64) bson.M {
	return bson.M{"company_id": companyID, "status": "COMPLETED", "is_provisional": false}
}

func (s *Store) CompletedSalePayments(ctx context.Context, companyID, propertyID int64) ([]trust.SalePayment, error) {
	filter := completedPayments(companyID)
	filter["property_id"] = propertyID
	return s.salePayments(ctx, filter)
}

func (s *Store) CompanySalePayments(ctx context.Context, companyID int64) ([]trust.SalePayment, error) {
	return s.salePayments(ctx, completedPayments(companyID))
}

func (s *Store) TenantsWithSalePayments(ctx context.Context) ([]int64, error) {
	res := s.col(colSalePayments).Distinct(ctx, "company_id", bson.M{"status": "COMPLETED", "is_provisional": false})
	var tenants []int64
	if err := res.Decode(&tenants); err != nil {
		return nil, fmt.Errorf("trust/mongo: list tenants: %w", err)
	}
	return tenants, nil
}

func (s *Store) salePayments(ctx context.Context, filter bson.M) ([]trust.SalePayment, error) {
	var models []salePaymentModel
	err := s.findAll(ctx, colSalePayments, filter,
		options.Find().SetSort(bson.D{{Key: "paid_at", Value: 1}, {Key: "_id", Value: 1}}), &models)
	if err != nil {
		return nil, fmt.Errorf("trust/mongo: list sale payments: %w", err)
	}
	out := make([]trust.SalePayment, 0, len(models))
	for _, m := range models {
		p, err := fromSalePaymentModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
