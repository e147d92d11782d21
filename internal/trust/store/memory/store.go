// Package memory is an in-process ledger store for tests and single-node development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/reconcile"
	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

type Store struct {
	mu sync.RWMutex

	accounts     map[uuid.UUID]trust.TrustAccount
	transactions []trust.TrustTransaction
	payments     map[string]int // company:payment -> index in transactions
	settlements  map[uuid.UUID]trust.TrustSettlement
	taxRecords   []trust.TaxRecord
	auditLogs    []audit.Log

	// Reconciliation bookkeeping
	leases  map[string]lease
	results []reconcile.Result

	// External collaborators, seeded by callers
	salePayments   []trust.SalePayment
	purchasePrices map[string]decimal.Decimal
}

type lease struct {
	holder    string
	expiresAt time.Time
}

func New() *Store {
	return &Store{
		accounts:       make(map[uuid.UUID]trust.TrustAccount),
		payments:       make(map[string]int),
		settlements:    make(map[uuid.UUID]trust.TrustSettlement),
		leases:         make(map[string]lease),
		purchasePrices: make(map[string]decimal.Decimal),
	}
}

// WithinTransaction always refuses: the memory store has no rollback.
func (s *Store) WithinTransaction(context.Context, func(context.Context, trust.Store) error) error {
	return trust.ErrTransactionsUnsupported
}

func paymentKey(companyID int64, paymentID string) string {
	return strconv.FormatInt(companyID, 10) + ":" + paymentID
}

func propertyKey(companyID, propertyID int64) string {
	return fmt.Sprintf("%d:%d", companyID, propertyID)
}

// Account storage

func (s *Store) InsertAccount(_ context.Context, a trust.TrustAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("memory: account %s already exists", a.ID)
	}
	if a.Status.Active() {
		for _, other := range s.accounts {
			if other.CompanyID == a.CompanyID && other.PropertyID == a.PropertyID && other.Status.Active() {
				return trust.ErrAccountExists
			}
		}
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) GetAccount(_ context.Context, companyID int64, id uuid.UUID) (trust.TrustAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[id]; ok && a.CompanyID == companyID {
		return a, nil
	}
	return trust.TrustAccount{}, trust.ErrNotFound
}

func (s *Store) LockAccount(ctx context.Context, companyID int64, id uuid.UUID) (trust.TrustAccount, error) {
	return s.GetAccount(ctx, companyID, id)
}

func (s *Store) FindActiveAccount(_ context.Context, companyID, propertyID int64) (trust.TrustAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.CompanyID == companyID && a.PropertyID == propertyID && a.Status.Active() {
			return a, nil
		}
	}
	return trust.TrustAccount{}, trust.ErrNotFound
}

func (s *Store) ListAccounts(_ context.Context, filter trust.AccountFilter) ([]trust.TrustAccount, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []trust.TrustAccount
	for _, a := range s.accounts {
		if a.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.WorkflowState != "" && a.WorkflowState != filter.WorkflowState {
			continue
		}
		if search != "" && !strings.Contains(a.ID.String(), search) && !strings.Contains(strconv.FormatInt(a.PropertyID, 10), search) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Page, filter.PerPage), len(out), nil
}

func (s *Store) UpdateAccount(_ context.Context, a trust.TrustAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[a.ID]
	if !ok || current.CompanyID != a.CompanyID {
		return trust.ErrNotFound
	}
	s.accounts[a.ID] = a
	return nil
}

// Ledger storage

func (s *Store) InsertTransaction(_ context.Context, txn trust.TrustTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn.PaymentID != "" {
		if _, exists := s.payments[paymentKey(txn.CompanyID, txn.PaymentID)]; exists {
			return trust.ErrDuplicatePayment
		}
	}
	for _, existing := range s.transactions {
		if existing.TrustAccountID == txn.TrustAccountID && existing.Seq == txn.Seq {
			return trust.ErrConcurrentPosting
		}
	}
	s.transactions = append(s.transactions, txn)
	if txn.PaymentID != "" {
		s.payments[paymentKey(txn.CompanyID, txn.PaymentID)] = len(s.transactions) - 1
	}
	return nil
}

func (s *Store) FindTransactionByPayment(_ context.Context, companyID int64, paymentID string) (trust.TrustTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx, ok := s.payments[paymentKey(companyID, paymentID)]; ok {
		return s.transactions[idx], nil
	}
	return trust.TrustTransaction{}, trust.ErrNotFound
}

func (s *Store) accountTransactions(companyID int64, accountID uuid.UUID) []trust.TrustTransaction {
	var out []trust.TrustTransaction
	for _, txn := range s.transactions {
		if txn.CompanyID == companyID && txn.TrustAccountID == accountID {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *Store) LatestTransaction(_ context.Context, companyID int64, accountID uuid.UUID) (trust.TrustTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txns := s.accountTransactions(companyID, accountID)
	if len(txns) == 0 {
		return trust.TrustTransaction{}, trust.ErrNotFound
	}
	return txns[len(txns)-1], nil
}

func (s *Store) ListTransactions(_ context.Context, companyID int64, accountID uuid.UUID, page trust.PageRequest) ([]trust.TrustTransaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txns := s.accountTransactions(companyID, accountID)
	return paginate(txns, page.Page, page.PerPage), len(txns), nil
}

func (s *Store) AllTransactions(_ context.Context, companyID int64, accountID uuid.UUID) ([]trust.TrustTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.accountTransactions(companyID, accountID), nil
}

func (s *Store) SumDebits(_ context.Context, companyID int64, accountID, settlementID uuid.UUID, txType trust.TransactionType) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, txn := range s.accountTransactions(companyID, accountID) {
		if txn.Type == txType && txn.SettlementID != nil && *txn.SettlementID == settlementID {
			total = total.Add(txn.Debit)
		}
	}
	return total, nil
}

// Settlement storage

func (s *Store) UpsertSettlement(_ context.Context, st trust.TrustSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.Deductions = append([]trust.Deduction(nil), st.Deductions...)
	s.settlements[st.TrustAccountID] = st
	return nil
}

func (s *Store) GetSettlement(_ context.Context, companyID int64, accountID uuid.UUID) (trust.TrustSettlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[accountID]
	if !ok || st.CompanyID != companyID {
		return trust.TrustSettlement{}, trust.ErrNotFound
	}
	st.Deductions = append([]trust.Deduction(nil), st.Deductions...)
	return st, nil
}

// Tax storage

func (s *Store) InsertTaxRecord(_ context.Context, r trust.TaxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.taxRecords = append(s.taxRecords, r)
	return nil
}

func (s *Store) GetTaxRecord(_ context.Context, companyID int64, id uuid.UUID) (trust.TaxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.taxRecords {
		if r.ID == id && r.CompanyID == companyID {
			return r, nil
		}
	}
	return trust.TaxRecord{}, trust.ErrNotFound
}

func (s *Store) ListTaxRecords(_ context.Context, companyID int64, accountID uuid.UUID) ([]trust.TaxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []trust.TaxRecord
	for _, r := range s.taxRecords {
		if r.CompanyID == companyID && r.TrustAccountID == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) MarkTaxRecordPaid(_ context.Context, r trust.TaxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.taxRecords {
		if s.taxRecords[i].ID == r.ID && s.taxRecords[i].CompanyID == r.CompanyID {
			s.taxRecords[i].PaidToZimra = r.PaidToZimra
			s.taxRecords[i].PaymentReference = r.PaymentReference
			s.taxRecords[i].PaidAt = r.PaidAt
			return nil
		}
	}
	return trust.ErrNotFound
}

// Audit storage

func (s *Store) InsertAuditLog(_ context.Context, l audit.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, l)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, f audit.Filter) ([]audit.Log, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Log
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		l := s.auditLogs[i]
		if l.CompanyID != f.CompanyID {
			continue
		}
		if f.EntityType != "" && l.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && l.EntityID != f.EntityID {
			continue
		}
		if f.Action != "" && l.Action != f.Action {
			continue
		}
		out = append(out, l)
	}
	return paginate(out, f.Page, f.PerPage), len(out), nil
}

// Reconciliation bookkeeping

func (s *Store) AcquireLease(_ context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.leases[name]; ok && current.holder != holder && now.Before(current.expiresAt) {
		return false, nil
	}
	s.leases[name] = lease{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *Store) ReleaseLease(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.leases[name]; ok && current.holder == holder {
		delete(s.leases, name)
	}
	return nil
}

func (s *Store) InsertReconciliationResult(_ context.Context, r reconcile.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, r)
	return nil
}

func (s *Store) LatestReconciliationResult(_ context.Context, companyID int64) (reconcile.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].CompanyID == companyID {
			return s.results[i], nil
		}
	}
	return reconcile.Result{}, shared.ErrNotFound
}

func (s *Store) ListReconciliationResults(_ context.Context, companyID int64, page, perPage int) ([]reconcile.Result, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []reconcile.Result
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].CompanyID == companyID {
			out = append(out, s.results[i])
		}
	}
	return paginate(out, page, perPage), len(out), nil
}

// External collaborators

// AddSalePayment seeds a completed sale payment.
func (s *Store) AddSalePayment(p trust.SalePayment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.salePayments = append(s.salePayments, p)
}

// SetPurchasePrice seeds the property directory.
func (s *Store) SetPurchasePrice(companyID, propertyID int64, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purchasePrices[propertyKey(companyID, propertyID)] = price
}

func (s *Store) PurchasePrice(_ context.Context, companyID, propertyID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if price, ok := s.purchasePrices[propertyKey(companyID, propertyID)]; ok {
		return price, nil
	}
	return decimal.Zero, trust.ErrNotFound
}

func (s *Store) CompletedSalePayments(_ context.Context, companyID, propertyID int64) ([]trust.SalePayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []trust.SalePayment
	for _, p := range s.salePayments {
		if p.CompanyID == companyID && p.PropertyID == propertyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) CompanySalePayments(_ context.Context, companyID int64) ([]trust.SalePayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []trust.SalePayment
	for _, p := range s.salePayments {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) TenantsWithSalePayments(context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]struct{})
	var out []int64
	for _, p := range s.salePayments {
		if _, ok := seen[p.CompanyID]; ok {
			continue
		}
		seen[p.CompanyID] = struct{}{}
		out = append(out, p.CompanyID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func paginate[T any](items []T, page, perPage int) []T {
	page, perPage = shared.NormalizePage(page, perPage)
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

var (
	_ trust.Store      = (*Store)(nil)
	_ trust.Transactor = (*Store)(nil)
)
