package trust

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-trust/internal/shared"
	"github.com/odyssey-erp/odyssey-trust/internal/trust/audit"
)

// GetAccount loads an account, repairing drifted balances on the way out.
func (s *Service) GetAccount(ctx context.Context, ref AccountRef) (TrustAccount, error) {
	if err := validateRef(ref); err != nil {
		return TrustAccount{}, err
	}
	account, err := s.store.GetAccount(ctx, ref.CompanyID, ref.AccountID)
	if err != nil {
		return TrustAccount{}, err
	}
	return s.repairQuietly(ctx, account), nil
}

// GetAccountByProperty loads the live OPEN or SETTLED account for a property.
func (s *Service) GetAccountByProperty(ctx context.Context, companyID, propertyID int64) (TrustAccount, error) {
	if companyID <= 0 || propertyID <= 0 {
		return TrustAccount{}, fmt.Errorf("%w: company and property are required", ErrValidation)
	}
	account, err := s.store.FindActiveAccount(ctx, companyID, propertyID)
	if err != nil {
		return TrustAccount{}, err
	}
	return s.repairQuietly(ctx, account), nil
}

// ListAccounts returns a page of accounts for a tenant.
func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter) ([]TrustAccount, shared.Pagination, error) {
	if filter.CompanyID <= 0 {
		return nil, shared.Pagination{}, fmt.Errorf("%w: company is required", ErrValidation)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	accounts, total, err := s.store.ListAccounts(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return accounts, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// GetLedger returns a page of the account's transactions in sequence order.
func (s *Service) GetLedger(ctx context.Context, ref AccountRef, page PageRequest) ([]TrustTransaction, shared.Pagination, error) {
	if err := validateRef(ref); err != nil {
		return nil, shared.Pagination{}, err
	}
	account, err := s.store.GetAccount(ctx, ref.CompanyID, ref.AccountID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	s.repairQuietly(ctx, account)
	page.Page, page.PerPage = shared.NormalizePage(page.Page, page.PerPage)
	txns, total, err := s.store.ListTransactions(ctx, ref.CompanyID, ref.AccountID, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return txns, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// GetSettlement loads the account's settlement.
func (s *Service) GetSettlement(ctx context.Context, ref AccountRef) (TrustSettlement, error) {
	if err := validateRef(ref); err != nil {
		return TrustSettlement{}, err
	}
	return s.store.GetSettlement(ctx, ref.CompanyID, ref.AccountID)
}

// GetTaxSummary aggregates the account's tax records by type.
func (s *Service) GetTaxSummary(ctx context.Context, ref AccountRef) (TaxSummary, error) {
	if err := validateRef(ref); err != nil {
		return TaxSummary{}, err
	}
	if _, err := s.store.GetAccount(ctx, ref.CompanyID, ref.AccountID); err != nil {
		return TaxSummary{}, err
	}
	records, err := s.store.ListTaxRecords(ctx, ref.CompanyID, ref.AccountID)
	if err != nil {
		return TaxSummary{}, err
	}
	return SummarizeTaxes(ref.AccountID, records), nil
}

// SummarizeTaxes totals records per tax type with the paid/unpaid split.
func SummarizeTaxes(accountID uuid.UUID, records []TaxRecord) TaxSummary {
	lines := make(map[DeductionType]*TaxSummaryLine)
	summary := TaxSummary{TrustAccountID: accountID, Total: decimal.Zero, Unpaid: decimal.Zero, Records: records}
	for _, r := range records {
		line, ok := lines[r.TaxType]
		if !ok {
			line = &TaxSummaryLine{TaxType: r.TaxType, Total: decimal.Zero, Paid: decimal.Zero, Unpaid: decimal.Zero}
			lines[r.TaxType] = line
		}
		line.Total = line.Total.Add(r.Amount)
		summary.Total = summary.Total.Add(r.Amount)
		if r.PaidToZimra {
			line.Paid = line.Paid.Add(r.Amount)
		} else {
			line.Unpaid = line.Unpaid.Add(r.Amount)
			summary.Unpaid = summary.Unpaid.Add(r.Amount)
		}
	}
	for _, line := range lines {
		summary.Lines = append(summary.Lines, *line)
	}
	sort.Slice(summary.Lines, func(i, j int) bool { return summary.Lines[i].TaxType < summary.Lines[j].TaxType })
	return summary
}

// ListAuditLogs returns a page of audit rows for a tenant.
func (s *Service) ListAuditLogs(ctx context.Context, filter audit.Filter) ([]audit.Log, shared.Pagination, error) {
	if filter.CompanyID <= 0 {
		return nil, shared.Pagination{}, fmt.Errorf("%w: company is required", ErrValidation)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	logs, total, err := s.store.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return logs, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}
