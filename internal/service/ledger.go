package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// TransactionFilter selects ledger rows for admin screens.
type TransactionFilter struct {
	Type   string
	Status string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

type TransactionPage struct {
	Items  []model.Transaction `json:"items"`
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// GetTransactions pages through a tenant's ledger, newest first.
func (s *WalletService) GetTransactions(ctx context.Context, tenantID string, f TransactionFilter) (*TransactionPage, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	switch f.Type {
	case "", model.TxCredit, model.TxDebit, model.TxRefund:
	default:
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidRequest, f.Type)
	}
	switch f.Status {
	case "", model.TxStatusCompleted, model.TxStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown transaction status %q", ErrInvalidRequest, f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, fmt.Errorf("%w: date range is inverted", ErrInvalidRequest)
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	page := &TransactionPage{Items: []model.Transaction{}, Limit: f.Limit, Offset: f.Offset}
	w, err := s.repo.GetWalletByTenant(ctx, s.repo.DB(ctx), tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return page, nil
	}
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	items, total, err := s.repo.ListTransactions(ctx, w.ID, repo.TxFilter{
		Type: f.Type, Status: f.Status, From: f.From, To: f.To, Limit: f.Limit, Offset: f.Offset,
	})
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	if items != nil {
		page.Items = items
	}
	page.Total = total
	return page, nil
}

// FindByReference looks up the row a referenced operation produced, e.g. to
// settle a call that timed out. nil means it never committed.
func (s *WalletService) FindByReference(ctx context.Context, txType, refType, refID string) (*model.Transaction, error) {
	if refID == "" {
		return nil, fmt.Errorf("%w: reference id is required", ErrInvalidRequest)
	}
	t, err := s.repo.FindTransactionByReference(ctx, s.repo.DB(ctx), txType, refType, refID)
	if err != nil {
		return nil, storageErr("find reference", err)
	}
	return t, nil
}

// Reconciliation compares the stored balance with a replay of the ledger.
type Reconciliation struct {
	TenantID      string          `json:"tenant_id"`
	StoredBalance decimal.Decimal `json:"stored_balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Transactions  int64           `json:"transactions"`
	Consistent    bool            `json:"consistent"`
}

func (s *WalletService) Reconcile(ctx context.Context, tenantID string) (*Reconciliation, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	w, err := s.repo.GetWalletByTenant(ctx, s.repo.DB(ctx), tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	sum, n, err := s.repo.ReplayLedger(ctx, w.ID)
	if err != nil {
		return nil, storageErr("replay ledger", err)
	}
	rec := &Reconciliation{
		TenantID:      tenantID,
		StoredBalance: w.Balance,
		LedgerBalance: sum,
		Transactions:  n,
		Consistent:    w.Balance.Equal(sum),
	}
	if !rec.Consistent {
		s.log.Errorw("ledger does not match wallet balance", "tenant_id", tenantID,
			"stored", w.Balance.String(), "ledger", sum.String())
	}
	return rec, nil
}
