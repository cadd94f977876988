package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/tenant-wallet/internal/idempotency"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/recharge"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errVersionConflict    = errors.New("wallet version changed")
	errDuplicateReference = errors.New("reference already recorded")
)

// Signaler receives auto-recharge requests; Signal must not block.
type Signaler interface {
	Signal(req recharge.Request) bool
}

// WalletService is the only place that mutates wallet balances.
type WalletService struct {
	repo       repo.RepositoryInterface
	log        *zap.SugaredLogger
	webhooks   idempotency.Store
	recharger  Signaler
	currency   string
	maxRetries int
}

type Option func(*WalletService)

// WithWebhookStore replaces the default in-memory webhook cache.
func WithWebhookStore(s idempotency.Store) Option { return func(w *WalletService) { w.webhooks = s } }

// WithRecharger wires the auto-recharge scheduler.
func WithRecharger(s Signaler) Option { return func(w *WalletService) { w.recharger = s } }

// WithCurrency sets the currency of newly created wallets.
func WithCurrency(c string) Option { return func(w *WalletService) { w.currency = c } }

// WithMaxRetries bounds how often a balance write is retried after losing a
// version race.
func WithMaxRetries(n int) Option {
	return func(w *WalletService) {
		if n > 0 {
			w.maxRetries = n
		}
	}
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger, opts ...Option) *WalletService {
	s := &WalletService{
		repo:       r,
		log:        logger,
		webhooks:   idempotency.NewMemoryStore(100000, 24*time.Hour),
		currency:   "BRL",
		maxRetries: 5,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DebitRequest describes a charge. ReferenceID, when set, makes the call
// idempotent: repeating it returns the first result.
type DebitRequest struct {
	TenantID      string
	Amount        decimal.Decimal
	Description   string
	ReferenceID   string
	ReferenceType string
	Metadata      map[string]string
}

// CreditRequest describes a top-up or refund. Type is model.TxCredit or
// model.TxRefund.
type CreditRequest struct {
	TenantID      string
	Amount        decimal.Decimal
	Description   string
	ReferenceID   string
	ReferenceType string
	Type          string
	Metadata      map[string]string
}

type DebitResult struct {
	TransactionID uint64          `json:"transaction_id"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Duplicate     bool            `json:"duplicate"`
	RechargeDue   bool            `json:"recharge_due"`
}

type CreditResult struct {
	TransactionID uint64          `json:"transaction_id"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Duplicate     bool            `json:"duplicate"`
}

type BalanceCheck struct {
	Sufficient     bool            `json:"sufficient"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Required       decimal.Decimal `json:"required"`
}

func validateAmount(amt decimal.Decimal) error {
	if amt.LessThanOrEqual(decimal.Zero) || !amt.Equal(amt.Round(4)) {
		return ErrInvalidAmount
	}
	return nil
}

func validateTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	return nil
}

// GetOrCreateWallet returns the tenant's wallet, creating it with a zero
// balance on first access.
func (s *WalletService) GetOrCreateWallet(ctx context.Context, tenantID string) (*model.Wallet, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	w, err := s.repo.EnsureWallet(ctx, s.repo.DB(ctx), tenantID, s.currency)
	if err != nil {
		return nil, storageErr("ensure wallet", err)
	}
	return w, nil
}

// GetBalance returns current wallet balance. A tenant without a wallet has a
// zero balance; no wallet is created.
func (s *WalletService) GetBalance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	if err := validateTenant(tenantID); err != nil {
		return decimal.Zero, err
	}
	if bal, err := s.repo.GetCachedBalance(ctx, tenantID); err == nil {
		return bal, nil
	}
	w, err := s.repo.GetWalletByTenant(ctx, s.repo.DB(ctx), tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, storageErr("get wallet", err)
	}
	s.cacheBalance(ctx, tenantID, w.Balance, w.Version)
	return w.Balance, nil
}

// CheckBalance is advisory: nothing is reserved, a concurrent debit may still
// win the funds.
func (s *WalletService) CheckBalance(ctx context.Context, tenantID string, required decimal.Decimal) (*BalanceCheck, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	current := decimal.Zero
	w, err := s.repo.GetWalletByTenant(ctx, s.repo.DB(ctx), tenantID)
	switch {
	case err == nil:
		current = w.Balance
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, storageErr("get wallet", err)
	}
	return &BalanceCheck{
		Sufficient:     current.GreaterThanOrEqual(required),
		CurrentBalance: current,
		Required:       required,
	}, nil
}

// DebitFunds charges a wallet. The balance is decremented by a single
// conditioned update and the ledger row is written in the same database
// transaction, so either both happen or neither does.
func (s *WalletService) DebitFunds(ctx context.Context, req DebitRequest) (*DebitResult, error) {
	if err := validateTenant(req.TenantID); err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	var (
		res   *DebitResult
		after *model.Wallet
		err   error
	)
	for attempt := 1; ; attempt++ {
		res, after, err = s.debitOnce(ctx, req)
		if !errors.Is(err, errVersionConflict) {
			break
		}
		if attempt >= s.maxRetries {
			s.log.Warnw("debit lost too many version races", "tenant_id", req.TenantID, "attempts", attempt)
			return nil, ErrConcurrentUpdate
		}
	}
	if errors.Is(err, errDuplicateReference) {
		prior, lerr := s.priorFor(ctx, model.TxDebit, req.TenantID, req.ReferenceType, req.ReferenceID, req.Amount)
		if lerr != nil {
			return nil, lerr
		}
		return &DebitResult{TransactionID: prior.ID, NewBalance: prior.BalanceAfter, Duplicate: true}, nil
	}
	if err != nil {
		if !classified(err) {
			err = storageErr("debit", err)
		}
		return nil, err
	}
	if res.Duplicate {
		return res, nil
	}

	s.cacheBalance(ctx, req.TenantID, res.NewBalance, after.Version)
	res.RechargeDue = s.CheckAutoRecharge(ctx, after)
	s.log.Infow("wallet debited", "tenant_id", req.TenantID, "amount", req.Amount.String(),
		"balance", res.NewBalance.String(), "transaction_id", res.TransactionID)
	return res, nil
}

func (s *WalletService) debitOnce(ctx context.Context, req DebitRequest) (*DebitResult, *model.Wallet, error) {
	var (
		res   *DebitResult
		after model.Wallet
	)
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.repo.EnsureWallet(ctx, tx, req.TenantID, s.currency)
		if err != nil {
			return storageErr("ensure wallet", err)
		}
		prior, err := s.repo.FindTransactionByReference(ctx, tx, model.TxDebit, req.ReferenceType, req.ReferenceID)
		if err != nil {
			return storageErr("find reference", err)
		}
		if prior != nil {
			if err := samePrior(prior, w.ID, req.Amount); err != nil {
				return err
			}
			res = &DebitResult{TransactionID: prior.ID, NewBalance: prior.BalanceAfter, Duplicate: true}
			return nil
		}
		if w.IsFrozen {
			return ErrWalletFrozen
		}
		if !w.HasSufficientFunds(req.Amount) {
			return insufficient(req.Amount, w.Balance)
		}

		ok, err := s.repo.DebitWallet(ctx, tx, w, req.Amount)
		if err != nil {
			return storageErr("debit wallet", err)
		}
		if !ok {
			// someone wrote the row since we read it; judge against the fresh state
			fresh, err := s.repo.GetWalletByTenant(ctx, tx, req.TenantID)
			if err != nil {
				return storageErr("reload wallet", err)
			}
			if fresh.IsFrozen {
				return ErrWalletFrozen
			}
			if !fresh.HasSufficientFunds(req.Amount) {
				return insufficient(req.Amount, fresh.Balance)
			}
			return errVersionConflict
		}

		newBal := w.Balance.Sub(req.Amount)
		t, err := s.appendLedger(ctx, tx, w, model.TxDebit, req.Amount, newBal,
			req.Description, req.ReferenceType, req.ReferenceID, req.Metadata)
		if err != nil {
			return err
		}
		after = *w
		after.Balance = newBal
		after.Version++
		res = &DebitResult{TransactionID: t.ID, NewBalance: newBal}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, &after, nil
}

// AddFunds credits a wallet.
func (s *WalletService) AddFunds(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	if req.Type == "" {
		req.Type = model.TxCredit
	}
	return s.credit(ctx, req)
}

// Refund credits a wallet with a REFUND row.
func (s *WalletService) Refund(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	req.Type = model.TxRefund
	return s.credit(ctx, req)
}

func (s *WalletService) credit(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	if err := validateTenant(req.TenantID); err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.Type != model.TxCredit && req.Type != model.TxRefund {
		return nil, fmt.Errorf("%w: credit type %q", ErrInvalidRequest, req.Type)
	}

	var (
		res     *CreditResult
		version uint64
		err     error
	)
	for attempt := 1; ; attempt++ {
		res, version, err = s.creditOnce(ctx, req)
		if !errors.Is(err, errVersionConflict) {
			break
		}
		if attempt >= s.maxRetries {
			s.log.Warnw("credit lost too many version races", "tenant_id", req.TenantID, "attempts", attempt)
			return nil, ErrConcurrentUpdate
		}
	}
	if errors.Is(err, errDuplicateReference) {
		prior, lerr := s.priorFor(ctx, req.Type, req.TenantID, req.ReferenceType, req.ReferenceID, req.Amount)
		if lerr != nil {
			return nil, lerr
		}
		return &CreditResult{TransactionID: prior.ID, NewBalance: prior.BalanceAfter, Duplicate: true}, nil
	}
	if err != nil {
		if !classified(err) {
			err = storageErr("credit", err)
		}
		return nil, err
	}
	if !res.Duplicate {
		s.cacheBalance(ctx, req.TenantID, res.NewBalance, version)
		s.log.Infow("wallet credited", "tenant_id", req.TenantID, "type", req.Type,
			"amount", req.Amount.String(), "balance", res.NewBalance.String(), "transaction_id", res.TransactionID)
	}
	return res, nil
}

// creditOnce also returns the wallet version its write produced.
func (s *WalletService) creditOnce(ctx context.Context, req CreditRequest) (*CreditResult, uint64, error) {
	var (
		res     *CreditResult
		version uint64
	)
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.repo.EnsureWallet(ctx, tx, req.TenantID, s.currency)
		if err != nil {
			return storageErr("ensure wallet", err)
		}
		prior, err := s.repo.FindTransactionByReference(ctx, tx, req.Type, req.ReferenceType, req.ReferenceID)
		if err != nil {
			return storageErr("find reference", err)
		}
		if prior != nil {
			if err := samePrior(prior, w.ID, req.Amount); err != nil {
				return err
			}
			res = &CreditResult{TransactionID: prior.ID, NewBalance: prior.BalanceAfter, Duplicate: true}
			return nil
		}
		if w.IsFrozen {
			return ErrWalletFrozen
		}
		ok, err := s.repo.CreditWallet(ctx, tx, w, req.Amount)
		if err != nil {
			return storageErr("credit wallet", err)
		}
		if !ok {
			fresh, err := s.repo.GetWalletByTenant(ctx, tx, req.TenantID)
			if err != nil {
				return storageErr("reload wallet", err)
			}
			if fresh.IsFrozen {
				return ErrWalletFrozen
			}
			return errVersionConflict
		}
		newBal := w.Balance.Add(req.Amount)
		t, err := s.appendLedger(ctx, tx, w, req.Type, req.Amount, newBal,
			req.Description, req.ReferenceType, req.ReferenceID, req.Metadata)
		if err != nil {
			return err
		}
		res = &CreditResult{TransactionID: t.ID, NewBalance: newBal}
		version = w.Version + 1
		return nil
	})
	return res, version, err
}

// appendLedger writes the ledger row and its outbox event inside tx.
func (s *WalletService) appendLedger(ctx context.Context, tx *gorm.DB, w *model.Wallet, txType string,
	amt, newBal decimal.Decimal, desc, refType, refID string, meta map[string]string) (*model.Transaction, error) {
	t := &model.Transaction{
		WalletID:      w.ID,
		Type:          txType,
		Amount:        amt,
		BalanceBefore: w.Balance,
		BalanceAfter:  newBal,
		Description:   desc,
		ReferenceType: refType,
		Status:        model.TxStatusCompleted,
		Metadata:      model.Metadata(meta),
	}
	if refID != "" {
		t.ReferenceID = &refID
	}
	if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errDuplicateReference
		}
		return nil, storageErr("create transaction", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"tenant_id":      w.TenantID,
		"wallet_id":      w.ID,
		"transaction_id": t.ID,
		"type":           txType,
		"amount":         amt,
		"balance":        newBal,
		"reference_type": refType,
		"reference_id":   refID,
	})
	evt := &model.OutboxEvent{
		Aggregate: "Wallet", AggregateID: w.TenantID, EventType: eventTypeFor(txType), Payload: string(payload),
	}
	if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
		return nil, storageErr("create outbox event", err)
	}
	return t, nil
}

func eventTypeFor(txType string) string {
	switch txType {
	case model.TxDebit:
		return model.EventWalletDebited
	case model.TxRefund:
		return model.EventWalletRefunded
	default:
		return model.EventWalletCredited
	}
}

// priorFor loads the row that won a reference race.
func (s *WalletService) priorFor(ctx context.Context, txType, tenantID, refType, refID string, amt decimal.Decimal) (*model.Transaction, error) {
	db := s.repo.DB(ctx)
	prior, err := s.repo.FindTransactionByReference(ctx, db, txType, refType, refID)
	if err != nil {
		return nil, storageErr("find reference", err)
	}
	if prior == nil {
		return nil, storageErr("find reference", errors.New("duplicate reported but no row found"))
	}
	w, err := s.repo.GetWalletByTenant(ctx, db, tenantID)
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	if err := samePrior(prior, w.ID, amt); err != nil {
		return nil, err
	}
	return prior, nil
}

// samePrior accepts a recorded row as the result of a repeated call only when
// it belongs to the same wallet and moved the same amount.
func samePrior(prior *model.Transaction, walletID uint64, amt decimal.Decimal) error {
	if prior.WalletID != walletID {
		return ErrReferenceConflict
	}
	if !prior.Amount.Equal(amt) {
		return fmt.Errorf("%w: recorded amount %s, requested %s", ErrReferenceMismatch, prior.Amount, amt)
	}
	return nil
}

func (s *WalletService) cacheBalance(ctx context.Context, tenantID string, bal decimal.Decimal, version uint64) {
	if err := s.repo.CacheBalance(ctx, tenantID, bal, version); err != nil {
		s.log.Warnw("cache balance", "tenant_id", tenantID, "error", err)
	}
}

// FreezeWallet sets the frozen flag and returns its new value.
func (s *WalletService) FreezeWallet(ctx context.Context, tenantID string, frozen bool) (bool, error) {
	if _, err := s.GetOrCreateWallet(ctx, tenantID); err != nil {
		return false, err
	}
	if err := s.repo.SetFrozen(ctx, s.repo.DB(ctx), tenantID, frozen); err != nil {
		return false, storageErr("set frozen", err)
	}
	s.log.Infow("wallet freeze toggled", "tenant_id", tenantID, "frozen", frozen)
	return frozen, nil
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}
