package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/recharge"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AutoRechargeConfig is the policy an admin stores on a wallet. Trigger and
// Amount are required when Enabled.
type AutoRechargeConfig struct {
	Enabled      bool
	Trigger      *decimal.Decimal
	Amount       *decimal.Decimal
	PaymentToken string
}

// ConfigureAutoRecharge stores the policy and returns the updated wallet.
func (s *WalletService) ConfigureAutoRecharge(ctx context.Context, tenantID string, cfg AutoRechargeConfig) (*model.Wallet, error) {
	if cfg.Enabled {
		if cfg.Trigger == nil || cfg.Trigger.IsNegative() {
			return nil, fmt.Errorf("%w: auto-recharge trigger must be zero or positive", ErrInvalidRequest)
		}
		if cfg.Amount == nil {
			return nil, fmt.Errorf("%w: auto-recharge amount is required", ErrInvalidRequest)
		}
		if err := validateAmount(*cfg.Amount); err != nil {
			return nil, err
		}
	}
	if _, err := s.GetOrCreateWallet(ctx, tenantID); err != nil {
		return nil, err
	}
	fields := repo.AutoRechargeFields{Enabled: cfg.Enabled, Trigger: cfg.Trigger, Amount: cfg.Amount}
	if cfg.PaymentToken != "" {
		tok := cfg.PaymentToken
		fields.PaymentToken = &tok
	}
	db := s.repo.DB(ctx)
	if err := s.repo.UpdateAutoRecharge(ctx, db, tenantID, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, storageErr("update auto-recharge", err)
	}
	w, err := s.repo.GetWalletByTenant(ctx, db, tenantID)
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	return w, nil
}

// CheckAutoRecharge reports whether w sits below its recharge trigger and, if
// so, hands a request to the scheduler. It never blocks and never fails the
// caller.
func (s *WalletService) CheckAutoRecharge(ctx context.Context, w *model.Wallet) bool {
	if w == nil || !w.RechargeDue() {
		return false
	}
	req := recharge.Request{
		TenantID: w.TenantID,
		WalletID: w.ID,
		Balance:  w.Balance,
		Trigger:  *w.AutoRechargeTrigger,
		Currency: w.Currency,
	}
	if w.AutoRechargeAmount != nil {
		req.Amount = *w.AutoRechargeAmount
	}
	if w.SavedPaymentToken != nil {
		req.PaymentToken = *w.SavedPaymentToken
	}
	if s.recharger == nil {
		s.log.Infow("auto-recharge due, no scheduler configured", "tenant_id", w.TenantID,
			"balance", w.Balance.String(), "trigger", req.Trigger.String())
		return true
	}
	if !s.recharger.Signal(req) {
		s.log.Debugw("auto-recharge signal not queued", "tenant_id", w.TenantID)
	}
	return true
}
