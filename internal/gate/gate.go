// Package gate decides, before a chargeable action runs, whether a tenant may
// use it, and charges only once the action has succeeded.
package gate

import (
	"context"
	"fmt"

	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the part of the wallet engine the gate needs.
type Ledger interface {
	GetServicePrice(ctx context.Context, serviceCode string) (decimal.Decimal, bool, error)
	GetOrCreateWallet(ctx context.Context, tenantID string) (*model.Wallet, error)
	DebitFunds(ctx context.Context, req service.DebitRequest) (*service.DebitResult, error)
}

// Decision is the outcome of Authorize. Charge is false when nothing must be
// debited afterwards: the wallet system is off or the service is unpriced.
type Decision struct {
	Allowed             bool            `json:"allowed"`
	WalletSystemEnabled bool            `json:"wallet_system_enabled"`
	Charge              bool            `json:"charge"`
	TenantID            string          `json:"tenant_id"`
	ServiceCode         string          `json:"service_code"`
	Price               decimal.Decimal `json:"price"`
	CurrentBalance      decimal.Decimal `json:"current_balance"`
}

// DebitDetails describes the completed action being charged.
type DebitDetails struct {
	Description   string
	ReferenceID   string
	ReferenceType string
	Metadata      map[string]string
}

type Gate struct {
	ledger  Ledger
	enabled bool
	log     *zap.SugaredLogger
}

// New builds a gate. enabled mirrors whether a billing provider is configured.
func New(l Ledger, enabled bool, log *zap.SugaredLogger) *Gate {
	return &Gate{ledger: l, enabled: enabled, log: log}
}

func (g *Gate) Enabled() bool { return g.enabled }

// Authorize checks price and wallet state. It returns service.ErrWalletFrozen
// or a *service.InsufficientFundsError when the action must not run; the
// balance is not reserved.
func (g *Gate) Authorize(ctx context.Context, tenantID, serviceCode string) (*Decision, error) {
	d := &Decision{TenantID: tenantID, ServiceCode: serviceCode, WalletSystemEnabled: g.enabled}
	if !g.enabled {
		d.Allowed = true
		return d, nil
	}
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant could not be resolved", service.ErrInvalidRequest)
	}

	price, priced, err := g.ledger.GetServicePrice(ctx, serviceCode)
	if err != nil {
		return nil, err
	}
	if !priced {
		g.log.Debugw("service not priced, allowing without charge", "service_code", serviceCode, "tenant_id", tenantID)
		d.Allowed = true
		return d, nil
	}
	d.Price = price

	w, err := g.ledger.GetOrCreateWallet(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	d.CurrentBalance = w.Balance
	if w.IsFrozen {
		return nil, service.ErrWalletFrozen
	}
	if !w.HasSufficientFunds(price) {
		return nil, &service.InsufficientFundsError{Required: price, Current: w.Balance}
	}
	d.Allowed = true
	d.Charge = price.IsPositive()
	return d, nil
}

// DebitAfterSuccess charges for an action that has completed. It returns nil,
// nil when the decision carries nothing to charge.
func (g *Gate) DebitAfterSuccess(ctx context.Context, d *Decision, det DebitDetails) (*service.DebitResult, error) {
	if d == nil || !d.WalletSystemEnabled || !d.Charge {
		return nil, nil
	}
	desc := det.Description
	if desc == "" {
		desc = d.ServiceCode
	}
	meta := map[string]string{"service_code": d.ServiceCode}
	for k, v := range det.Metadata {
		meta[k] = v
	}
	res, err := g.ledger.DebitFunds(ctx, service.DebitRequest{
		TenantID:      d.TenantID,
		Amount:        d.Price,
		Description:   desc,
		ReferenceID:   det.ReferenceID,
		ReferenceType: det.ReferenceType,
		Metadata:      meta,
	})
	if err != nil {
		g.log.Warnw("debit after success failed", "tenant_id", d.TenantID,
			"service_code", d.ServiceCode, "code", service.Code(err), "error", err)
		return nil, err
	}
	return res, nil
}
