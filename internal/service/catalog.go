package service

import (
	"context"
	"fmt"

	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/shopspring/decimal"
)

// GetServicePrice returns the active price of a service. ok is false when the
// service is unknown or inactive, which callers treat as free.
func (s *WalletService) GetServicePrice(ctx context.Context, serviceCode string) (decimal.Decimal, bool, error) {
	p, err := s.repo.GetActivePrice(ctx, serviceCode)
	if err != nil {
		return decimal.Zero, false, storageErr("get price", err)
	}
	if p == nil {
		return decimal.Zero, false, nil
	}
	return p.Price, true, nil
}

// PriceInput is an operator edit of the catalog.
type PriceInput struct {
	ServiceCode string
	ServiceName string
	Price       decimal.Decimal
	CostPrice   decimal.Decimal
	IsActive    bool
}

func (s *WalletService) UpsertServicePrice(ctx context.Context, in PriceInput) (*model.ServicePrice, error) {
	if in.ServiceCode == "" {
		return nil, fmt.Errorf("%w: service code is required", ErrInvalidRequest)
	}
	if in.Price.IsNegative() || in.CostPrice.IsNegative() {
		return nil, fmt.Errorf("%w: prices must not be negative", ErrInvalidRequest)
	}
	name := in.ServiceName
	if name == "" {
		name = in.ServiceCode
	}
	p := &model.ServicePrice{
		ServiceCode: in.ServiceCode,
		ServiceName: name,
		Price:       in.Price,
		CostPrice:   in.CostPrice,
		IsActive:    in.IsActive,
	}
	if err := s.repo.UpsertPrice(ctx, p); err != nil {
		return nil, storageErr("upsert price", err)
	}
	s.log.Infow("service price updated", "service_code", p.ServiceCode, "price", p.Price.String(), "active", p.IsActive)
	return p, nil
}

func (s *WalletService) DeactivateServicePrice(ctx context.Context, serviceCode string) error {
	ok, err := s.repo.DeactivatePrice(ctx, serviceCode)
	if err != nil {
		return storageErr("deactivate price", err)
	}
	if !ok {
		return ErrPriceNotFound
	}
	return nil
}

func (s *WalletService) ListServicePrices(ctx context.Context, activeOnly bool) ([]model.ServicePrice, error) {
	prices, err := s.repo.ListPrices(ctx, activeOnly)
	if err != nil {
		return nil, storageErr("list prices", err)
	}
	return prices, nil
}
