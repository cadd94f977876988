package service

import (
	"context"
	"fmt"

	"github.com/richardliu001/tenant-wallet/internal/idempotency"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/shopspring/decimal"
)

// ReferenceWebhook is the reference type of ledger rows created from payment
// notifications; their reference id is the provider event id.
const ReferenceWebhook = "webhook"

// IsWebhookProcessed consults the cache only. A cache failure reads as "not
// processed"; the ledger reference index still stops a second credit.
func (s *WalletService) IsWebhookProcessed(ctx context.Context, eventID string) bool {
	ok, err := s.webhooks.IsProcessed(ctx, eventID)
	if err != nil {
		s.log.Warnw("webhook cache lookup", "event_id", eventID, "error", err)
		return false
	}
	return ok
}

func (s *WalletService) MarkWebhookProcessed(ctx context.Context, eventID string, result idempotency.Result) {
	if err := s.webhooks.MarkProcessed(ctx, eventID, result); err != nil {
		s.log.Warnw("webhook cache store", "event_id", eventID, "error", err)
	}
}

func (s *WalletService) GetWebhookResult(ctx context.Context, eventID string) (*idempotency.Record, bool) {
	rec, ok, err := s.webhooks.Get(ctx, eventID)
	if err != nil {
		s.log.Warnw("webhook cache read", "event_id", eventID, "error", err)
		return nil, false
	}
	return rec, ok
}

// CreditFromWebhook credits a wallet for a payment notification at most once
// per event id, whether the redelivery hits the cache or not. A cached result
// is only reused for the same tenant, type and amount; anything else is judged
// by the ledger.
func (s *WalletService) CreditFromWebhook(ctx context.Context, eventID string, req CreditRequest) (*CreditResult, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidRequest)
	}
	req.ReferenceID = eventID
	req.ReferenceType = ReferenceWebhook
	if req.Type == "" {
		req.Type = model.TxCredit
	}

	if rec, ok := s.GetWebhookResult(ctx, eventID); ok {
		if cachedFor(rec.Result, req) {
			bal, _ := decimal.NewFromString(rec.Result.NewBalance)
			s.log.Infow("webhook already processed", "event_id", eventID, "transaction_id", rec.Result.TransactionID)
			return &CreditResult{TransactionID: rec.Result.TransactionID, NewBalance: bal, Duplicate: true}, nil
		}
		s.log.Warnw("webhook event redelivered with different details", "event_id", eventID,
			"cached_tenant_id", rec.Result.TenantID, "tenant_id", req.TenantID)
	}

	res, err := s.credit(ctx, req)
	if err != nil {
		return nil, err
	}
	s.MarkWebhookProcessed(ctx, eventID, idempotency.Result{
		TransactionID: res.TransactionID,
		TenantID:      req.TenantID,
		Type:          req.Type,
		Amount:        req.Amount.String(),
		NewBalance:    res.NewBalance.String(),
	})
	return res, nil
}

func cachedFor(r idempotency.Result, req CreditRequest) bool {
	if r.TenantID != req.TenantID || r.Type != req.Type {
		return false
	}
	amt, err := decimal.NewFromString(r.Amount)
	return err == nil && amt.Equal(req.Amount)
}
