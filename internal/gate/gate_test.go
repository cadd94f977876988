package gate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	prices  map[string]decimal.Decimal
	wallet  model.Wallet
	debits  []service.DebitRequest
	debitFn func(service.DebitRequest) error
}

func (f *fakeLedger) GetServicePrice(_ context.Context, code string) (decimal.Decimal, bool, error) {
	p, ok := f.prices[code]
	return p, ok, nil
}

func (f *fakeLedger) GetOrCreateWallet(_ context.Context, tenantID string) (*model.Wallet, error) {
	w := f.wallet
	w.TenantID = tenantID
	return &w, nil
}

func (f *fakeLedger) DebitFunds(_ context.Context, req service.DebitRequest) (*service.DebitResult, error) {
	if f.debitFn != nil {
		if err := f.debitFn(req); err != nil {
			return nil, err
		}
	}
	f.debits = append(f.debits, req)
	f.wallet.Balance = f.wallet.Balance.Sub(req.Amount)
	return &service.DebitResult{TransactionID: uint64(len(f.debits)), NewBalance: f.wallet.Balance}, nil
}

func newLedger(balance string) *fakeLedger {
	return &fakeLedger{
		prices: map[string]decimal.Decimal{
			"cpf_lookup": decimal.RequireFromString("2.00"),
			"free_tier":  decimal.Zero,
		},
		wallet: model.Wallet{ID: 1, Balance: decimal.RequireFromString(balance)},
	}
}

func TestGate_DisabledIsNoop(t *testing.T) {
	l := newLedger("0")
	g := New(l, false, zap.NewNop().Sugar())

	d, err := g.Authorize(context.Background(), "acme", "cpf_lookup")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.WalletSystemEnabled)

	res, err := g.DebitAfterSuccess(context.Background(), d, DebitDetails{})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, l.debits)
}

func TestGate_UnpricedServiceIsFree(t *testing.T) {
	l := newLedger("0")
	g := New(l, true, zap.NewNop().Sugar())

	for _, code := range []string{"unknown_service", "free_tier"} {
		d, err := g.Authorize(context.Background(), "acme", code)
		require.NoError(t, err, code)
		assert.True(t, d.Allowed, code)
		assert.False(t, d.Charge, code)

		res, err := g.DebitAfterSuccess(context.Background(), d, DebitDetails{})
		require.NoError(t, err)
		assert.Nil(t, res)
	}
	assert.Empty(t, l.debits)
}

func TestGate_Rejections(t *testing.T) {
	l := newLedger("1.50")
	g := New(l, true, zap.NewNop().Sugar())

	_, err := g.Authorize(context.Background(), "acme", "cpf_lookup")
	require.ErrorIs(t, err, service.ErrInsufficientFunds)
	var ife *service.InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.True(t, ife.Required.Equal(decimal.RequireFromString("2")))
	assert.True(t, ife.Current.Equal(decimal.RequireFromString("1.5")))

	l.wallet.Balance = decimal.NewFromInt(100)
	l.wallet.IsFrozen = true
	_, err = g.Authorize(context.Background(), "acme", "cpf_lookup")
	assert.ErrorIs(t, err, service.ErrWalletFrozen)

	_, err = g.Authorize(context.Background(), "", "cpf_lookup")
	assert.ErrorIs(t, err, service.ErrInvalidRequest)
}

func TestGate_DebitAfterSuccess(t *testing.T) {
	l := newLedger("10")
	g := New(l, true, zap.NewNop().Sugar())

	d, err := g.Authorize(context.Background(), "acme", "cpf_lookup")
	require.NoError(t, err)
	assert.True(t, d.Charge)
	assert.True(t, d.CurrentBalance.Equal(decimal.NewFromInt(10)))

	res, err := g.DebitAfterSuccess(context.Background(), d, DebitDetails{
		ReferenceID: "req-1", ReferenceType: "api_call", Metadata: map[string]string{"document": "masked"},
	})
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(8)))

	require.Len(t, l.debits, 1)
	got := l.debits[0]
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "cpf_lookup", got.Description)
	assert.Equal(t, "cpf_lookup", got.Metadata["service_code"])
	assert.Equal(t, "masked", got.Metadata["document"])
	assert.Equal(t, "req-1", got.ReferenceID)
}

func TestGate_DebitAfterSuccessSurfacesLostRace(t *testing.T) {
	l := newLedger("2")
	l.debitFn = func(req service.DebitRequest) error {
		return &service.InsufficientFundsError{Required: req.Amount, Current: decimal.Zero}
	}
	g := New(l, true, zap.NewNop().Sugar())

	d, err := g.Authorize(context.Background(), "acme", "cpf_lookup")
	require.NoError(t, err)
	_, err = g.DebitAfterSuccess(context.Background(), d, DebitDetails{})
	assert.ErrorIs(t, err, service.ErrInsufficientFunds)
}

func TestGate_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newLedger("3")
	g := New(l, true, zap.NewNop().Sugar())

	r := gin.New()
	onErr := func(c *gin.Context, err error) {
		c.JSON(http.StatusPaymentRequired, gin.H{"code": service.Code(err)})
	}
	r.POST("/lookup", g.Middleware("cpf_lookup", "X-Tenant-ID", onErr), func(c *gin.Context) {
		d, ok := FromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		if _, err := g.DebitAfterSuccess(c.Request.Context(), d, DebitDetails{}); err != nil {
			onErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/lookup", nil)
		req.Header.Set("X-Tenant-ID", "acme")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	w := do()
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), service.CodeInsufficientFunds)
	assert.Len(t, l.debits, 1)
}
