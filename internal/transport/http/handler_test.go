package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/tenant-wallet/internal/config"
	"github.com/richardliu001/tenant-wallet/internal/gate"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/richardliu001/tenant-wallet/internal/service"
	"github.com/richardliu001/tenant-wallet/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, rl config.RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	svc := service.NewWalletService(repo.NewRepository(testutil.NewDB(t), nil, nil, log), log)
	return NewRouter(svc, gate.New(svc, true, log), "X-Tenant-ID", rl, log)
}

func call(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return callAs(t, r, "", method, path, body)
}

func callAs(t *testing.T, r *gin.Engine, tenant, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	out := map[string]interface{}{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func amount(t *testing.T, v interface{}) decimal.Decimal {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "amount %v is not a string", v)
	return decimal.RequireFromString(s)
}

func TestHandlers_DebitFlow(t *testing.T) {
	r := newTestRouter(t, config.RateLimitConfig{})

	w, _ := call(t, r, http.MethodPost, "/v1/tenants/acme/credit", gin.H{"amount": "10.00", "description": "pix"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := call(t, r, http.MethodPost, "/v1/tenants/acme/debit", gin.H{"amount": "2.00", "description": "CPF lookup"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, amount(t, body["new_balance"]).Equal(decimal.NewFromInt(8)))

	w, body = call(t, r, http.MethodPost, "/v1/tenants/acme/debit", gin.H{"amount": "9.00", "description": "CPF lookup"})
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, service.CodeInsufficientFunds, body["code"])
	assert.True(t, amount(t, body["required"]).Equal(decimal.NewFromInt(9)))
	assert.True(t, amount(t, body["current"]).Equal(decimal.NewFromInt(8)))
	assert.True(t, amount(t, body["shortfall"]).Equal(decimal.NewFromInt(1)))

	w, body = call(t, r, http.MethodGet, "/v1/tenants/acme/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, amount(t, body["balance"]).Equal(decimal.NewFromInt(8)))

	w, body = call(t, r, http.MethodGet, "/v1/tenants/acme/transactions?type=DEBIT", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])

	w, _ = call(t, r, http.MethodPost, "/v1/tenants/acme/debit", gin.H{"amount": "abc", "description": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = call(t, r, http.MethodPost, "/v1/tenants/acme/debit", gin.H{"amount": "-1", "description": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_FrozenWallet(t *testing.T) {
	r := newTestRouter(t, config.RateLimitConfig{})

	call(t, r, http.MethodPost, "/v1/tenants/acme/credit", gin.H{"amount": "5", "description": "pix"})
	w, body := call(t, r, http.MethodPut, "/v1/tenants/acme/freeze", gin.H{"frozen": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["frozen"])

	w, body = call(t, r, http.MethodPost, "/v1/tenants/acme/debit", gin.H{"amount": "1", "description": "x"})
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, service.CodeWalletFrozen, body["code"])

	w, _ = call(t, r, http.MethodGet, "/v1/tenants/acme/balance", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_WebhookIdempotent(t *testing.T) {
	r := newTestRouter(t, config.RateLimitConfig{})
	evt := gin.H{"event_id": "evt_1", "tenant_id": "acme", "amount": "25.00"}

	w, first := call(t, r, http.MethodPost, "/v1/webhooks/payments", evt)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, first["duplicate"])

	w, second := call(t, r, http.MethodPost, "/v1/webhooks/payments", evt)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, second["duplicate"])
	assert.Equal(t, first["transaction_id"], second["transaction_id"])

	_, body := call(t, r, http.MethodGet, "/v1/tenants/acme/balance", nil)
	assert.True(t, amount(t, body["balance"]).Equal(decimal.NewFromInt(25)))

	w, _ = call(t, r, http.MethodPost, "/v1/webhooks/payments", gin.H{"tenant_id": "acme", "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_UsageChargesPricedService(t *testing.T) {
	r := newTestRouter(t, config.RateLimitConfig{})

	w, _ := call(t, r, http.MethodPut, "/v1/prices/cpf_lookup", gin.H{"price": "2.00", "service_name": "CPF lookup"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	call(t, r, http.MethodPost, "/v1/tenants/acme/credit", gin.H{"amount": "3", "description": "pix"})

	w, body := call(t, r, http.MethodPost, "/v1/tenants/acme/authorize", gin.H{"service_code": "cpf_lookup"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["charge"])

	w, _ = call(t, r, http.MethodPost, "/v1/tenants/acme/usage", gin.H{"service_code": "cpf_lookup", "reference_id": "req-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = call(t, r, http.MethodPost, "/v1/tenants/acme/usage", gin.H{"service_code": "cpf_lookup", "reference_id": "req-2"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.True(t, amount(t, body["current"]).Equal(decimal.NewFromInt(1)))

	// unpriced services pass without a charge
	w, body = call(t, r, http.MethodPost, "/v1/tenants/acme/usage", gin.H{"service_code": "not_priced"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["debit"])

	w, _ = call(t, r, http.MethodDelete, "/v1/prices/cpf_lookup", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = call(t, r, http.MethodDelete, "/v1/prices/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = call(t, r, http.MethodGet, "/v1/tenants/acme/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["consistent"])
}

func TestHandlers_ReferenceLookup(t *testing.T) {
	r := newTestRouter(t, config.RateLimitConfig{})
	call(t, r, http.MethodPost, "/v1/tenants/acme/credit", gin.H{"amount": "3", "description": "pix"})
	call(t, r, http.MethodPost, "/v1/tenants/acme/debit", gin.H{"amount": "1", "description": "x", "reference_id": "call-9", "reference_type": "api_call"})

	w, body := call(t, r, http.MethodGet, "/v1/tenants/acme/transactions/by-reference?reference_type=api_call&reference_id=call-9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DEBIT", body["type"])

	w, _ = call(t, r, http.MethodGet, "/v1/tenants/acme/transactions/by-reference?reference_type=api_call&reference_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_GatedServiceUsage(t *testing.T) {
	r := newTestRouter(t, config.RateLimitConfig{})
	call(t, r, http.MethodPut, "/v1/prices/sms", gin.H{"price": "1.50"})
	call(t, r, http.MethodPost, "/v1/tenants/acme/credit", gin.H{"amount": "2", "description": "pix"})

	w, body := callAs(t, r, "acme", http.MethodPost, "/v1/services/sms/usage", gin.H{"reference_id": "sms-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	debit, ok := body["debit"].(map[string]interface{})
	require.True(t, ok, "debit missing: %v", body)
	assert.True(t, amount(t, debit["new_balance"]).Equal(decimal.RequireFromString("0.5")))

	// rejected before the handler runs, nothing is charged
	w, body = callAs(t, r, "acme", http.MethodPost, "/v1/services/sms/usage", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, service.CodeInsufficientFunds, body["code"])

	w, _ = callAs(t, r, "", http.MethodPost, "/v1/services/sms/usage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no tenant header")

	w, body = callAs(t, r, "acme", http.MethodPost, "/v1/services/unpriced/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["debit"])
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newTestRouter(t, config.RateLimitConfig{RPS: 1, Burst: 1})

	w, _ := call(t, r, http.MethodGet, "/v1/tenants/acme/balance", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = call(t, r, http.MethodGet, "/v1/tenants/acme/balance", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
