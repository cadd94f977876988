package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/tenant-wallet/internal/gate"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/service"
	"github.com/shopspring/decimal"
)

func RegisterHandlers(r *gin.Engine, svc *service.WalletService, g *gate.Gate, tenantHeader string) {
	v1 := r.Group("/v1")
	{
		t := v1.Group("/tenants/:tenant")
		t.GET("/wallet", walletHandler(svc))
		t.GET("/balance", balanceHandler(svc))
		t.GET("/balance/check", checkBalanceHandler(svc))
		t.POST("/debit", debitHandler(svc))
		t.POST("/credit", creditHandler(svc, model.TxCredit))
		t.POST("/refund", creditHandler(svc, model.TxRefund))
		t.POST("/authorize", authorizeHandler(g))
		t.POST("/usage", usageHandler(g))
		t.PUT("/freeze", freezeHandler(svc))
		t.PUT("/auto-recharge", autoRechargeHandler(svc))
		t.GET("/transactions", transactionsHandler(svc))
		t.GET("/transactions/by-reference", referenceHandler(svc))
		t.GET("/reconcile", reconcileHandler(svc))

		v1.GET("/prices", listPricesHandler(svc))
		v1.PUT("/prices/:code", upsertPriceHandler(svc))
		v1.DELETE("/prices/:code", deactivatePriceHandler(svc))

		v1.POST("/webhooks/payments", paymentWebhookHandler(svc))

		// dispatch layer reports a completed call; the tenant comes from tenantHeader
		v1.POST("/services/:service/usage", g.Middleware("", tenantHeader, writeError), gatedUsageHandler(g))
	}
}

func parseAmount(c *gin.Context, raw string) (decimal.Decimal, bool) {
	amt, err := decimal.NewFromString(raw)
	if err != nil {
		badRequest(c, "invalid amount")
		return decimal.Zero, false
	}
	return amt, true
}

func walletHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := svc.GetOrCreateWallet(c.Request.Context(), c.Param("tenant"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svc.GetBalance(c.Request.Context(), c.Param("tenant"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func checkBalanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		amt, ok := parseAmount(c, c.Query("amount"))
		if !ok {
			return
		}
		chk, err := svc.CheckBalance(c.Request.Context(), c.Param("tenant"), amt)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, chk)
	}
}

type debitReq struct {
	Amount        string            `json:"amount" binding:"required"`
	Description   string            `json:"description" binding:"required"`
	ReferenceID   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Metadata      map[string]string `json:"metadata"`
}

func debitHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req debitReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		res, err := svc.DebitFunds(c.Request.Context(), service.DebitRequest{
			TenantID:      c.Param("tenant"),
			Amount:        amt,
			Description:   req.Description,
			ReferenceID:   req.ReferenceID,
			ReferenceType: req.ReferenceType,
			Metadata:      req.Metadata,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type creditReq struct {
	Amount        string            `json:"amount" binding:"required"`
	Description   string            `json:"description" binding:"required"`
	ReferenceID   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Metadata      map[string]string `json:"metadata"`
}

func creditHandler(svc *service.WalletService, txType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req creditReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		in := service.CreditRequest{
			TenantID:      c.Param("tenant"),
			Amount:        amt,
			Description:   req.Description,
			ReferenceID:   req.ReferenceID,
			ReferenceType: req.ReferenceType,
			Type:          txType,
			Metadata:      req.Metadata,
		}
		var (
			res *service.CreditResult
			err error
		)
		if txType == model.TxRefund {
			res, err = svc.Refund(c.Request.Context(), in)
		} else {
			res, err = svc.AddFunds(c.Request.Context(), in)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type authorizeReq struct {
	ServiceCode string `json:"service_code" binding:"required"`
}

func authorizeHandler(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authorizeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		d, err := g.Authorize(c.Request.Context(), c.Param("tenant"), req.ServiceCode)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

type usageReq struct {
	ServiceCode   string            `json:"service_code" binding:"required"`
	Description   string            `json:"description"`
	ReferenceID   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Metadata      map[string]string `json:"metadata"`
}

// usageHandler is called by the dispatch layer after a paid action completed.
func usageHandler(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req usageReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		d, err := g.Authorize(c.Request.Context(), c.Param("tenant"), req.ServiceCode)
		if err != nil {
			writeError(c, err)
			return
		}
		res, err := g.DebitAfterSuccess(c.Request.Context(), d, gate.DebitDetails{
			Description:   req.Description,
			ReferenceID:   req.ReferenceID,
			ReferenceType: req.ReferenceType,
			Metadata:      req.Metadata,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"decision": d, "debit": res})
	}
}

type gatedUsageReq struct {
	Description   string            `json:"description"`
	ReferenceID   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Metadata      map[string]string `json:"metadata"`
}

func gatedUsageHandler(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, ok := gate.FromContext(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "missing gate decision"})
			return
		}
		var req gatedUsageReq
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		res, err := g.DebitAfterSuccess(c.Request.Context(), d, gate.DebitDetails{
			Description:   req.Description,
			ReferenceID:   req.ReferenceID,
			ReferenceType: req.ReferenceType,
			Metadata:      req.Metadata,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"decision": d, "debit": res})
	}
}

type freezeReq struct {
	Frozen *bool `json:"frozen" binding:"required"`
}

func freezeHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req freezeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		frozen, err := svc.FreezeWallet(c.Request.Context(), c.Param("tenant"), *req.Frozen)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"frozen": frozen})
	}
}

type autoRechargeReq struct {
	Enabled      bool   `json:"enabled"`
	Trigger      string `json:"trigger"`
	Amount       string `json:"amount"`
	PaymentToken string `json:"payment_token"`
}

func autoRechargeHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req autoRechargeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		cfg := service.AutoRechargeConfig{Enabled: req.Enabled, PaymentToken: req.PaymentToken}
		if req.Trigger != "" {
			v, ok := parseAmount(c, req.Trigger)
			if !ok {
				return
			}
			cfg.Trigger = &v
		}
		if req.Amount != "" {
			v, ok := parseAmount(c, req.Amount)
			if !ok {
				return
			}
			cfg.Amount = &v
		}
		w, err := svc.ConfigureAutoRecharge(c.Request.Context(), c.Param("tenant"), cfg)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func transactionsHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := service.TransactionFilter{Type: c.Query("type"), Status: c.Query("status")}
		f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
		f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
		for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
			raw := c.Query(key)
			if raw == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				badRequest(c, "invalid "+key)
				return
			}
			*dst = ts
		}
		page, err := svc.GetTransactions(c.Request.Context(), c.Param("tenant"), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func referenceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.FindByReference(c.Request.Context(), c.DefaultQuery("type", model.TxDebit), c.Query("reference_type"), c.Query("reference_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if t == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": service.CodeNotFound, "error": "no transaction for reference"})
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func reconcileHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := svc.Reconcile(c.Request.Context(), c.Param("tenant"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func listPricesHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		prices, err := svc.ListServicePrices(c.Request.Context(), c.Query("active") == "true")
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, prices)
	}
}

type priceReq struct {
	ServiceName string `json:"service_name"`
	Price       string `json:"price" binding:"required"`
	CostPrice   string `json:"cost_price"`
	IsActive    *bool  `json:"is_active"`
}

func upsertPriceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req priceReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		price, ok := parseAmount(c, req.Price)
		if !ok {
			return
		}
		cost := decimal.Zero
		if req.CostPrice != "" {
			if cost, ok = parseAmount(c, req.CostPrice); !ok {
				return
			}
		}
		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		p, err := svc.UpsertServicePrice(c.Request.Context(), service.PriceInput{
			ServiceCode: c.Param("code"),
			ServiceName: req.ServiceName,
			Price:       price,
			CostPrice:   cost,
			IsActive:    active,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func deactivatePriceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeactivateServicePrice(c.Request.Context(), c.Param("code")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type paymentWebhookReq struct {
	EventID     string `json:"event_id" binding:"required"`
	TenantID    string `json:"tenant_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func paymentWebhookHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req paymentWebhookReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		desc := req.Description
		if desc == "" {
			desc = "payment " + req.EventID
		}
		res, err := svc.CreditFromWebhook(c.Request.Context(), req.EventID, service.CreditRequest{
			TenantID:    req.TenantID,
			Amount:      amt,
			Description: desc,
			Type:        req.Type,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
