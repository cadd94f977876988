package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/tenant-wallet/internal/service"
)

// writeError maps engine errors to distinct responses. Insufficient funds
// carries the amounts so the client can tell the tenant what to top up.
func writeError(c *gin.Context, err error) {
	code := service.Code(err)
	var ife *service.InsufficientFundsError
	switch {
	case errors.As(err, &ife):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"code":      code,
			"error":     err.Error(),
			"required":  ife.Required,
			"current":   ife.Current,
			"shortfall": ife.Shortfall(),
		})
	case code == service.CodeWalletFrozen:
		c.JSON(http.StatusLocked, gin.H{"code": code, "error": err.Error()})
	case code == service.CodeInvalidRequest:
		c.JSON(http.StatusBadRequest, gin.H{"code": code, "error": err.Error()})
	case code == service.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"code": code, "error": err.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": code, "error": "storage unavailable, retry the whole operation"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": service.CodeInvalidRequest, "error": msg})
}
