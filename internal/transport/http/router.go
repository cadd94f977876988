package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/tenant-wallet/internal/config"
	"github.com/richardliu001/tenant-wallet/internal/gate"
	"github.com/richardliu001/tenant-wallet/internal/service"
	"go.uber.org/zap"
)

// NewRouter mounts every route. tenantHeader names the header the gated
// service routes read the tenant from.
func NewRouter(svc *service.WalletService, g *gate.Gate, tenantHeader string, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, g, tenantHeader)
	return r
}
