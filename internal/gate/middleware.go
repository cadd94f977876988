package gate

import (
	"github.com/gin-gonic/gin"
)

const decisionKey = "wallet.decision"

// ErrorWriter renders a gate rejection; the transport layer supplies it so
// every route maps engine errors the same way.
type ErrorWriter func(c *gin.Context, err error)

// Middleware authorizes serviceCode for the tenant named by tenantHeader and
// stores the Decision for the handler, which debits with DebitAfterSuccess
// once its work succeeded. An empty serviceCode is read from the :service
// path parameter.
func (g *Gate) Middleware(serviceCode, tenantHeader string, onErr ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(tenantHeader)
		if tenantID == "" {
			tenantID = c.Param("tenant")
		}
		code := serviceCode
		if code == "" {
			code = c.Param("service")
		}
		d, err := g.Authorize(c.Request.Context(), tenantID, code)
		if err != nil {
			onErr(c, err)
			c.Abort()
			return
		}
		c.Set(decisionKey, d)
		c.Next()
	}
}

// FromContext returns the Decision stored by Middleware.
func FromContext(c *gin.Context) (*Decision, bool) {
	v, ok := c.Get(decisionKey)
	if !ok {
		return nil, false
	}
	d, ok := v.(*Decision)
	return d, ok
}
