package middlewares

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localvault/tool"
)

// OnlyAllowLocal rejects every client that is not on a loopback address.
func OnlyAllowLocal(c *gin.Context) {
	if ip := net.ParseIP(c.ClientIP()); ip != nil && ip.IsLoopback() {
		c.Next()
		return
	}
	c.AbortWithStatusJSON(http.StatusForbidden, tool.FastReturnError("Forbidden"))
}
