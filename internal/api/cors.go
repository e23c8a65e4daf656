package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS echoes allowed origins back to the browser and answers preflight requests.
// An empty allow-list permits any origin.
func CORS(allowOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowOrigins))
	for _, o := range allowOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		header := c.Writer.Header()
		origin := c.GetHeader("Origin")
		if len(allowed) == 0 {
			header.Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok {
			header.Set("Access-Control-Allow-Origin", origin)
		}
		header.Set("Vary", "Origin")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, x-auth-token")
		header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		header.Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
