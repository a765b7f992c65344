package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// DisplayCache marks snapshot responses as briefly cacheable so a bank
// of polling screens behind one proxy shares a single fetch. Mutating
// requests are never cached.
func DisplayCache(maxAgeSeconds int) gin.HandlerFunc {
	value := fmt.Sprintf("public, max-age=%d", maxAgeSeconds)
	return func(c *gin.Context) {
		if c.Request.Method != "GET" {
			c.Header("Cache-Control", "no-store")
			c.Next()
			return
		}
		c.Header("Cache-Control", value)
		c.Next()
	}
}
