package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/inboxline/mailsync/internal/utils"
)

// CustomContextMiddleware stamps the request context with the app source
// and the request id so downstream spans and events carry them.
func CustomContextMiddleware(appSource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.WithCustomContextFromGinRequest(c, appSource)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
