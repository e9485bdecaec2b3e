// README: Recovery middleware; turns handler panics into a logged 500.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func Recovery(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(logrus.Fields{
					"panic": rec,
					"path":  c.Request.URL.Path,
					"stack": string(debug.Stack()),
				}).Error("handler panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Server Error"})
			}
		}()
		c.Next()
	}
}
