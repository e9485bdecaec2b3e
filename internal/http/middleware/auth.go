// README: Auth middleware; verifies bearer tokens and exposes the caller identity to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"roadside/internal/infra"
)

const (
	ctxUID  = "caller_uid"
	ctxRole = "caller_role"
)

// Auth rejects requests without a valid bearer token. A nil verifier turns
// authentication off (auth.provider=none) and leaves the caller anonymous.
// Browsers cannot set headers on a websocket upgrade, so ?token= is accepted too.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}

		raw := c.Query("token")
		if h := c.GetHeader("Authorization"); h != "" {
			scheme, token, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				abort(c, "invalid authorization header")
				return
			}
			raw = token
		}
		if raw == "" {
			abort(c, "missing authorization token")
			return
		}

		id, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			abort(c, "invalid token")
			return
		}
		c.Set(ctxUID, id.UID)
		c.Set(ctxRole, id.Role)
		c.Next()
	}
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msg})
}

// CallerUID is empty when authentication is off.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// Authenticated reports whether Auth verified a token for this request.
func Authenticated(c *gin.Context) bool {
	_, ok := c.Get(ctxUID)
	return ok
}
