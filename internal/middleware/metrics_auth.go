package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MetricsAuthMiddleware guards /metrics with a static bearer token. An empty
// token leaves the endpoint open.
func MetricsAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		provided, ok := BearerToken(c)
		switch {
		case !ok:
			c.Header("WWW-Authenticate", `Bearer realm="metrics"`)
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Bearer token required")
		case subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1:
			c.Header("WWW-Authenticate", `Bearer realm="metrics", error="invalid_token"`)
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Invalid token")
		default:
			c.Next()
		}
	}
}

// BearerToken extracts the credential of an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func BearerToken(c *gin.Context) (string, bool) {
	scheme, value, found := strings.Cut(c.GetHeader("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
