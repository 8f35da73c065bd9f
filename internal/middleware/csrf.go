package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	csrfTokenKey = "csrf_token"
	// CSRFHeader carries the token both ways: the server sets it on every
	// response and expects it back on state-changing requests
	CSRFHeader = "X-CSRF-Token"
)

// CSRFMiddleware protects session-authenticated state-changing requests
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		token, _ := session.Get(csrfTokenKey).(string)
		if token == "" {
			var err error
			token, err = util.RandomHandle(32)
			if err != nil {
				abortJSON(c, http.StatusInternalServerError, "server_error", "failed to create csrf token")
				return
			}
			session.Set(csrfTokenKey, token)
			if err := session.Save(); err != nil {
				abortJSON(c, http.StatusInternalServerError, "server_error", "failed to save session")
				return
			}
		}

		c.Set(csrfTokenKey, token)
		c.Header(CSRFHeader, token)

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			submitted := c.GetHeader(CSRFHeader)
			if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) != 1 {
				abortJSON(c, http.StatusForbidden, "csrf_failed", "missing or invalid "+CSRFHeader+" header")
				return
			}
		}

		c.Next()
	}
}

// GetCSRFToken retrieves the CSRF token from the context
func GetCSRFToken(c *gin.Context) string {
	if token, exists := c.Get(csrfTokenKey); exists {
		if tokenStr, ok := token.(string); ok {
			return tokenStr
		}
	}
	return ""
}
