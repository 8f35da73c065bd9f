package middleware

import (
	"context"
	"net/http"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Session keys for the signed-in portal user
const (
	SessionUserID   = "user_id"
	SessionAuthTime = "auth_time"
)

const userContextKey = "user"

// UserLoader resolves the session subject to an account
type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// RequireAuth rejects requests without a signed-in session. The loaded user
// is stored on the context for GetUser.
func RequireAuth(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, _ := session.Get(SessionUserID).(string)
		if userID == "" {
			abortJSON(c, http.StatusUnauthorized, "login_required", "sign in first")
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), userID)
		if err != nil || !user.CanSignIn() {
			session.Clear()
			_ = session.Save()
			abortJSON(c, http.StatusUnauthorized, "login_required", "session is no longer valid")
			return
		}

		c.Set(userContextKey, user)
		util.SetGinSubject(c, user.ID)
		c.Next()
	}
}

// RequireSteward allows stewards and administrators. Use after RequireAuth.
func RequireSteward() gin.HandlerFunc {
	return requireRole(func(u *models.User) bool {
		return u.IsSteward() || u.IsAdmin()
	}, "steward access required")
}

// RequireAdmin allows administrators only. Use after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return requireRole((*models.User).IsAdmin, "admin access required")
}

func requireRole(allowed func(*models.User) bool, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := GetUser(c)
		if user == nil || !allowed(user) {
			abortJSON(c, http.StatusForbidden, "access_denied", message)
			return
		}
		c.Next()
	}
}

// GetUser returns the user loaded by RequireAuth, or nil
func GetUser(c *gin.Context) *models.User {
	if v, ok := c.Get(userContextKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

func abortJSON(c *gin.Context, status int, code, description string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":             code,
		"error_description": description,
	})
}
