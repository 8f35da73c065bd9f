package util

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	clientIPKey contextKey = "client_ip"
	subjectKey  contextKey = "subject"
)

// IPMiddleware extracts client IP and stores it in the context
func IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Gin's ClientIP() handles X-Forwarded-For and other headers
		c.Set(string(clientIPKey), c.ClientIP())
		c.Next()
	}
}

// SetIPContext returns a copy of ctx carrying the client IP
func SetIPContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// GetIPFromContext extracts the client IP address from the context
func GetIPFromContext(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		return ginCtx.ClientIP()
	}

	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}

	return ""
}

// SetSubjectContext returns a copy of ctx carrying the authenticated subject
func SetSubjectContext(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SetGinSubject stores the authenticated subject on a gin request context
func SetGinSubject(c *gin.Context, subject string) {
	c.Set(string(subjectKey), subject)
}

// GetSubjectFromContext returns the authenticated subject, if any
func GetSubjectFromContext(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if v, exists := ginCtx.Get(string(subjectKey)); exists {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}

	if s, ok := ctx.Value(subjectKey).(string); ok {
		return s
	}

	return ""
}
