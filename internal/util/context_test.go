package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSetIPContext(t *testing.T) {
	tests := []struct {
		name string
		ip   string
	}{
		{name: "Valid IP", ip: "192.168.1.1"},
		{name: "IPv6", ip: "2001:db8::1"},
		{name: "Empty IP", ip: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := SetIPContext(context.Background(), tt.ip)
			assert.Equal(t, tt.ip, GetIPFromContext(ctx))
		})
	}
}

func TestGetIPFromContext_Empty(t *testing.T) {
	assert.Empty(t, GetIPFromContext(context.Background()))
}

func TestGetIPFromContext_Gin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.7:5555"

	assert.Equal(t, "10.0.0.7", GetIPFromContext(c))
}

func TestSubjectContext(t *testing.T) {
	ctx := SetSubjectContext(context.Background(), "user-1")
	assert.Equal(t, "user-1", GetSubjectFromContext(ctx))
	assert.Empty(t, GetSubjectFromContext(context.Background()))

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set("subject", "user-2")
	assert.Equal(t, "user-2", GetSubjectFromContext(c))
}
