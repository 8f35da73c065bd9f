package handlers

import (
	"errors"
	"log"
	"net/http"
	"net/url"

	"github.com/koskedk/dwh-identity/internal/flow"
	"github.com/koskedk/dwh-identity/internal/oautherr"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/services"
	"github.com/koskedk/dwh-identity/internal/store"

	"github.com/gin-gonic/gin"
)

var errInvalidRequestToken = oautherr.New(oautherr.InvalidRequest, "request_token is invalid or expired")

// oauthError writes an RFC 6749 section 5.2 error body. Internal error text
// is logged, never returned.
func oauthError(c *gin.Context, err error) {
	if errors.Is(err, flow.ErrInvalidRequestToken) {
		err = errInvalidRequestToken
	}
	oe := oautherr.From(err)
	if oe.Code == oautherr.ServerError {
		log.Printf("[OAuth] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	if oe.Code == oautherr.InvalidClient {
		c.Header("WWW-Authenticate", `Basic realm="dwh-identity"`)
	}
	noStore(c)
	c.AbortWithStatusJSON(oe.Status, oe)
}

// bearerError writes an RFC 6750 error with its WWW-Authenticate challenge
func bearerError(c *gin.Context, err error) {
	oe := oautherr.From(err)
	if oe.Code == oautherr.ServerError {
		log.Printf("[OAuth] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		c.Header("WWW-Authenticate", `Bearer error="`+oe.Code+`"`)
	}
	c.AbortWithStatusJSON(oe.Status, oe)
}

func invalidRequest(c *gin.Context, description string) {
	oauthError(c, oautherr.New(oautherr.InvalidRequest, description))
}

// noStore marks a response that carries tokens or credentials
func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

// apiError maps service errors of the portal API to HTTP responses
func apiError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "server_error"
	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrOrganizationNotFound),
		errors.Is(err, services.ErrContactNotFound),
		errors.Is(err, services.ErrClientNotFound),
		errors.Is(err, store.ErrRecordNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrForbidden):
		status, code = http.StatusForbidden, "access_denied"
	case errors.Is(err, store.ErrEmailConflict),
		errors.Is(err, store.ErrPhoneConflict),
		errors.Is(err, store.ErrUsernameConflict),
		errors.Is(err, store.ErrClientIDConflict),
		errors.Is(err, store.ErrOrganizationCodeConflict),
		errors.Is(err, services.ErrOrganizationInUse):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrInvalidRegistration),
		errors.Is(err, services.ErrWeakPassword),
		errors.Is(err, services.ErrUnknownOrganization),
		errors.Is(err, services.ErrInvalidAccountToken),
		errors.Is(err, services.ErrInvalidOrganization),
		errors.Is(err, services.ErrInvalidUserUpdate),
		errors.Is(err, services.ErrInvalidContact),
		errors.Is(err, services.ErrClientNameRequired),
		errors.Is(err, services.ErrInvalidRedirectURI),
		errors.Is(err, registry.ErrInvalidClient),
		errors.Is(err, registry.ErrUnknownScope):
		status, code = http.StatusBadRequest, "invalid_request"
	}

	if status == http.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": err.Error()})
}

// clientCredentials reads client authentication from HTTP Basic
// (client_secret_basic, form-encoded per RFC 6749 section 2.3.1) or the
// request body (client_secret_post, or client_id alone for public clients)
func clientCredentials(c *gin.Context) (id, secret string, ok bool) {
	if user, pass, basic := c.Request.BasicAuth(); basic {
		var err error
		if id, err = url.QueryUnescape(user); err != nil {
			return "", "", false
		}
		if secret, err = url.QueryUnescape(pass); err != nil {
			return "", "", false
		}
		return id, secret, id != ""
	}
	id = c.PostForm("client_id")
	return id, c.PostForm("client_secret"), id != ""
}
