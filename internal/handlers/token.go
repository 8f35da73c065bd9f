package handlers

import (
	"net/http"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/oautherr"
	"github.com/koskedk/dwh-identity/internal/services"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/gin-gonic/gin"
)

var errClientAuthRequired = oautherr.New(oautherr.InvalidClient, "client authentication required")

// TokenHandler serves the token, revocation and introspection endpoints
type TokenHandler struct {
	tokenService *services.TokenService
}

func NewTokenHandler(ts *services.TokenService) *TokenHandler {
	return &TokenHandler{tokenService: ts}
}

// Token handles POST /connect/token for the authorization_code,
// refresh_token and client_credentials grants
func (h *TokenHandler) Token(c *gin.Context) {
	client, ok := h.authenticate(c)
	if !ok {
		return
	}

	var (
		resp *services.TokenResponse
		err  error
	)
	switch c.PostForm("grant_type") {
	case models.GrantTypeAuthorizationCode:
		code := c.PostForm("code")
		if code == "" {
			invalidRequest(c, "code is required")
			return
		}
		resp, err = h.tokenService.ExchangeCode(c, client,
			code, c.PostForm("redirect_uri"), c.PostForm("code_verifier"))

	case models.GrantTypeRefreshToken:
		refreshToken := c.PostForm("refresh_token")
		if refreshToken == "" {
			invalidRequest(c, "refresh_token is required")
			return
		}
		resp, err = h.tokenService.Refresh(c, client, refreshToken, util.ParseScopes(c.PostForm("scope")))

	case models.GrantTypeClientCredentials:
		resp, err = h.tokenService.ClientCredentials(c, client, util.ParseScopes(c.PostForm("scope")))

	case "":
		invalidRequest(c, "grant_type is required")
		return

	default:
		oauthError(c, oautherr.New(oautherr.UnsupportedGrantType,
			"supported grant types: authorization_code, refresh_token, client_credentials"))
		return
	}

	if err != nil {
		oauthError(c, err)
		return
	}
	noStore(c)
	c.JSON(http.StatusOK, resp)
}

// Revoke handles POST /connect/revocation (RFC 7009). Unknown tokens still
// get 200 so the endpoint cannot be used to probe for valid tokens.
func (h *TokenHandler) Revoke(c *gin.Context) {
	client, ok := h.authenticate(c)
	if !ok {
		return
	}

	value := c.PostForm("token")
	if value == "" {
		invalidRequest(c, "token is required")
		return
	}

	if err := h.tokenService.Revoke(c, client, value, c.PostForm("token_type_hint")); err != nil {
		oauthError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Introspect handles POST /connect/introspect (RFC 7662). Only confidential
// clients may introspect.
func (h *TokenHandler) Introspect(c *gin.Context) {
	client, ok := h.authenticate(c)
	if !ok {
		return
	}
	if client.IsPublic() {
		oauthError(c, services.ErrInvalidClientCredentials)
		return
	}

	value := c.PostForm("token")
	if value == "" {
		invalidRequest(c, "token is required")
		return
	}

	noStore(c)
	c.JSON(http.StatusOK, h.tokenService.Introspect(c, client, value))
}

func (h *TokenHandler) authenticate(c *gin.Context) (*models.Client, bool) {
	id, secret, ok := clientCredentials(c)
	if !ok {
		oauthError(c, errClientAuthRequired)
		return nil, false
	}
	client, err := h.tokenService.AuthenticateClient(c, id, secret)
	if err != nil {
		oauthError(c, err)
		return nil, false
	}
	return client, true
}
