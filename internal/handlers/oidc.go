package handlers

import (
	"log"
	"net/http"
	"net/url"
	"slices"

	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/services"
	"github.com/koskedk/dwh-identity/internal/token"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Endpoint paths, relative to the issuer
const (
	PathAuthorize  = "/connect/authorize"
	PathToken      = "/connect/token"
	PathUserInfo   = "/connect/userinfo"
	PathRevocation = "/connect/revocation"
	PathIntrospect = "/connect/introspect"
	PathEndSession = "/connect/endsession"
	PathJWKS       = "/.well-known/jwks"
)

// OIDCHandler serves discovery, JWKS, UserInfo and RP-initiated logout
type OIDCHandler struct {
	issuer       string
	registry     *registry.Registry
	keys         *keys.Manager
	verifier     *token.Verifier
	tokenService *services.TokenService
	auditService *services.AuditService
}

func NewOIDCHandler(
	issuer string,
	reg *registry.Registry,
	km *keys.Manager,
	verifier *token.Verifier,
	ts *services.TokenService,
	auditService *services.AuditService,
) *OIDCHandler {
	return &OIDCHandler{
		issuer:       issuer,
		registry:     reg,
		keys:         km,
		verifier:     verifier,
		tokenService: ts,
		auditService: auditService,
	}
}

// discoveryMetadata is the OpenID Provider Metadata (OIDC Discovery 1.0 section 3)
type discoveryMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// Discovery handles GET /.well-known/openid-configuration
func (h *OIDCHandler) Discovery(c *gin.Context) {
	scopes, err := h.registry.ListScopes(c)
	if err != nil {
		log.Printf("[OIDC] Failed to list scopes: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	scopeNames := make([]string, 0, len(scopes))
	claims := []string{"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce"}
	for _, s := range scopes {
		scopeNames = append(scopeNames, s.Name)
		claims = appendMissing(claims, s.Claims...)
	}

	c.JSON(http.StatusOK, discoveryMetadata{
		Issuer:                h.issuer,
		AuthorizationEndpoint: h.issuer + PathAuthorize,
		TokenEndpoint:         h.issuer + PathToken,
		UserinfoEndpoint:      h.issuer + PathUserInfo,
		JWKSURI:               h.issuer + PathJWKS,
		RevocationEndpoint:    h.issuer + PathRevocation,
		IntrospectionEndpoint: h.issuer + PathIntrospect,
		EndSessionEndpoint:    h.issuer + PathEndSession,
		ScopesSupported:       scopeNames,
		ClaimsSupported:       claims,
		ResponseTypesSupported: []string{
			"code",
			"token",
			"id_token",
			"id_token token",
			"code id_token",
			"code token",
			"code id_token token",
		},
		ResponseModesSupported: []string{"query", "fragment"},
		GrantTypesSupported: []string{
			models.GrantTypeAuthorizationCode,
			models.GrantTypeImplicit,
			models.GrantTypeRefreshToken,
			models.GrantTypeClientCredentials,
		},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{keys.AlgRS256, keys.AlgES256},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
			"client_secret_post",
			"none",
		},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
	})
}

// JWKS handles GET /.well-known/jwks. Retired keys stay listed until their
// retire window ends so tokens they signed still verify.
func (h *OIDCHandler) JWKS(c *gin.Context) {
	set, err := h.keys.JWKS()
	if err != nil {
		log.Printf("[OIDC] Failed to build JWKS: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, set)
}

// UserInfo handles GET and POST /connect/userinfo (OIDC Core section 5.3).
// The access token comes from the Authorization header or, for POST, the
// access_token form field.
func (h *OIDCHandler) UserInfo(c *gin.Context) {
	raw, ok := middleware.BearerToken(c)
	if !ok && c.Request.Method == http.MethodPost {
		raw = c.PostForm("access_token")
		ok = raw != ""
	}
	if !ok {
		c.Header("WWW-Authenticate", `Bearer realm="dwh-identity"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "bearer token required",
		})
		return
	}

	claims, err := h.tokenService.UserInfo(c, raw)
	if err != nil {
		bearerError(c, err)
		return
	}
	noStore(c)
	c.JSON(http.StatusOK, claims)
}

// EndSession handles GET /connect/endsession (OIDC RP-Initiated Logout).
// The session is always cleared. The user agent is redirected only to a
// post_logout_redirect_uri registered for the client named by client_id or
// by the audience of a valid id_token_hint.
func (h *OIDCHandler) EndSession(c *gin.Context) {
	session := sessions.Default(c)
	subject, _ := session.Get(middleware.SessionUserID).(string)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		log.Printf("[OIDC] Failed to clear session: %v", err)
	}

	if subject != "" {
		h.auditService.Log(c, services.AuditLogEntry{
			EventType:     models.EventLogout,
			Severity:      models.SeverityInfo,
			ActorUserID:   subject,
			ResourceType:  models.ResourceUser,
			ResourceID:    subject,
			Action:        "User signed out",
			Success:       true,
			UserAgent:     c.Request.UserAgent(),
			RequestPath:   c.Request.URL.Path,
			RequestMethod: c.Request.Method,
		})
	}

	redirectURI := c.Query("post_logout_redirect_uri")
	if redirectURI == "" {
		c.JSON(http.StatusOK, gin.H{"signed_out": true})
		return
	}

	clientID := c.Query("client_id")
	if hint := c.Query("id_token_hint"); hint != "" {
		idClaims, err := h.verifier.Verify(c, hint, token.VerifyOptions{Use: token.TypeIDToken})
		switch {
		case err != nil:
			log.Printf("[OIDC] Ignoring invalid id_token_hint: %v", err)
		case clientID != "" && !slices.Contains(idClaims.Audience, clientID):
			invalidRequest(c, "client_id does not match id_token_hint")
			return
		case clientID == "" && len(idClaims.Audience) > 0:
			clientID = idClaims.Audience[0]
		}
	}
	if clientID == "" {
		invalidRequest(c, "client_id or id_token_hint is required with post_logout_redirect_uri")
		return
	}

	client, err := h.registry.ResolveClient(c, clientID)
	if err != nil {
		oauthError(c, err)
		return
	}
	if !h.registry.ValidatePostLogoutRedirectURI(client, redirectURI) {
		invalidRequest(c, "post_logout_redirect_uri is not registered for this client")
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		invalidRequest(c, "post_logout_redirect_uri is malformed")
		return
	}
	if state := c.Query("state"); state != "" {
		q := target.Query()
		q.Set("state", state)
		target.RawQuery = q.Encode()
	}
	c.Redirect(http.StatusFound, target.String())
}

func appendMissing(list []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}
