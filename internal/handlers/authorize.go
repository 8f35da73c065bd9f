package handlers

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/koskedk/dwh-identity/internal/flow"
	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/oautherr"
	"github.com/koskedk/dwh-identity/internal/services"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// OIDC prompt values
const (
	promptNone  = "none"
	promptLogin = "login"
)

var errInvalidMaxAge = oautherr.New(oautherr.InvalidRequest, "max_age must be a non-negative integer")

// AuthorizeHandler drives the authorization flow engine from HTTP. The
// login and consent screens live in the portal; they call the POST
// endpoints here with the request token they were redirected with.
type AuthorizeHandler struct {
	engine     *flow.Engine
	users      *services.UserService
	loginURL   string
	consentURL string
}

func NewAuthorizeHandler(engine *flow.Engine, users *services.UserService, loginURL, consentURL string) *AuthorizeHandler {
	return &AuthorizeHandler{
		engine:     engine,
		users:      users,
		loginURL:   loginURL,
		consentURL: consentURL,
	}
}

type loginRequest struct {
	RequestToken string `form:"request_token" json:"request_token"`
	Username     string `form:"username"      json:"username"      binding:"required"`
	Password     string `form:"password"      json:"password"      binding:"required"`
}

type consentRequest struct {
	RequestToken string `form:"request_token" json:"request_token" binding:"required"`
	Approved     bool   `form:"approved"      json:"approved"`
	// Scope optionally narrows the approved set, space separated
	Scope string `form:"scope" json:"scope"`
}

// flowResponse is returned to the portal by the login and consent endpoints
type flowResponse struct {
	RedirectURL     string   `json:"redirect_url,omitempty"`
	ConsentRequired bool     `json:"consent_required,omitempty"`
	RequestToken    string   `json:"request_token,omitempty"`
	ClientID        string   `json:"client_id,omitempty"`
	ClientName      string   `json:"client_name,omitempty"`
	Scopes          []string `json:"scopes,omitempty"`
}

// Authorize handles GET /connect/authorize. A request from a signed-in
// session continues straight to consent or issuance; otherwise the user
// agent is sent to the login screen with the request token.
func (h *AuthorizeHandler) Authorize(c *gin.Context) {
	res, err := h.engine.Begin(c, flow.Request{
		ClientID:            c.Query("client_id"),
		Scopes:              util.ParseScopes(c.Query("scope")),
		RedirectURI:         c.Query("redirect_uri"),
		ResponseType:        c.Query("response_type"),
		ResponseMode:        c.Query("response_mode"),
		State:               c.Query("state"),
		Nonce:               c.Query("nonce"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
	})
	if err != nil {
		h.redirectResult(c, res, err)
		return
	}

	prompt := c.Query("prompt")
	subject, authTime := sessionSubject(c)
	stale, err := maxAgeExceeded(c.Query("max_age"), authTime)
	if err != nil {
		res, err = h.engine.Reject(res, err)
		h.redirectResult(c, res, err)
		return
	}
	if subject == "" || prompt == promptLogin || stale {
		if prompt == promptNone {
			res, err = h.engine.Resume(c, res.RequestToken, "", time.Time{})
			h.redirectResult(c, res, err)
			return
		}
		c.Redirect(http.StatusFound, withRequestToken(h.loginURL, res.RequestToken))
		return
	}

	res, err = h.engine.Resume(c, res.RequestToken, subject, authTime)
	if err == nil && res.ConsentRequired && prompt == promptNone {
		res, err = h.engine.Reject(res, flow.ErrConsentRequired)
	}
	h.redirectResult(c, res, err)
}

// LoginToken handles GET /connect/authorize/login. The login screen calls
// it first: the CSRF token it returns must accompany the login POST.
func (h *AuthorizeHandler) LoginToken(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"csrf_token": middleware.GetCSRFToken(c)})
}

// Login handles POST /connect/authorize/login. It signs the user in and,
// when a request token is given, resumes the suspended flow.
func (h *AuthorizeHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		invalidRequest(c, "username and password are required")
		return
	}

	user, err := h.users.Authenticate(c, req.Username, req.Password)
	if err != nil {
		loginError(c, err)
		return
	}

	authTime := time.Now()
	session := sessions.Default(c)
	session.Set(middleware.SessionUserID, user.ID)
	session.Set(middleware.SessionAuthTime, authTime.Unix())
	if err := session.Save(); err != nil {
		log.Printf("[Authorize] Failed to save session: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	util.SetGinSubject(c, user.ID)

	if req.RequestToken == "" {
		c.JSON(http.StatusOK, gin.H{"user": user})
		return
	}

	res, err := h.engine.Resume(c, req.RequestToken, user.ID, authTime)
	h.jsonResult(c, res, err)
}

// ConsentInfo handles GET /connect/authorize/consent for the consent
// screen: the client and scopes a pending request asks for
func (h *AuthorizeHandler) ConsentInfo(c *gin.Context) {
	subject, _ := sessionSubject(c)
	if subject == "" {
		oauthError(c, flow.ErrLoginRequired)
		return
	}
	res, err := h.engine.Pending(c, c.Query("request_token"), subject)
	h.jsonResult(c, res, err)
}

// Consent handles POST /connect/authorize/consent
func (h *AuthorizeHandler) Consent(c *gin.Context) {
	subject, _ := sessionSubject(c)
	if subject == "" {
		oauthError(c, flow.ErrLoginRequired)
		return
	}

	var req consentRequest
	if err := c.ShouldBind(&req); err != nil {
		invalidRequest(c, "request_token is required")
		return
	}

	res, err := h.engine.Consent(c, req.RequestToken, subject, req.Approved, util.ParseScopes(req.Scope))
	h.jsonResult(c, res, err)
}

// redirectResult answers the user agent: a redirect once the redirect URI
// is trusted, the consent screen if consent is pending, a JSON error
// otherwise
func (h *AuthorizeHandler) redirectResult(c *gin.Context, res *flow.Result, err error) {
	switch {
	case err != nil && (res == nil || res.RedirectURL == ""):
		oauthError(c, err)
	case err == nil && res.ConsentRequired:
		c.Redirect(http.StatusFound, withRequestToken(h.consentURL, res.RequestToken))
	default:
		c.Redirect(http.StatusFound, res.RedirectURL)
	}
}

// jsonResult answers the portal: where to send the user agent next, or
// what to ask consent for
func (h *AuthorizeHandler) jsonResult(c *gin.Context, res *flow.Result, err error) {
	switch {
	case err != nil && (res == nil || res.RedirectURL == ""):
		oauthError(c, err)
	case err == nil && res.ConsentRequired:
		c.JSON(http.StatusOK, flowResponse{
			ConsentRequired: true,
			RequestToken:    res.RequestToken,
			ClientID:        res.Client.ClientID,
			ClientName:      res.Client.Name,
			Scopes:          res.GrantedScopes,
		})
	default:
		c.JSON(http.StatusOK, flowResponse{RedirectURL: res.RedirectURL})
	}
}

func loginError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "server_error"
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, services.ErrAccountDisabled):
		status, code = http.StatusForbidden, "account_disabled"
	case errors.Is(err, services.ErrEmailNotConfirmed):
		status, code = http.StatusForbidden, "email_not_confirmed"
	default:
		log.Printf("[Authorize] Login failed: %v", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

// maxAgeExceeded reports whether the session authenticated longer ago than
// the max_age request parameter allows. max_age=0 always re-authenticates.
func maxAgeExceeded(raw string, authTime time.Time) (bool, error) {
	if raw == "" {
		return false, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return false, errInvalidMaxAge
	}
	if secs == 0 || authTime.IsZero() {
		return true, nil
	}
	return time.Since(authTime) > time.Duration(secs)*time.Second, nil
}

// sessionSubject returns the signed-in user and when they authenticated
func sessionSubject(c *gin.Context) (string, time.Time) {
	session := sessions.Default(c)
	subject, _ := session.Get(middleware.SessionUserID).(string)
	if subject == "" {
		return "", time.Time{}
	}
	var authTime time.Time
	if ts, ok := session.Get(middleware.SessionAuthTime).(int64); ok {
		authTime = time.Unix(ts, 0)
	}
	return subject, authTime
}

func withRequestToken(base, requestToken string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("request_token", requestToken)
	u.RawQuery = q.Encode()
	return u.String()
}
