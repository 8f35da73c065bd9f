package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koskedk/dwh-identity/internal/claims"
	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/flow"
	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/services"
	"github.com/koskedk/dwh-identity/internal/store"
	"github.com/koskedk/dwh-identity/internal/token"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testIssuer     = "https://id.example.org"
	testPortal     = "https://portal.example.org"
	testPassword   = "secret123"
	webRedirect    = "https://web/cb"
	webSignedOut   = "https://web/signed-out"
	webSecret      = "web-secret"
	svcSecret      = "svc-secret"
	testLoginURL   = testPortal + "/account/login"
	testConsentURL = testPortal + "/account/consent"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordingNotifier keeps every message it is given
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg core.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

// lastToken returns the token in the callback URL of the newest message of
// the given kind
func (n *recordingNotifier) lastToken(t *testing.T, kind core.NotificationKind) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.msgs) - 1; i >= 0; i-- {
		if n.msgs[i].Kind != kind {
			continue
		}
		u, err := url.Parse(n.msgs[i].Data["callback_url"])
		require.NoError(t, err)
		return u.Query().Get("token")
	}
	t.Fatalf("no %s message sent", kind)
	return ""
}

type testEnv struct {
	store    *store.Store
	registry *registry.Registry
	keys     *keys.Manager
	verifier *token.Verifier
	engine   *flow.Engine
	tokens   *services.TokenService
	users    *services.UserService
	audit    *services.AuditService
	notifier *recordingNotifier
	router   *gin.Engine
	org      *models.Organization
	user     *models.User
	steward  *models.User
	admin    *models.User
}

// newTestEnv wires the services over an in-memory database and mounts every
// handler the way the server does, without the rate limiters
func newTestEnv(t *testing.T, issuer string) *testEnv {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.New(s, nil, 0, registry.ScopeModeStrict)
	require.NoError(t, reg.RegisterScope(ctx, &models.Scope{Name: models.ScopeOpenID, Required: true}))
	require.NoError(t, reg.RegisterScope(ctx, &models.Scope{
		Name:   models.ScopeProfile,
		Claims: models.StringArray{"name", "preferred_username"},
	}))
	require.NoError(t, reg.RegisterScope(ctx, &models.Scope{
		Name:   models.ScopeEmail,
		Claims: models.StringArray{"email", "email_verified"},
	}))
	require.NoError(t, reg.RegisterScope(ctx, &models.Scope{Name: models.ScopeOfflineAccess}))
	require.NoError(t, reg.RegisterScope(ctx, &models.Scope{Name: "api"}))

	web := &models.Client{
		ClientID:               "web",
		Name:                   "Web Portal",
		GrantTypes:             models.StringArray{models.GrantTypeAuthorizationCode, models.GrantTypeRefreshToken},
		RedirectURIs:           models.StringArray{webRedirect},
		PostLogoutRedirectURIs: models.StringArray{webSignedOut},
		Scopes:                 models.StringArray{"openid", "profile", "email", "offline_access"},
		RequireSecret:          true,
		RequireConsent:         true,
		AllowOfflineAccess:     true,
		AccessTokenLifetime:    3600,
		IsActive:               true,
	}
	require.NoError(t, web.SetClientSecret(webSecret))
	require.NoError(t, reg.RegisterClient(ctx, web))

	require.NoError(t, reg.RegisterClient(ctx, &models.Client{
		ClientID:            "spa",
		Name:                "SPA",
		GrantTypes:          models.StringArray{models.GrantTypeAuthorizationCode},
		RedirectURIs:        models.StringArray{"https://spa/cb"},
		Scopes:              models.StringArray{"openid", "profile"},
		RequirePKCE:         true,
		AccessTokenLifetime: 600,
		IsActive:            true,
	}))

	svc := &models.Client{
		ClientID:            "svc",
		Name:                "Service",
		GrantTypes:          models.StringArray{models.GrantTypeClientCredentials},
		Scopes:              models.StringArray{"api"},
		RequireSecret:       true,
		AccessTokenLifetime: 600,
		IsActive:            true,
	}
	require.NoError(t, svc.SetClientSecret(svcSecret))
	require.NoError(t, reg.RegisterClient(ctx, svc))

	km := keys.NewManager(time.Hour)
	key, err := keys.GenerateRSA()
	require.NoError(t, err)
	require.NoError(t, km.Rotate(key))

	audit := services.NewAuditService(s, true, 100)
	t.Cleanup(func() { _ = audit.Shutdown(context.Background()) })

	cfg := &config.Config{
		BaseURL:                issuer,
		PortalURL:              testPortal,
		AuthCodeExpiration:     5 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
		EnableRefreshTokens:    true,
		EnableTokenRotation:    true,
		AccountTokenTTL:        time.Hour,
	}

	notifier := &recordingNotifier{}
	users := services.NewUserService(s, s, notifier, audit, nil, nil, 0, testPortal)
	issuerSvc := token.NewIssuer(issuer, km, claims.NewUserProvider(users))
	verifier := token.NewVerifier(issuer, km)
	tokens := services.NewTokenService(reg, s, issuerSvc, verifier, claims.NewUserProvider(users), cfg, audit, nil)
	engine := flow.NewEngine(reg, s, s, issuerSvc, flow.Config{
		Issuer:     issuer,
		Secret:     []byte("request-token-secret-request-token"),
		RequestTTL: 10 * time.Minute,
		CodeTTL:    cfg.AuthCodeExpiration,
	})
	accounts := services.NewAccountService(s, users, notifier, audit, nil, cfg)
	consents := services.NewConsentService(s, s, audit)
	orgs := services.NewOrganizationService(s, audit)
	clients := services.NewClientService(reg, audit)

	env := &testEnv{
		store:    s,
		registry: reg,
		keys:     km,
		verifier: verifier,
		engine:   engine,
		tokens:   tokens,
		users:    users,
		audit:    audit,
		notifier: notifier,
	}
	env.org = &models.Organization{ID: uuid.New().String(), Name: "Ministry of Health", Code: "MOH"}
	require.NoError(t, s.CreateOrganization(ctx, env.org))
	env.user = env.makeUser(t, "jane", models.UserTypeNormal)
	env.steward = env.makeUser(t, "steward", models.UserTypeSteward)
	env.admin = env.makeUser(t, "admin", models.UserTypeAdmin)

	r := gin.New()
	r.ContextWithFallback = true
	r.Use(sessions.Sessions("dwh_session", cookie.NewStore([]byte("session-secret-session-secret-32"))))
	r.Use(util.IPMiddleware())

	oidc := NewOIDCHandler(issuer, reg, km, verifier, tokens, audit)
	tokenHandler := NewTokenHandler(tokens)
	authorize := NewAuthorizeHandler(engine, users, testLoginURL, testConsentURL)
	account := NewAccountHandler(accounts, consents)
	userHandler := NewUserHandler(users)
	orgHandler := NewOrganizationHandler(orgs)
	clientHandler := NewClientHandler(clients, reg)
	auditHandler := NewAuditHandler(audit)

	r.GET("/.well-known/openid-configuration", oidc.Discovery)
	r.GET(PathJWKS, oidc.JWKS)
	r.GET(PathAuthorize, authorize.Authorize)
	r.GET(PathAuthorize+"/login", middleware.CSRFMiddleware(), authorize.LoginToken)
	r.POST(PathAuthorize+"/login", middleware.CSRFMiddleware(), authorize.Login)
	r.GET(PathAuthorize+"/consent", authorize.ConsentInfo)
	r.POST(PathAuthorize+"/consent", authorize.Consent)
	r.POST(PathToken, tokenHandler.Token)
	r.POST(PathRevocation, tokenHandler.Revoke)
	r.POST(PathIntrospect, tokenHandler.Introspect)
	r.GET(PathUserInfo, oidc.UserInfo)
	r.POST(PathUserInfo, oidc.UserInfo)
	r.GET(PathEndSession, oidc.EndSession)

	r.POST("/account/register", account.Register)
	r.POST("/account/confirm-email", account.ConfirmEmail)
	r.POST("/account/forgot-password", account.ForgotPassword)
	r.POST("/account/reset-password", account.ResetPassword)
	r.GET("/api/organizations", orgHandler.List)
	r.GET("/api/organizations/:id", orgHandler.Get)

	authed := r.Group("", middleware.RequireAuth(users))
	authed.GET("/account/me", account.Me)
	authed.GET("/account/consents", account.ListConsents)
	authed.DELETE("/account/consents/:clientId", account.RevokeConsent)

	steward := authed.Group("/api", middleware.RequireSteward())
	steward.GET("/users/stewards/:orgId", userHandler.ListStewards)
	steward.GET("/users", userHandler.ListUsers)
	steward.POST("/users/:id/confirm", userHandler.Confirm)
	steward.POST("/users/:id/deny", userHandler.Deny)
	steward.POST("/users/:id/make-steward", userHandler.MakeSteward)
	steward.POST("/users/:id/make-user", userHandler.MakeUser)
	steward.GET("/users/:id", userHandler.Get)
	steward.PUT("/users/:id", userHandler.Update)
	steward.DELETE("/users/:id", userHandler.Delete)
	steward.GET("/organizations/:id/contacts", orgHandler.ListContacts)

	admin := authed.Group("/api", middleware.RequireAdmin())
	admin.POST("/organizations", orgHandler.Create)
	admin.PUT("/organizations/:id", orgHandler.Update)
	admin.DELETE("/organizations/:id", orgHandler.Delete)
	admin.POST("/organizations/:id/contacts", orgHandler.CreateContact)
	admin.PUT("/organizations/:id/contacts/:contactId", orgHandler.UpdateContact)
	admin.DELETE("/organizations/:id/contacts/:contactId", orgHandler.DeleteContact)
	admin.GET("/clients", clientHandler.List)
	admin.POST("/clients", clientHandler.Create)
	admin.GET("/clients/:clientId", clientHandler.Get)
	admin.PUT("/clients/:clientId", clientHandler.Update)
	admin.POST("/clients/:clientId/secret", clientHandler.RegenerateSecret)
	admin.GET("/scopes", clientHandler.ListScopes)
	admin.GET("/audit/logs", auditHandler.ListAuditLogs)
	admin.GET("/audit/export", auditHandler.ExportAuditLogs)

	env.router = r
	return env
}

func (e *testEnv) makeUser(t *testing.T, username string, userType models.UserType) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	id := uuid.New().String()
	u := &models.User{
		ID:             id,
		Username:       username,
		Email:          username + "@example.org",
		PhoneNumber:    "+2547" + id[:8],
		PasswordHash:   string(hash),
		FullName:       strings.ToUpper(username[:1]) + username[1:],
		UserType:       userType,
		UserConfirmed:  models.UserConfirmed,
		EmailConfirmed: true,
		OrganizationID: e.org.ID,
	}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

// do sends req through the router with the given cookies
func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil), cookies...)
}

func (e *testEnv) postForm(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req, cookies...)
}

func (e *testEnv) sendJSON(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, cookies...)
}

// loginCSRF fetches a fresh session and its CSRF token from the login
// endpoint, the way the login screen does before posting credentials
func (e *testEnv) loginCSRF(t *testing.T) (*http.Cookie, string) {
	t.Helper()
	w := e.get(PathAuthorize + "/login")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := w.Header().Get(middleware.CSRFHeader)
	require.NotEmpty(t, token)
	return sessionCookie(t, w), token
}

// postLogin posts a login form with a valid CSRF token
func (e *testEnv) postLogin(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	cookie, token := e.loginCSRF(t)
	req := httptest.NewRequest(http.MethodPost, PathAuthorize+"/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(middleware.CSRFHeader, token)
	return e.do(req, cookie)
}

// postLoginJSON posts a JSON login body with a valid CSRF token
func (e *testEnv) postLoginJSON(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	cookie, token := e.loginCSRF(t)
	req := httptest.NewRequest(http.MethodPost, PathAuthorize+"/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.CSRFHeader, token)
	return e.do(req, cookie)
}

// login signs the user in through the login endpoint and returns the
// session cookie
func (e *testEnv) login(t *testing.T, username string) *http.Cookie {
	t.Helper()
	w := e.postLogin(t, url.Values{
		"username": {username},
		"password": {testPassword},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return sessionCookie(t, w)
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "dwh_session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

// issueCode runs the authorization flow in-process for the web client,
// consenting when asked, and returns the authorization code
func (e *testEnv) issueCode(t *testing.T, subject string, scopes []string, challenge string) string {
	t.Helper()
	ctx := context.Background()
	req := flow.Request{
		ClientID:     "web",
		Scopes:       scopes,
		RedirectURI:  webRedirect,
		ResponseType: "code",
		State:        "xyz",
	}
	if challenge != "" {
		req.CodeChallenge = challenge
		req.CodeChallengeMethod = "S256"
	}
	res, err := e.engine.Begin(ctx, req)
	require.NoError(t, err)
	res, err = e.engine.Resume(ctx, res.RequestToken, subject, time.Now())
	require.NoError(t, err)
	if res.ConsentRequired {
		res, err = e.engine.Consent(ctx, res.RequestToken, subject, true, nil)
		require.NoError(t, err)
	}
	return redirectParam(t, res.RedirectURL, "code")
}

func redirectParam(t *testing.T, raw, name string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	v := u.Query().Get(name)
	require.NotEmpty(t, v, "missing %s in %s", name, raw)
	return v
}

func basicAuth(req *http.Request, id, secret string) *http.Request {
	req.SetBasicAuth(url.QueryEscape(id), url.QueryEscape(secret))
	return req
}
