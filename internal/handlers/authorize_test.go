package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/koskedk/dwh-identity/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authorizeURL(extra url.Values) string {
	q := url.Values{
		"client_id":     {"web"},
		"redirect_uri":  {webRedirect},
		"response_type": {"code"},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
	}
	for k, v := range extra {
		q[k] = v
	}
	return PathAuthorize + "?" + q.Encode()
}

func decodeFlow(t *testing.T, w *httptest.ResponseRecorder) flowResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp flowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAuthorizeRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	w := env.get(authorizeURL(nil))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "portal.example.org", loc.Host)
	assert.Equal(t, "/account/login", loc.Path)
	assert.NotEmpty(t, loc.Query().Get("request_token"))
}

func TestAuthorizeRejectsUntrustedRequests(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	tests := []struct {
		name  string
		extra url.Values
		code  string
	}{
		{"unknown client", url.Values{"client_id": {"ghost"}}, "invalid_client"},
		{"unregistered redirect", url.Values{"redirect_uri": {"https://evil/cb"}}, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.get(authorizeURL(tt.extra))
			assert.NotEqual(t, http.StatusFound, w.Code)
			assert.Empty(t, w.Header().Get("Location"))
			assert.Equal(t, tt.code, decodeError(t, w))
		})
	}
}

func TestAuthorizeErrorsAreRedirected(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	t.Run("scope not allowed", func(t *testing.T) {
		w := env.get(authorizeURL(url.Values{"scope": {"openid api"}}))
		require.Equal(t, http.StatusFound, w.Code)
		loc := w.Header().Get("Location")
		assert.True(t, strings.HasPrefix(loc, webRedirect), loc)
		assert.Equal(t, "invalid_scope", redirectParam(t, loc, "error"))
		assert.Equal(t, "xyz", redirectParam(t, loc, "state"))
	})

	t.Run("prompt none without session", func(t *testing.T) {
		w := env.get(authorizeURL(url.Values{"prompt": {"none"}}))
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "login_required", redirectParam(t, w.Header().Get("Location"), "error"))
	})

	t.Run("prompt none without consent", func(t *testing.T) {
		session := env.login(t, "jane")
		w := env.get(authorizeURL(url.Values{"prompt": {"none"}}), session)
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "consent_required", redirectParam(t, w.Header().Get("Location"), "error"))
	})
}

func TestAuthorizeLoginAndConsent(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	w := env.get(authorizeURL(nil))
	require.Equal(t, http.StatusFound, w.Code)
	requestToken := redirectParam(t, w.Header().Get("Location"), "request_token")

	w = env.postLogin(t, url.Values{
		"request_token": {requestToken},
		"username":      {"jane"},
		"password":      {testPassword},
	})
	pending := decodeFlow(t, w)
	session := sessionCookie(t, w)
	assert.True(t, pending.ConsentRequired)
	assert.Equal(t, "web", pending.ClientID)
	assert.Equal(t, "Web Portal", pending.ClientName)
	assert.Equal(t, []string{"openid", "profile"}, pending.Scopes)
	require.NotEmpty(t, pending.RequestToken)

	info := decodeFlow(t, env.get(PathAuthorize+"/consent?request_token="+url.QueryEscape(pending.RequestToken), session))
	assert.True(t, info.ConsentRequired)
	assert.Equal(t, pending.Scopes, info.Scopes)

	t.Run("consent token is bound to the subject", func(t *testing.T) {
		other := env.login(t, "steward")
		w := env.get(PathAuthorize+"/consent?request_token="+url.QueryEscape(pending.RequestToken), other)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decodeError(t, w))
	})

	done := decodeFlow(t, env.postForm(PathAuthorize+"/consent", url.Values{
		"request_token": {pending.RequestToken},
		"approved":      {"true"},
	}, session))
	assert.True(t, strings.HasPrefix(done.RedirectURL, webRedirect), done.RedirectURL)
	code := redirectParam(t, done.RedirectURL, "code")
	assert.Equal(t, "xyz", redirectParam(t, done.RedirectURL, "state"))
	assert.NotEmpty(t, exchangeCode(t, env, code, "").IDToken)

	t.Run("remembered consent skips the screen", func(t *testing.T) {
		w := env.get(authorizeURL(nil), session)
		require.Equal(t, http.StatusFound, w.Code)
		assert.NotEmpty(t, redirectParam(t, w.Header().Get("Location"), "code"))
	})

	t.Run("prompt login forces the login screen", func(t *testing.T) {
		w := env.get(authorizeURL(url.Values{"prompt": {"login"}}), session)
		require.Equal(t, http.StatusFound, w.Code)
		assert.True(t, strings.HasPrefix(w.Header().Get("Location"), testLoginURL))
	})
}

func TestAuthorizeConsentDenied(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	session := env.login(t, "jane")

	w := env.get(authorizeURL(nil), session)
	require.Equal(t, http.StatusFound, w.Code)
	loc := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, testConsentURL), loc)

	done := decodeFlow(t, env.postForm(PathAuthorize+"/consent", url.Values{
		"request_token": {redirectParam(t, loc, "request_token")},
		"approved":      {"false"},
	}, session))
	assert.Equal(t, "access_denied", redirectParam(t, done.RedirectURL, "error"))
}

func TestAuthorizeLoginErrors(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	t.Run("wrong password", func(t *testing.T) {
		w := env.postLogin(t, url.Values{"username": {"jane"}, "password": {"nope"}})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_credentials", decodeError(t, w))
	})

	t.Run("missing fields", func(t *testing.T) {
		w := env.postLoginJSON(t, `{"username":"jane"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tampered request token", func(t *testing.T) {
		w := env.postLogin(t, url.Values{
			"request_token": {"eyJhbGciOiJIUzI1NiJ9.e30.bad"},
			"username":      {"jane"},
			"password":      {testPassword},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decodeError(t, w))
	})

	t.Run("consent requires a session", func(t *testing.T) {
		w := env.postForm(PathAuthorize+"/consent", url.Values{"request_token": {"x"}, "approved": {"true"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "login_required", decodeError(t, w))
	})

	t.Run("json login without request token", func(t *testing.T) {
		w := env.postLoginJSON(t,
			`{"username":"jane@example.org","password":"`+testPassword+`"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), env.user.ID)
	})
}

func TestLoginRequiresCSRFToken(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	form := url.Values{"username": {"jane"}, "password": {testPassword}}

	t.Run("no session", func(t *testing.T) {
		w := env.postForm(PathAuthorize+"/login", form)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "csrf_failed", decodeError(t, w))
	})

	t.Run("session without header", func(t *testing.T) {
		cookie, _ := env.loginCSRF(t)
		w := env.postForm(PathAuthorize+"/login", form, cookie)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("token from another session", func(t *testing.T) {
		cookie, _ := env.loginCSRF(t)
		_, foreign := env.loginCSRF(t)
		req := httptest.NewRequest(http.MethodPost, PathAuthorize+"/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(middleware.CSRFHeader, foreign)
		w := env.do(req, cookie)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("login endpoint hands out the token", func(t *testing.T) {
		w := env.get(PathAuthorize + "/login")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			CSRFToken string `json:"csrf_token"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, w.Header().Get(middleware.CSRFHeader), body.CSRFToken)
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	})
}

func TestAuthorizeMaxAge(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	session := env.login(t, "jane")

	t.Run("recent session continues", func(t *testing.T) {
		w := env.get(authorizeURL(url.Values{"max_age": {"3600"}}), session)
		require.Equal(t, http.StatusFound, w.Code)
		loc := w.Header().Get("Location")
		assert.True(t, strings.HasPrefix(loc, testConsentURL), loc)
	})

	t.Run("zero forces the login screen", func(t *testing.T) {
		w := env.get(authorizeURL(url.Values{"max_age": {"0"}}), session)
		require.Equal(t, http.StatusFound, w.Code)
		loc := w.Header().Get("Location")
		assert.True(t, strings.HasPrefix(loc, testLoginURL), loc)
		assert.NotEmpty(t, redirectParam(t, loc, "request_token"))
	})

	t.Run("stale session with prompt none", func(t *testing.T) {
		w := env.get(authorizeURL(url.Values{"max_age": {"0"}, "prompt": {"none"}}), session)
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "login_required", redirectParam(t, w.Header().Get("Location"), "error"))
	})

	t.Run("malformed value is redirected as an error", func(t *testing.T) {
		for _, v := range []string{"soon", "-5"} {
			w := env.get(authorizeURL(url.Values{"max_age": {v}}), session)
			require.Equal(t, http.StatusFound, w.Code, v)
			loc := w.Header().Get("Location")
			assert.True(t, strings.HasPrefix(loc, webRedirect), loc)
			assert.Equal(t, "invalid_request", redirectParam(t, loc, "error"))
			assert.Equal(t, "xyz", redirectParam(t, loc, "state"))
		}
	})
}

func TestMaxAgeExceeded(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		raw      string
		authTime time.Time
		want     bool
		wantErr  bool
	}{
		{name: "absent", raw: "", authTime: now, want: false},
		{name: "inside window", raw: "60", authTime: now.Add(-30 * time.Second), want: false},
		{name: "outside window", raw: "60", authTime: now.Add(-2 * time.Minute), want: true},
		{name: "zero", raw: "0", authTime: now, want: true},
		{name: "unknown auth time", raw: "60", want: true},
		{name: "negative", raw: "-1", authTime: now, wantErr: true},
		{name: "not a number", raw: "1h", authTime: now, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := maxAgeExceeded(tt.raw, tt.authTime)
			if tt.wantErr {
				assert.ErrorIs(t, err, errInvalidMaxAge)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
