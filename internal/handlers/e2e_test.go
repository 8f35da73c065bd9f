package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestAuthorizationCodeFlowWithOAuth2Client drives the whole code + PKCE
// flow with golang.org/x/oauth2 as the relying party and a cookie-jar client
// standing in for the browser
func TestAuthorizationCodeFlowWithOAuth2Client(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	conf := &oauth2.Config{
		ClientID:     "web",
		ClientSecret: webSecret,
		RedirectURL:  webRedirect,
		Scopes:       []string{"openid", "profile", "email", "offline_access"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + PathAuthorize,
			TokenURL:  srv.URL + PathToken,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	verifier := oauth2.GenerateVerifier()
	resp, err := browser.Get(conf.AuthCodeURL("state-1", oauth2.S256ChallengeOption(verifier)))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	requestToken := redirectParam(t, resp.Header.Get("Location"), "request_token")

	// The login screen picks up the CSRF token before posting credentials
	resp, err = browser.Get(srv.URL + PathAuthorize + "/login")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	csrfToken := resp.Header.Get(middleware.CSRFHeader)
	require.NotEmpty(t, csrfToken)

	postFlow := func(path string, form url.Values) flowResponse {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(middleware.CSRFHeader, csrfToken)
		resp, err := browser.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out flowResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	pending := postFlow(PathAuthorize+"/login", url.Values{
		"request_token": {requestToken},
		"username":      {"jane"},
		"password":      {testPassword},
	})
	require.True(t, pending.ConsentRequired)

	done := postFlow(PathAuthorize+"/consent", url.Values{
		"request_token": {pending.RequestToken},
		"approved":      {"true"},
		"scope":         {"openid email offline_access"},
	})
	assert.Equal(t, "state-1", redirectParam(t, done.RedirectURL, "state"))
	code := redirectParam(t, done.RedirectURL, "code")

	_, err = conf.Exchange(ctx, code)
	require.Error(t, err, "exchange without the PKCE verifier must fail")

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	require.NotEmpty(t, tok.RefreshToken)
	assert.Equal(t, "openid email offline_access", tok.Extra("scope"))

	rawID, ok := tok.Extra("id_token").(string)
	require.True(t, ok)
	idClaims, err := env.verifier.Verify(ctx, rawID, token.VerifyOptions{Use: token.TypeIDToken})
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, idClaims.Subject)
	assert.True(t, slices.Contains(idClaims.Audience, "web"))

	resp, err = conf.Client(ctx, tok).Get(srv.URL + PathUserInfo)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, env.user.ID, info["sub"])
	assert.Equal(t, env.user.Email, info["email"])
	assert.NotContains(t, info, "name", "profile scope was not approved")

	expired := *tok
	expired.Expiry = time.Now().Add(-time.Minute)
	fresh, err := conf.TokenSource(ctx, &expired).Token()
	require.NoError(t, err)
	assert.NotEqual(t, tok.AccessToken, fresh.AccessToken)
	assert.NotEqual(t, tok.RefreshToken, fresh.RefreshToken)
}
