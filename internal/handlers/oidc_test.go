package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscovery(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	w := env.get("/.well-known/openid-configuration")
	require.Equal(t, http.StatusOK, w.Code)

	var meta discoveryMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, testIssuer, meta.Issuer)
	assert.Equal(t, testIssuer+"/connect/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, testIssuer+"/connect/token", meta.TokenEndpoint)
	assert.Equal(t, testIssuer+"/.well-known/jwks", meta.JWKSURI)
	assert.Equal(t, testIssuer+"/connect/endsession", meta.EndSessionEndpoint)
	assert.ElementsMatch(t, []string{"openid", "profile", "email", "offline_access", "api"}, meta.ScopesSupported)
	assert.Contains(t, meta.ClaimsSupported, "sub")
	assert.Contains(t, meta.ClaimsSupported, "email_verified")
	assert.Contains(t, meta.ResponseTypesSupported, "code id_token token")
	assert.Contains(t, meta.CodeChallengeMethodsSupported, "S256")
	assert.Contains(t, meta.IDTokenSigningAlgValuesSupported, "RS256")
}

func TestJWKS(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	w := env.get(PathJWKS)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=300", w.Header().Get("Cache-Control"))

	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "RSA", set.Keys[0]["kty"])
	assert.NotEmpty(t, set.Keys[0]["kid"])
	assert.NotContains(t, set.Keys[0], "d", "private key material must not be published")
}

func TestUserInfo(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	code := env.issueCode(t, env.user.ID, []string{"openid", "profile", "email"}, "")
	tokens := exchangeCode(t, env, code, "")

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, PathUserInfo, nil)
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		w := env.do(req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var claims map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claims))
		assert.Equal(t, env.user.ID, claims["sub"])
		assert.Equal(t, env.user.Email, claims["email"])
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	})

	t.Run("form field on POST", func(t *testing.T) {
		w := env.postForm(PathUserInfo, url.Values{"access_token": {tokens.AccessToken}})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := env.get(PathUserInfo)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("id token is not an access token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, PathUserInfo, nil)
		req.Header.Set("Authorization", "Bearer "+tokens.IDToken)
		w := env.do(req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
	})
}

func TestUserInfoRequiresOpenID(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	req := basicAuth(httptest.NewRequest(http.MethodPost, PathToken,
		strings.NewReader("grant_type=client_credentials&scope=api")), "svc", svcSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	req = httptest.NewRequest(http.MethodGet, PathUserInfo, nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	w = env.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "insufficient_scope")
}

func TestEndSession(t *testing.T) {
	env := newTestEnv(t, testIssuer)

	t.Run("clears session without redirect", func(t *testing.T) {
		session := env.login(t, "jane")
		w := env.get(PathEndSession, session)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"signed_out":true}`, w.Body.String())

		cleared := sessionCookie(t, w)
		assert.Equal(t, http.StatusUnauthorized, env.get("/account/me", cleared).Code)
	})

	t.Run("redirects to registered uri with state", func(t *testing.T) {
		q := url.Values{
			"client_id":                {"web"},
			"post_logout_redirect_uri": {webSignedOut},
			"state":                    {"bye"},
		}
		w := env.get(PathEndSession + "?" + q.Encode())
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, webSignedOut+"?state=bye", w.Header().Get("Location"))
	})

	t.Run("client from id_token_hint", func(t *testing.T) {
		code := env.issueCode(t, env.user.ID, []string{"openid"}, "")
		tokens := exchangeCode(t, env, code, "")
		q := url.Values{
			"id_token_hint":            {tokens.IDToken},
			"post_logout_redirect_uri": {webSignedOut},
		}
		w := env.get(PathEndSession + "?" + q.Encode())
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, webSignedOut, w.Header().Get("Location"))
	})

	t.Run("hint audience must match client_id", func(t *testing.T) {
		code := env.issueCode(t, env.user.ID, []string{"openid"}, "")
		tokens := exchangeCode(t, env, code, "")
		q := url.Values{
			"client_id":                {"spa"},
			"id_token_hint":            {tokens.IDToken},
			"post_logout_redirect_uri": {webSignedOut},
		}
		w := env.get(PathEndSession + "?" + q.Encode())
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid hint is ignored", func(t *testing.T) {
		q := url.Values{
			"id_token_hint":            {"not-a-jwt"},
			"post_logout_redirect_uri": {webSignedOut},
		}
		w := env.get(PathEndSession + "?" + q.Encode())
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "client_id or id_token_hint is required")
	})

	t.Run("unregistered uri", func(t *testing.T) {
		q := url.Values{
			"client_id":                {"web"},
			"post_logout_redirect_uri": {"https://evil.example/"},
		}
		w := env.get(PathEndSession + "?" + q.Encode())
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, w.Header().Get("Location"))
	})
}
