package handlers

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStewardActions(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	pending := env.register(t, "amina@example.org", "+254700000001")
	steward := env.login(t, "steward")

	t.Run("normal users are refused", func(t *testing.T) {
		w := env.sendJSON(http.MethodPost, "/api/users/"+pending.ID+"/confirm", "", env.login(t, "jane"))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("anonymous is refused", func(t *testing.T) {
		w := env.sendJSON(http.MethodPost, "/api/users/"+pending.ID+"/confirm", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	w := env.get("/api/users?user_confirmed=0", steward)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), pending.ID)

	w = env.sendJSON(http.MethodPost, "/api/users/"+pending.ID+"/confirm", "", steward)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		User models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.UserConfirmed, resp.User.UserConfirmed)
	assert.Equal(t, models.UserTypeNormal, resp.User.UserType)

	env.notifier.mu.Lock()
	var confirmed int
	for _, m := range env.notifier.msgs {
		if m.Kind == core.NotifyAccountConfirmed {
			confirmed++
		}
	}
	env.notifier.mu.Unlock()
	assert.Equal(t, 1, confirmed)

	w = env.sendJSON(http.MethodPost, "/api/users/"+pending.ID+"/make-steward", "", steward)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.get("/api/users/stewards/"+env.org.ID, steward)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), pending.ID)

	w = env.sendJSON(http.MethodPost, "/api/users/"+env.admin.ID+"/deny", "", steward)
	assert.Equal(t, http.StatusForbidden, w.Code, "stewards cannot manage admins")

	w = env.sendJSON(http.MethodPost, "/api/users/missing/deny", "", steward)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeniedUserLosesSession(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	session := env.login(t, "jane")
	require.Equal(t, http.StatusOK, env.get("/account/me", session).Code)

	w := env.sendJSON(http.MethodPost, "/api/users/"+env.user.ID+"/deny", "", env.login(t, "admin"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, env.get("/account/me", session).Code)
}

func TestOrganizationsAPI(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	admin := env.login(t, "admin")

	w := env.get("/api/organizations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MOH")

	w = env.sendJSON(http.MethodPost, "/api/organizations", `{"name":"Kenya Medical Research Institute","code":"kemri"}`, env.login(t, "steward"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.sendJSON(http.MethodPost, "/api/organizations", `{"name":"Kenya Medical Research Institute","code":"kemri"}`, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Organization models.Organization `json:"organization"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "KEMRI", created.Organization.Code)

	w = env.sendJSON(http.MethodPost, "/api/organizations", `{"name":"Another","code":"KEMRI"}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code)

	id := created.Organization.ID
	w = env.sendJSON(http.MethodPut, "/api/organizations/"+id, `{"name":"KEMRI HQ","code":"KEMRI"}`, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, env.get("/api/organizations/"+id).Body.String(), "KEMRI HQ")

	w = env.sendJSON(http.MethodDelete, "/api/organizations/"+env.org.ID, "", admin)
	assert.Equal(t, http.StatusConflict, w.Code, "organizations with members cannot be deleted")

	w = env.sendJSON(http.MethodDelete, "/api/organizations/"+id, "", admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/organizations/"+id).Code)
}

func TestUserByIDAPI(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	steward := env.login(t, "steward")
	path := "/api/users/" + env.user.ID

	w := env.get(path, steward)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), env.user.Email)

	assert.Equal(t, http.StatusForbidden, env.get(path, env.login(t, "jane")).Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/users/missing", steward).Code)

	body := `{"email":"jane.doe@example.org","full_name":"Jane Doe","phone_number":"+254722000000",` +
		`"organization_id":"` + env.org.ID + `","designation":"HRIO"}`
	w = env.sendJSON(http.MethodPut, path, body, steward)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		User models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "jane.doe@example.org", resp.User.Email)
	assert.Equal(t, "jane", resp.User.Username, "a username that was not the email is kept")
	assert.Equal(t, "HRIO", resp.User.Designation)

	taken := `{"email":"` + env.steward.Email + `","full_name":"Jane Doe","phone_number":"+254722000000",` +
		`"organization_id":"` + env.org.ID + `"}`
	w = env.sendJSON(http.MethodPut, path, taken, steward)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.sendJSON(http.MethodPut, path, `{"email":"bad"}`, steward)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.sendJSON(http.MethodPut, "/api/users/"+env.admin.ID, body, steward)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteUserRevokesTokens(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	session := env.login(t, "jane")
	code := env.issueCode(t, env.user.ID, []string{"openid", "offline_access"}, "")
	tokens := exchangeCode(t, env, code, "")

	w := env.sendJSON(http.MethodDelete, "/api/users/"+env.user.ID, "", env.login(t, "steward"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		GrantsRevoked int64 `json:"grants_revoked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Positive(t, resp.GrantsRevoked)

	w = env.do(tokenRequest(url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
	}, "web", webSecret))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", decodeError(t, w))

	assert.Equal(t, http.StatusUnauthorized, env.get("/account/me", session).Code)
	assert.Equal(t, http.StatusNotFound,
		env.sendJSON(http.MethodDelete, "/api/users/"+env.user.ID, "", env.login(t, "admin")).Code)
}

func TestOrganizationContactsAPI(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	admin := env.login(t, "admin")
	steward := env.login(t, "steward")
	base := "/api/organizations/" + env.org.ID + "/contacts"

	w := env.sendJSON(http.MethodPost, base, `{"names":"Jane Wanjiru","email":"jane.w@example.org","point_person":true}`, steward)
	assert.Equal(t, http.StatusForbidden, w.Code, "contacts are edited by admins")

	w = env.sendJSON(http.MethodPost, base, `{"names":"Jane Wanjiru","email":"jane.w@example.org","point_person":true}`, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Contact models.OrganizationContact `json:"contact"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Contact.PointPerson)

	w = env.sendJSON(http.MethodPost, base, `{"names":""}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.get(base, steward)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Jane Wanjiru")
	assert.Equal(t, http.StatusUnauthorized, env.get(base).Code)

	item := base + "/" + created.Contact.ID
	w = env.sendJSON(http.MethodPut, item, `{"names":"Jane W. Wanjiru","mobile":"+254733000000"}`, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Jane W. Wanjiru")

	assert.Equal(t, http.StatusNoContent, env.sendJSON(http.MethodDelete, item, "", admin).Code)
	assert.Equal(t, http.StatusNotFound, env.sendJSON(http.MethodDelete, item, "", admin).Code)
}

func TestClientsAPI(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	admin := env.login(t, "admin")

	w := env.sendJSON(http.MethodPost, "/api/clients", `{
		"name": "Reporting Dashboard",
		"grant_types": ["authorization_code", "refresh_token"],
		"redirect_uris": ["https://dash.example.org/callback"],
		"scopes": ["openid", "profile"],
		"confidential": true
	}`, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	secret, _ := created["client_secret"].(string)
	assert.True(t, strings.HasPrefix(secret, "dwh_"), "secret is returned once")

	w = env.get("/api/clients", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Reporting Dashboard")

	w = env.get("/api/scopes", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "offline_access")

	w = env.get("/api/clients", env.login(t, "steward"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.sendJSON(http.MethodPost, "/api/clients", `{"name":"Bad","grant_types":["authorization_code"],"redirect_uris":["not a uri"]}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.sendJSON(http.MethodPost, "/api/clients/web/secret", "", admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rotated struct {
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))

	_, err := env.tokens.AuthenticateClient(t.Context(), "web", webSecret)
	assert.Error(t, err, "old secret stops working")
	_, err = env.tokens.AuthenticateClient(t.Context(), "web", rotated.ClientSecret)
	assert.NoError(t, err)
}

func TestAuditAPI(t *testing.T) {
	env := newTestEnv(t, testIssuer)
	admin := env.login(t, "admin")
	env.login(t, "jane")

	var body struct {
		Logs []models.AuditLog `json:"logs"`
	}
	require.Eventually(t, func() bool {
		w := env.get("/api/audit/logs?event_type=AUTHENTICATION_SUCCESS", admin)
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &body) != nil {
			return false
		}
		return len(body.Logs) >= 2
	}, 5*time.Second, 50*time.Millisecond)
	for _, entry := range body.Logs {
		assert.Equal(t, models.EventAuthenticationSuccess, entry.EventType)
	}

	w := env.get("/api/audit/export?event_type=AUTHENTICATION_SUCCESS", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, "Event Time", rows[0][0])

	assert.Equal(t, http.StatusForbidden, env.get("/api/audit/logs", env.login(t, "steward")).Code)
}
