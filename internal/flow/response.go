package flow

import (
	"net/url"
	"strings"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/oautherr"
)

// Response modes (OAuth 2.0 Multiple Response Type Encoding Practices)
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
)

// responseType is a parsed response_type; any non-empty combination of
// code, token and id_token is valid
type responseType struct {
	code    bool
	token   bool
	idToken bool
}

func parseResponseType(s string) (responseType, bool) {
	var rt responseType
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return rt, false
	}
	for _, f := range fields {
		switch f {
		case "code":
			if rt.code {
				return rt, false
			}
			rt.code = true
		case "token":
			if rt.token {
				return rt, false
			}
			rt.token = true
		case "id_token":
			if rt.idToken {
				return rt, false
			}
			rt.idToken = true
		default:
			return rt, false
		}
	}
	return rt, true
}

// grantType is the grant type recorded for issuance metrics and audit
func (rt responseType) grantType() string {
	switch {
	case rt.code && (rt.token || rt.idToken):
		return models.GrantTypeHybrid
	case rt.code:
		return models.GrantTypeAuthorizationCode
	}
	return models.GrantTypeImplicit
}

func (rt responseType) allowedFor(client *models.Client) bool {
	switch rt.grantType() {
	case models.GrantTypeAuthorizationCode:
		return client.AllowsGrantType(models.GrantTypeAuthorizationCode) ||
			client.AllowsGrantType(models.GrantTypeHybrid)
	case models.GrantTypeHybrid:
		return client.AllowsGrantType(models.GrantTypeHybrid)
	}
	return client.AllowsGrantType(models.GrantTypeImplicit)
}

// onlyCode reports whether nothing but a code is returned from the
// authorization endpoint
func (rt responseType) onlyCode() bool {
	return rt.code && !rt.token && !rt.idToken
}

func (rt responseType) defaultMode() string {
	if rt.onlyCode() {
		return ResponseModeQuery
	}
	return ResponseModeFragment
}

// responseMode resolves the mode, refusing tokens in the query string
func (rt responseType) responseMode(requested string) (string, bool) {
	switch requested {
	case "":
		return rt.defaultMode(), true
	case ResponseModeFragment:
		return requested, true
	case ResponseModeQuery:
		return requested, rt.onlyCode()
	}
	return "", false
}

// buildRedirect appends params to redirectURI in the query or the fragment
func buildRedirect(redirectURI, mode string, params url.Values) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""

	if mode == ResponseModeQuery {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return u.String() + "#" + params.Encode(), nil
}

// errorRedirect builds the error response for a trusted redirect URI
func errorRedirect(req *Request, mode string, err error) string {
	oe := oautherr.From(err)
	params := url.Values{}
	params.Set("error", oe.Code)
	if oe.Description != "" {
		params.Set("error_description", oe.Description)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}

	redirect, buildErr := buildRedirect(req.RedirectURI, mode, params)
	if buildErr != nil {
		return ""
	}
	return redirect
}
