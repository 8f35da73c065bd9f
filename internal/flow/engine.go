// Package flow implements the authorization endpoint as an explicit state
// machine:
//
//	Received → ClientValidated → ScopesValidated → AwaitingAuthentication
//	→ AuthenticationComplete → ConsentEvaluated → GrantIssued
//
// with Rejected reachable from every non-terminal state. The only suspension
// is at AwaitingAuthentication (and, when consent is needed, after
// AuthenticationComplete). While suspended the full request travels in an
// HS256 request token, so nothing is pinned to a server-side session and the
// grant store stays the only durable state.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/oautherr"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/store"
	"github.com/koskedk/dwh-identity/internal/token"
	"github.com/koskedk/dwh-identity/internal/util"
)

// Authorization request rejections
var (
	ErrUnsupportedResponseType = oautherr.New(oautherr.UnsupportedResponseType, "response_type is not supported")
	ErrUnauthorizedClient      = oautherr.New(oautherr.UnauthorizedClient, "client is not allowed to use this response_type")
	ErrInvalidResponseMode     = oautherr.New(oautherr.InvalidRequest, "response_mode is not allowed for this response_type")
	ErrOpenIDRequired          = oautherr.New(oautherr.InvalidScope, "openid scope is required when an id_token is returned")
	ErrNonceRequired           = oautherr.New(oautherr.InvalidRequest, "nonce is required when an id_token is returned")
	ErrPKCERequired            = oautherr.New(oautherr.InvalidRequest, "code_challenge is required for this client")
	ErrInvalidCodeChallenge    = oautherr.New(oautherr.InvalidRequest, "code_challenge or code_challenge_method is invalid")
	ErrLoginRequired           = oautherr.New(oautherr.LoginRequired, "the user is not authenticated")
	ErrAccessDenied            = oautherr.New(oautherr.AccessDenied, "the user denied the request")
	ErrConsentRequired         = oautherr.New(oautherr.ConsentRequired, "the user has not consented to this client")
)

// ConsentStore reads and records consent decisions
type ConsentStore interface {
	GetConsent(ctx context.Context, subject, clientID string) (*models.Consent, error)
	SaveConsent(ctx context.Context, consent *models.Consent) error
}

// Config holds the engine settings
type Config struct {
	Issuer     string
	Secret     []byte
	RequestTTL time.Duration
	CodeTTL    time.Duration
}

// Engine evaluates authorization requests
type Engine struct {
	registry   *registry.Registry
	grants     core.GrantStore
	consents   ConsentStore
	tokens     *token.Issuer
	issuer     string
	secret     []byte
	requestTTL time.Duration
	codeTTL    time.Duration
	now        func() time.Time
	metrics    core.Recorder
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRecorder records authorization metrics
func WithRecorder(r core.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

func NewEngine(
	reg *registry.Registry,
	grants core.GrantStore,
	consents ConsentStore,
	tokens *token.Issuer,
	cfg Config,
	opts ...Option,
) *Engine {
	e := &Engine{
		registry:   reg,
		grants:     grants,
		consents:   consents,
		tokens:     tokens,
		issuer:     cfg.Issuer,
		secret:     cfg.Secret,
		requestTTL: cfg.RequestTTL,
		codeTTL:    cfg.CodeTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Begin validates a new authorization request and suspends it pending
// authentication. Rejections before the redirect URI is trusted carry no
// RedirectURL; the caller must show the error itself.
func (e *Engine) Begin(ctx context.Context, req Request) (*Result, error) {
	if req.IssuedAt.IsZero() {
		req.IssuedAt = e.now()
	}
	res := newResult(&req, StateReceived)

	client, err := e.validateClient(ctx, &req)
	if err != nil {
		return e.fail(res, err, false)
	}
	res.Client = client
	res.advance(StateClientValidated)

	granted, err := e.validateRequest(client, &req)
	if err != nil {
		return e.fail(res, err, true)
	}
	res.GrantedScopes = granted
	res.advance(StateScopesValidated)

	if req.CodeChallenge != "" && req.CodeChallengeMethod == "" {
		req.CodeChallengeMethod = ChallengeMethodPlain
	}

	res.RequestToken, err = e.signRequest(&req, "", nil)
	if err != nil {
		return e.fail(res, err, true)
	}
	res.advance(StateAwaitingAuthentication)
	e.recordOutcome(&req, "suspended")
	return res, nil
}

// Resume continues a suspended request for an authenticated subject. The
// client is resolved again since it may have changed while suspended. If
// consent is needed the result stays at AuthenticationComplete with
// ConsentRequired set and a new request token bound to the subject.
func (e *Engine) Resume(ctx context.Context, requestToken, subject string, authTime time.Time) (*Result, error) {
	claims, err := e.parseRequest(requestToken)
	if err != nil {
		return e.fail(newResult(nil, StateAwaitingAuthentication), err, false)
	}
	req := claims.Request
	res := newResult(&req, StateAwaitingAuthentication)

	if err := e.revalidate(ctx, res); err != nil {
		return res, err
	}
	if subject == "" {
		return e.fail(res, ErrLoginRequired, true)
	}
	res.Subject = subject
	res.advance(StateAuthenticationComplete)

	if authTime.IsZero() {
		authTime = e.now()
	}

	needed, err := e.consentNeeded(ctx, res.Client, subject, res.GrantedScopes)
	if err != nil {
		return e.fail(res, err, true)
	}
	if needed {
		res.RequestToken, err = e.signRequest(&req, subject, &authTime)
		if err != nil {
			return e.fail(res, err, true)
		}
		res.ConsentRequired = true
		e.recordOutcome(&req, "consent_required")
		return res, nil
	}

	res.advance(StateConsentEvaluated)
	return e.issue(ctx, res, &authTime)
}

// Consent applies the subject's decision to a request waiting on consent.
// scopes narrows the granted set; empty keeps it whole. openid is kept
// whenever it was granted.
func (e *Engine) Consent(
	ctx context.Context,
	requestToken, subject string,
	approved bool,
	scopes []string,
) (*Result, error) {
	claims, err := e.parseRequest(requestToken)
	if err == nil && (claims.Subject == "" || claims.Subject != subject) {
		err = fmt.Errorf("%w: subject mismatch", ErrInvalidRequestToken)
	}
	if err != nil {
		return e.fail(newResult(nil, StateAuthenticationComplete), err, false)
	}
	req := claims.Request
	res := newResult(&req, StateAuthenticationComplete)

	if err := e.revalidate(ctx, res); err != nil {
		return res, err
	}
	res.Subject = subject

	if !approved {
		e.recordConsent(false)
		return e.fail(res, ErrAccessDenied, true)
	}

	narrowed := narrowScopes(res.GrantedScopes, scopes)
	if len(narrowed) == 0 {
		e.recordConsent(false)
		return e.fail(res, ErrAccessDenied, true)
	}

	err = e.consents.SaveConsent(ctx, &models.Consent{
		Subject:  subject,
		ClientID: res.Client.ClientID,
		Scopes:   models.StringArray(narrowed),
	})
	if err != nil {
		return e.fail(res, fmt.Errorf("failed to save consent: %w", err), true)
	}
	e.recordConsent(true)

	res.GrantedScopes = narrowed
	res.advance(StateConsentEvaluated)
	return e.issue(ctx, res, claims.authTime())
}

// Pending validates a request token waiting on consent and returns the
// request with its client and granted scopes, for the consent screen. The
// token is not reissued.
func (e *Engine) Pending(ctx context.Context, requestToken, subject string) (*Result, error) {
	claims, err := e.parseRequest(requestToken)
	if err == nil && (claims.Subject == "" || claims.Subject != subject) {
		err = fmt.Errorf("%w: subject mismatch", ErrInvalidRequestToken)
	}
	if err != nil {
		return newResult(nil, StateAuthenticationComplete), err
	}
	req := claims.Request
	res := newResult(&req, StateAuthenticationComplete)
	if err := e.revalidate(ctx, res); err != nil {
		return res, err
	}
	res.Subject = subject
	res.RequestToken = requestToken
	res.ConsentRequired = true
	return res, nil
}

// Reject ends a suspended flow with err. The error is redirected when the
// result carries a validated client.
func (e *Engine) Reject(res *Result, err error) (*Result, error) {
	return e.fail(res, err, res.Client != nil)
}

// revalidate repeats client and request validation for a resumed flow
// without recording the states again
func (e *Engine) revalidate(ctx context.Context, res *Result) error {
	client, err := e.validateClient(ctx, res.Request)
	if err != nil {
		_, err = e.fail(res, err, false)
		return err
	}
	res.Client = client

	granted, err := e.validateRequest(client, res.Request)
	if err != nil {
		_, err = e.fail(res, err, true)
		return err
	}
	res.GrantedScopes = granted
	return nil
}

func (e *Engine) validateClient(ctx context.Context, req *Request) (*models.Client, error) {
	client, err := e.registry.ResolveClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !e.registry.ValidateRedirectURI(client, req.RedirectURI) {
		return nil, fmt.Errorf("%w: %q", registry.ErrInvalidRedirectURI, req.RedirectURI)
	}
	return client, nil
}

func (e *Engine) validateRequest(client *models.Client, req *Request) ([]string, error) {
	rt, ok := parseResponseType(req.ResponseType)
	if !ok {
		return nil, ErrUnsupportedResponseType
	}
	if !rt.allowedFor(client) {
		return nil, ErrUnauthorizedClient
	}
	if _, ok := rt.responseMode(req.ResponseMode); !ok {
		return nil, ErrInvalidResponseMode
	}

	granted, err := e.registry.ValidateScopes(client, req.Scopes, e.registry.Mode())
	if err != nil {
		return nil, err
	}

	if rt.idToken {
		if !slices.Contains(granted, models.ScopeOpenID) {
			return nil, ErrOpenIDRequired
		}
		if req.Nonce == "" {
			return nil, ErrNonceRequired
		}
	}

	if rt.code {
		if req.CodeChallenge == "" {
			if client.RequirePKCE {
				return nil, ErrPKCERequired
			}
		} else {
			method := req.CodeChallengeMethod
			if method == "" {
				method = ChallengeMethodPlain
			}
			if !validChallengeMethod(method) || !ValidChallenge(req.CodeChallenge) {
				return nil, ErrInvalidCodeChallenge
			}
		}
	}
	return granted, nil
}

func (e *Engine) consentNeeded(ctx context.Context, client *models.Client, subject string, scopes []string) (bool, error) {
	if !client.RequireConsent {
		return false, nil
	}

	consent, err := e.consents.GetConsent(ctx, subject, client.ClientID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load consent: %w", err)
	}
	return !consent.Covers(scopes), nil
}

// issue creates the grant and builds the authorization response
func (e *Engine) issue(ctx context.Context, res *Result, authTime *time.Time) (*Result, error) {
	req := res.Request
	client := res.Client
	rt, _ := parseResponseType(req.ResponseType)
	mode, _ := rt.responseMode(req.ResponseMode)

	params := url.Values{}
	var (
		code     string
		familyID string
	)

	if rt.code {
		grant, handle, err := e.grants.CreateGrant(ctx, core.CreateGrantParams{
			Kind:                models.GrantKindAuthorizationCode,
			Subject:             res.Subject,
			ClientID:            client.ClientID,
			Scopes:              res.GrantedScopes,
			RedirectURI:         req.RedirectURI,
			Nonce:               req.Nonce,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			AuthTime:            authTime,
			TTL:                 e.codeTTL,
		})
		if err != nil {
			return e.fail(res, fmt.Errorf("failed to create authorization code: %w", err), true)
		}
		code = handle
		familyID = grant.FamilyID
		res.GrantID = grant.ID
		params.Set("code", handle)
	}

	if rt.token || rt.idToken {
		set, err := e.tokens.IssueTokens(ctx, token.IssueParams{
			Client:          client,
			GrantType:       rt.grantType(),
			Subject:         res.Subject,
			Scopes:          res.GrantedScopes,
			FamilyID:        familyID,
			IDToken:         rt.idToken,
			Nonce:           req.Nonce,
			AuthTime:        authTime,
			Code:            code,
			SkipAccessToken: !rt.token,
		})
		if err != nil {
			if code != "" {
				if revokeErr := e.grants.Revoke(ctx, code); revokeErr != nil {
					log.Printf("[Flow] Failed to revoke orphaned code for client %s: %v", client.ClientID, revokeErr)
				}
			}
			return e.fail(res, err, true)
		}
		if rt.token {
			params.Set("access_token", set.AccessToken)
			params.Set("token_type", set.TokenType)
			params.Set("expires_in", strconv.FormatInt(set.ExpiresIn, 10))
			params.Set("scope", util.JoinScopes(set.Scopes))
		}
		if rt.idToken {
			params.Set("id_token", set.IDToken)
		}
	}

	if req.State != "" {
		params.Set("state", req.State)
	}

	redirect, err := buildRedirect(req.RedirectURI, mode, params)
	if err != nil {
		return e.fail(res, fmt.Errorf("failed to build redirect: %w", err), false)
	}
	res.RedirectURL = redirect
	res.advance(StateGrantIssued)
	e.recordOutcome(req, "granted")
	return res, nil
}

// fail rejects the flow. trusted means the redirect URI has been validated
// against the client registration and may receive the error.
func (e *Engine) fail(res *Result, err error, trusted bool) (*Result, error) {
	if trusted && res.Request != nil {
		res.RedirectURL = errorRedirect(res.Request, errorMode(res.Request), err)
	}
	if oautherr.IsServerError(err) {
		log.Printf("[Flow] Authorization request failed at %s: %v", res.State, err)
	}
	if res.Request != nil {
		e.recordOutcome(res.Request, "rejected")
	}
	return res.reject(err)
}

func errorMode(req *Request) string {
	rt, ok := parseResponseType(req.ResponseType)
	if !ok {
		return ResponseModeQuery
	}
	if mode, ok := rt.responseMode(req.ResponseMode); ok {
		return mode
	}
	return rt.defaultMode()
}

func narrowScopes(granted, approved []string) []string {
	if len(approved) == 0 {
		return slices.Clone(granted)
	}
	out := make([]string, 0, len(granted))
	for _, s := range granted {
		if s == models.ScopeOpenID || slices.Contains(approved, s) {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) recordOutcome(req *Request, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordAuthorizationRequest(req.ResponseType, outcome)
	}
}

func (e *Engine) recordConsent(approved bool) {
	if e.metrics != nil {
		e.metrics.RecordConsentDecision(approved)
	}
}
