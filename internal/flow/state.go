package flow

import (
	"time"

	"github.com/koskedk/dwh-identity/internal/models"
)

// State is a step of the authorization flow
type State string

const (
	StateReceived               State = "received"
	StateClientValidated        State = "client_validated"
	StateScopesValidated        State = "scopes_validated"
	StateAwaitingAuthentication State = "awaiting_authentication"
	StateAuthenticationComplete State = "authentication_complete"
	StateConsentEvaluated       State = "consent_evaluated"
	StateGrantIssued            State = "grant_issued"
	StateRejected               State = "rejected"
)

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateGrantIssued || s == StateRejected
}

// Request is an authorization request as received from the user agent.
// It travels inside the request token while the flow is suspended.
type Request struct {
	ClientID            string    `json:"client_id"`
	Scopes              []string  `json:"scopes"`
	RedirectURI         string    `json:"redirect_uri"`
	ResponseType        string    `json:"response_type"`
	ResponseMode        string    `json:"response_mode,omitempty"`
	State               string    `json:"state,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	IssuedAt            time.Time `json:"issued_at"`
}

// Result is the outcome of one engine call
type Result struct {
	State State
	// Trail lists every state visited during the call, in order
	Trail []State

	Request *Request
	Client  *models.Client
	// GrantedScopes is the validated scope set, in request order
	GrantedScopes []string

	// RequestToken resumes a suspended flow; set while awaiting
	// authentication or consent
	RequestToken    string
	ConsentRequired bool
	Subject         string

	// RedirectURL carries the authorization response, or the error once the
	// redirect URI is trusted
	RedirectURL string
	// GrantID is the authorization code grant created, if any
	GrantID string

	Err error
}

func newResult(req *Request, from State) *Result {
	return &Result{State: from, Trail: []State{from}, Request: req}
}

func (r *Result) advance(to State) {
	r.State = to
	r.Trail = append(r.Trail, to)
}

func (r *Result) reject(err error) (*Result, error) {
	r.advance(StateRejected)
	r.Err = err
	return r, err
}
