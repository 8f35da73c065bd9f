package core

import (
	"context"
	"errors"
)

// ErrClaimsUnavailable aborts token issuance; no partial token is produced.
var ErrClaimsUnavailable = errors.New("claims unavailable")

// ClaimsProvider supplies per-subject claims for the granted scopes.
// Output must be deterministic for a subject and scope set at a point in time.
type ClaimsProvider interface {
	GetClaims(ctx context.Context, subject string, scopes []string) (map[string]any, error)
	Name() string
}
