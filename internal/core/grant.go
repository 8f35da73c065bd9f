package core

import (
	"context"
	"errors"
	"time"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/google/uuid"
)

// Grant store errors. Backends wrap these with detail; match with errors.Is.
var (
	ErrGrantNotFound   = errors.New("grant not found")
	ErrGrantExpired    = errors.New("grant expired")
	ErrAlreadyConsumed = errors.New("grant already consumed")
	ErrGrantRevoked    = errors.New("grant revoked")
	ErrReplayDetected  = errors.New("grant replay detected")
)

// CreateGrantParams carries everything a new grant records.
type CreateGrantParams struct {
	Kind                models.GrantKind
	Subject             string
	ClientID            string
	Scopes              []string
	RedirectURI         string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	AuthTime            *time.Time
	// FamilyID links descendants of one authorization; empty starts a new family.
	FamilyID string
	ParentID string
	TTL      time.Duration
}

// GrantStore persists authorization codes and refresh tokens.
// Redeem is the only concurrency-critical operation: for any handle, at most
// one call ever succeeds.
type GrantStore interface {
	// CreateGrant stores a new grant and returns it with its plaintext handle.
	CreateGrant(ctx context.Context, params CreateGrantParams) (*models.Grant, string, error)

	// Peek looks up a grant by handle without consuming it.
	Peek(ctx context.Context, handle string, kind models.GrantKind) (*models.Grant, error)

	// Redeem atomically consumes a grant.
	// Returns ErrGrantNotFound, ErrGrantExpired, ErrGrantRevoked or ErrAlreadyConsumed.
	Redeem(ctx context.Context, handle string, kind models.GrantKind) (*models.Grant, error)

	// Revoke marks a single grant revoked. Unknown handles are not an error.
	Revoke(ctx context.Context, handle string) error

	// RevokeFamily revokes every grant sharing familyID and returns the count.
	RevokeFamily(ctx context.Context, familyID string) (int64, error)

	// FamilyRevoked reports whether any grant of the family was revoked.
	// Bearer checks use it to reject access tokens after a replay cascade.
	FamilyRevoked(ctx context.Context, familyID string) (bool, error)

	// RevokeAllForSubjectAndClient revokes every live grant of subject for client.
	RevokeAllForSubjectAndClient(ctx context.Context, subject, clientID string) (int64, error)

	// SweepExpired deletes grants that expired before the given time.
	SweepExpired(ctx context.Context, before time.Time) (int64, error)
}

// NewGrant builds the record for a freshly issued handle. Only the SHA-256
// of the handle is kept.
func NewGrant(params CreateGrantParams, handle string, now time.Time) *models.Grant {
	familyID := params.FamilyID
	if familyID == "" {
		familyID = uuid.New().String()
	}
	hash := util.SHA256Hex(handle)

	return &models.Grant{
		ID:                  uuid.New().String(),
		HandleHash:          hash,
		HandlePrefix:        hash[:8],
		Kind:                params.Kind,
		Subject:             params.Subject,
		ClientID:            params.ClientID,
		Scopes:              models.StringArray(params.Scopes),
		RedirectURI:         params.RedirectURI,
		Nonce:               params.Nonce,
		AuthTime:            params.AuthTime,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		FamilyID:            familyID,
		ParentID:            params.ParentID,
		CreatedAt:           now,
		ExpiresAt:           now.Add(params.TTL),
	}
}

// CheckRedeemable reports why a grant can't be redeemed at now, or nil
func CheckRedeemable(grant *models.Grant, now time.Time) error {
	switch {
	case grant.IsRevoked():
		return ErrGrantRevoked
	case grant.IsConsumed():
		return ErrAlreadyConsumed
	case grant.IsExpired(now):
		return ErrGrantExpired
	}
	return nil
}
