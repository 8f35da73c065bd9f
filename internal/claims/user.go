// Package claims supplies per-subject claims to the token issuer, either from
// the local user store or from an external claims API.
package claims

import (
	"context"
	"fmt"
	"slices"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
)

var _ core.ClaimsProvider = (*UserProvider)(nil)

// UserStore is the user lookup the local provider reads from
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// UserProvider releases claims from the portal user record
type UserProvider struct {
	users UserStore
}

func NewUserProvider(users UserStore) *UserProvider {
	return &UserProvider{users: users}
}

func (p *UserProvider) Name() string {
	return "local"
}

// GetClaims maps granted scopes to user attributes. Empty attributes are
// left out.
func (p *UserProvider) GetClaims(ctx context.Context, subject string, scopes []string) (map[string]any, error) {
	user, err := p.users.GetUserByID(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", core.ErrClaimsUnavailable, subject, err)
	}

	out := make(map[string]any)
	if slices.Contains(scopes, models.ScopeProfile) {
		setString(out, "name", user.Username)
		setString(out, "full_name", user.FullName)
		setString(out, "organization_id", user.OrganizationID)
		setString(out, "designation", user.Designation)
		out["user_type"] = user.UserType.String()
	}
	if slices.Contains(scopes, models.ScopeEmail) {
		setString(out, "email", user.Email)
		out["email_verified"] = user.EmailConfirmed
	}
	if slices.Contains(scopes, models.ScopePhone) {
		setString(out, "phone_number", user.PhoneNumber)
	}
	return out, nil
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
