// Package registry resolves OAuth clients and validates authorization
// requests against their registration. Lookups are read-only during a flow.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/koskedk/dwh-identity/internal/cache"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"
)

var (
	ErrUnknownClient      = errors.New("unknown client")
	ErrInvalidRedirectURI = errors.New("invalid redirect uri")
	ErrScopeNotAllowed    = errors.New("scope not allowed")
	ErrUnknownScope       = errors.New("unknown scope")
	ErrInvalidClient      = errors.New("invalid client registration")
)

// ScopeMode controls what ValidateScopes does with disallowed scopes
type ScopeMode string

const (
	// ScopeModeStrict rejects the request if any scope is not allowed
	ScopeModeStrict ScopeMode = "strict"
	// ScopeModeBestEffort drops disallowed scopes and fails only if none remain
	ScopeModeBestEffort ScopeMode = "best_effort"
)

const clientKeyPrefix = "client:"

// Registry is the materialized view of clients and scopes
type Registry struct {
	store    *store.Store
	cache    core.Cache[models.Client]
	cacheTTL time.Duration
	mode     ScopeMode
}

// New creates a registry. A nil cache disables caching.
func New(s *store.Store, c core.Cache[models.Client], cacheTTL time.Duration, mode ScopeMode) *Registry {
	if mode == "" {
		mode = ScopeModeStrict
	}
	return &Registry{
		store:    s,
		cache:    c,
		cacheTTL: cacheTTL,
		mode:     mode,
	}
}

// Mode returns the configured scope validation mode
func (r *Registry) Mode() ScopeMode {
	return r.mode
}

// ResolveClient returns an active client by id. The result is a copy.
func (r *Registry) ResolveClient(ctx context.Context, clientID string) (*models.Client, error) {
	if clientID == "" {
		return nil, ErrUnknownClient
	}

	var (
		client models.Client
		err    error
	)
	if r.cache != nil {
		client, err = r.cache.GetWithFetch(ctx, clientKeyPrefix+clientID, r.cacheTTL, r.fetchClient)
		if errors.Is(err, cache.ErrCacheUnavailable) {
			log.Printf("[Registry] Cache unavailable, reading client %s from store: %v", clientID, err)
			client, err = r.fetchClient(ctx, clientKeyPrefix+clientID)
		}
	} else {
		client, err = r.fetchClient(ctx, clientKeyPrefix+clientID)
	}
	if err != nil {
		return nil, err
	}

	if !client.IsActive {
		return nil, ErrUnknownClient
	}
	return client.Clone(), nil
}

func (r *Registry) fetchClient(ctx context.Context, key string) (models.Client, error) {
	clientID := key[len(clientKeyPrefix):]
	client, err := r.store.GetClient(ctx, clientID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return models.Client{}, fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if err != nil {
		return models.Client{}, err
	}
	return *client, nil
}

// ValidateRedirectURI reports whether uri exactly matches a registered redirect URI
func (r *Registry) ValidateRedirectURI(client *models.Client, uri string) bool {
	return uri != "" && slices.Contains(client.RedirectURIs, uri)
}

// ValidatePostLogoutRedirectURI reports whether uri exactly matches a registered post-logout URI
func (r *Registry) ValidatePostLogoutRedirectURI(client *models.Client, uri string) bool {
	return uri != "" && slices.Contains(client.PostLogoutRedirectURIs, uri)
}

// ValidateScopes returns the granted subset of requested in request order.
// offline_access is allowed only for clients with AllowOfflineAccess.
func (r *Registry) ValidateScopes(client *models.Client, requested []string, mode ScopeMode) ([]string, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: no scope requested", ErrScopeNotAllowed)
	}

	granted := make([]string, 0, len(requested))
	for _, scope := range requested {
		if scopeAllowed(client, scope) {
			if !slices.Contains(granted, scope) {
				granted = append(granted, scope)
			}
			continue
		}
		if mode != ScopeModeBestEffort {
			return nil, fmt.Errorf("%w: %s", ErrScopeNotAllowed, scope)
		}
	}

	if len(granted) == 0 {
		return nil, fmt.Errorf("%w: none of the requested scopes are allowed", ErrScopeNotAllowed)
	}
	return granted, nil
}

func scopeAllowed(client *models.Client, scope string) bool {
	if scope == models.ScopeOfflineAccess {
		return client.AllowOfflineAccess
	}
	return client.Scopes.Contains(scope)
}

// RegisterScope adds a scope definition
func (r *Registry) RegisterScope(ctx context.Context, scope *models.Scope) error {
	if scope.Name == "" {
		return fmt.Errorf("%w: scope name is required", ErrUnknownScope)
	}
	if scope.DisplayName == "" {
		scope.DisplayName = scope.Name
	}
	return r.store.CreateScope(ctx, scope)
}

// ListScopes returns every registered scope
func (r *Registry) ListScopes(ctx context.Context) ([]models.Scope, error) {
	return r.store.ListScopes(ctx)
}

// RegisterClient validates and stores a new client. Every scope it names must exist.
func (r *Registry) RegisterClient(ctx context.Context, client *models.Client) error {
	if err := r.validateClient(ctx, client); err != nil {
		return err
	}
	return r.store.CreateClient(ctx, client)
}

// UpdateClient replaces a client registration and invalidates the cache entry.
// Flows already past client resolution keep the copy they resolved.
func (r *Registry) UpdateClient(ctx context.Context, client *models.Client) error {
	if err := r.validateClient(ctx, client); err != nil {
		return err
	}

	existing, err := r.store.GetClient(ctx, client.ClientID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownClient, client.ClientID)
	}
	if err != nil {
		return err
	}
	client.ID = existing.ID
	client.CreatedAt = existing.CreatedAt
	if client.ClientSecretHash == "" {
		client.ClientSecretHash = existing.ClientSecretHash
	}

	if err := r.store.UpdateClient(ctx, client); err != nil {
		return err
	}
	r.invalidate(ctx, client.ClientID)
	return nil
}

// GetClient returns a registration by id whether or not it is active.
// It bypasses the cache.
func (r *Registry) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	client, err := r.fetchClient(ctx, clientKeyPrefix+clientID)
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// ListClients returns every client registration
func (r *Registry) ListClients(ctx context.Context) ([]models.Client, error) {
	return r.store.ListClients(ctx)
}

func (r *Registry) invalidate(ctx context.Context, clientID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, clientKeyPrefix+clientID); err != nil {
		log.Printf("[Registry] Failed to invalidate cached client %s: %v", clientID, err)
	}
}

func (r *Registry) validateClient(ctx context.Context, client *models.Client) error {
	if client.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidClient)
	}
	if client.AccessTokenLifetime <= 0 {
		return fmt.Errorf("%w: access token lifetime must be positive", ErrInvalidClient)
	}
	if len(client.GrantTypes) == 0 {
		return fmt.Errorf("%w: at least one grant type is required", ErrInvalidClient)
	}
	for _, gt := range client.GrantTypes {
		if !validGrantType(gt) {
			return fmt.Errorf("%w: unsupported grant type %q", ErrInvalidClient, gt)
		}
	}
	if client.RequireSecret && client.ClientSecretHash == "" {
		return fmt.Errorf("%w: confidential client needs a secret", ErrInvalidClient)
	}

	known, err := r.store.GetScopesByNames(ctx, client.Scopes)
	if err != nil {
		return err
	}
	for _, name := range client.Scopes {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownScope, name)
		}
	}
	return nil
}

func validGrantType(gt string) bool {
	switch gt {
	case models.GrantTypeAuthorizationCode,
		models.GrantTypeImplicit,
		models.GrantTypeHybrid,
		models.GrantTypeClientCredentials,
		models.GrantTypeRefreshToken:
		return true
	}
	return false
}
