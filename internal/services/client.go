package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/registry"

	"github.com/google/uuid"
)

var (
	ErrClientNotFound     = errors.New("client not found")
	ErrClientNameRequired = errors.New("client name is required")
	ErrInvalidRedirectURI = errors.New("invalid redirect uri")
)

const defaultAccessTokenLifetime = 3600

// ClientService manages client registrations on behalf of portal admins.
// Validation of grant types and scopes is left to the registry.
type ClientService struct {
	registry     *registry.Registry
	auditService *AuditService
}

func NewClientService(reg *registry.Registry, auditService *AuditService) *ClientService {
	return &ClientService{registry: reg, auditService: auditService}
}

type CreateClientRequest struct {
	ClientID               string   `json:"client_id"`
	Name                   string   `json:"name"`
	GrantTypes             []string `json:"grant_types"`
	RedirectURIs           []string `json:"redirect_uris"`
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris"`
	Scopes                 []string `json:"scopes"`
	Confidential           bool     `json:"confidential"`
	RequirePKCE            bool     `json:"require_pkce"`
	RequireConsent         bool     `json:"require_consent"`
	AllowOfflineAccess     bool     `json:"allow_offline_access"`
	AccessTokenLifetime    int      `json:"access_token_lifetime"`
}

type UpdateClientRequest struct {
	Name                   string   `json:"name"`
	GrantTypes             []string `json:"grant_types"`
	RedirectURIs           []string `json:"redirect_uris"`
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris"`
	Scopes                 []string `json:"scopes"`
	RequirePKCE            bool     `json:"require_pkce"`
	RequireConsent         bool     `json:"require_consent"`
	AllowOfflineAccess     bool     `json:"allow_offline_access"`
	AccessTokenLifetime    int      `json:"access_token_lifetime"`
	IsActive               bool     `json:"is_active"`
}

type ClientResponse struct {
	*models.Client
	ClientSecretPlain string `json:"client_secret,omitempty"` // Only populated on creation
}

func (s *ClientService) CreateClient(
	ctx context.Context,
	actor *models.User,
	req CreateClientRequest,
) (*ClientResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrClientNameRequired
	}
	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, err
	}
	if err := validateRedirectURIs(req.PostLogoutRedirectURIs); err != nil {
		return nil, err
	}

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = uuid.New().String()
	}
	lifetime := req.AccessTokenLifetime
	if lifetime == 0 {
		lifetime = defaultAccessTokenLifetime
	}

	client := &models.Client{
		ClientID:               clientID,
		Name:                   name,
		GrantTypes:             models.StringArray(req.GrantTypes),
		RedirectURIs:           models.StringArray(req.RedirectURIs),
		PostLogoutRedirectURIs: models.StringArray(req.PostLogoutRedirectURIs),
		Scopes:                 models.StringArray(req.Scopes),
		RequirePKCE:            req.RequirePKCE,
		RequireSecret:          req.Confidential,
		RequireConsent:         req.RequireConsent,
		AllowOfflineAccess:     req.AllowOfflineAccess,
		AccessTokenLifetime:    lifetime,
		IsActive:               true,
	}

	var secret string
	if req.Confidential {
		var err error
		if secret, err = client.GenerateClientSecret(ctx); err != nil {
			return nil, fmt.Errorf("failed to generate client secret: %w", err)
		}
	}

	if err := s.registry.RegisterClient(ctx, client); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, models.EventClientCreated, client, "Client created")
	return &ClientResponse{Client: client, ClientSecretPlain: secret}, nil
}

func (s *ClientService) UpdateClient(
	ctx context.Context,
	actor *models.User,
	clientID string,
	req UpdateClientRequest,
) (*models.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrClientNameRequired
	}
	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, err
	}
	if err := validateRedirectURIs(req.PostLogoutRedirectURIs); err != nil {
		return nil, err
	}

	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	client.Name = name
	client.GrantTypes = models.StringArray(req.GrantTypes)
	client.RedirectURIs = models.StringArray(req.RedirectURIs)
	client.PostLogoutRedirectURIs = models.StringArray(req.PostLogoutRedirectURIs)
	client.Scopes = models.StringArray(req.Scopes)
	client.RequirePKCE = req.RequirePKCE
	client.RequireConsent = req.RequireConsent
	client.AllowOfflineAccess = req.AllowOfflineAccess
	client.IsActive = req.IsActive
	if req.AccessTokenLifetime != 0 {
		client.AccessTokenLifetime = req.AccessTokenLifetime
	}

	if err := s.registry.UpdateClient(ctx, client); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, models.EventClientUpdated, client, "Client updated")
	return client, nil
}

func (s *ClientService) ListClients(ctx context.Context) ([]models.Client, error) {
	return s.registry.ListClients(ctx)
}

// GetClient returns a registration whether or not it is active
func (s *ClientService) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	client, err := s.registry.GetClient(ctx, clientID)
	if errors.Is(err, registry.ErrUnknownClient) {
		return nil, ErrClientNotFound
	}
	return client, err
}

// RegenerateSecret replaces a confidential client's secret and returns the
// new plaintext once
func (s *ClientService) RegenerateSecret(ctx context.Context, actor *models.User, clientID string) (string, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if !client.RequireSecret {
		return "", fmt.Errorf("%w: public clients have no secret", registry.ErrInvalidClient)
	}

	secret, err := client.GenerateClientSecret(ctx)
	if err != nil {
		return "", err
	}
	if err := s.registry.UpdateClient(ctx, client); err != nil {
		return "", err
	}

	s.audit(ctx, actor, models.EventClientUpdated, client, "Client secret regenerated")
	return secret, nil
}

func (s *ClientService) audit(
	ctx context.Context,
	actor *models.User,
	event models.EventType,
	client *models.Client,
	action string,
) {
	entry := AuditLogEntry{
		EventType:    event,
		Severity:     models.SeverityInfo,
		ResourceType: models.ResourceClient,
		ResourceID:   client.ClientID,
		ResourceName: client.Name,
		Action:       action,
		Details: models.AuditDetails{
			"grant_types": client.GrantTypes.Join(" "),
			"scopes":      client.Scopes.Join(" "),
		},
		Success: true,
	}
	if actor != nil {
		entry.ActorUserID = actor.ID
		entry.ActorUsername = actor.Username
	}
	s.auditService.Log(ctx, entry)
}

// validateRedirectURIs requires absolute http(s) URIs without a fragment
func validateRedirectURIs(uris []string) error {
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || raw == "" {
			return fmt.Errorf("%w: %q", ErrInvalidRedirectURI, raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: %q must use http or https", ErrInvalidRedirectURI, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("%w: %q has no host", ErrInvalidRedirectURI, raw)
		}
		if u.Fragment != "" || strings.Contains(raw, "#") {
			return fmt.Errorf("%w: %q must not contain a fragment", ErrInvalidRedirectURI, raw)
		}
	}
	return nil
}
