package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"
)

var ErrConsentNotFound = errors.New("consent not found")

// ConsentService lets a signed-in user review and withdraw the consents
// recorded by the authorization flow
type ConsentService struct {
	store        *store.Store
	grants       core.GrantStore
	auditService *AuditService
}

func NewConsentService(s *store.Store, grants core.GrantStore, auditService *AuditService) *ConsentService {
	return &ConsentService{store: s, grants: grants, auditService: auditService}
}

// List returns the consents of subject ordered by client id
func (s *ConsentService) List(ctx context.Context, subject string) ([]models.Consent, error) {
	return s.store.ListConsentsBySubject(ctx, subject)
}

// Revoke deletes the consent and revokes every live grant the subject holds
// for the client, so outstanding refresh tokens stop working and access
// tokens fail validation.
func (s *ConsentService) Revoke(ctx context.Context, subject, clientID string) (int64, error) {
	if _, err := s.store.GetConsent(ctx, subject, clientID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return 0, ErrConsentNotFound
		}
		return 0, err
	}
	if err := s.store.DeleteConsent(ctx, subject, clientID); err != nil {
		return 0, fmt.Errorf("failed to delete consent: %w", err)
	}

	n, err := s.grants.RevokeAllForSubjectAndClient(ctx, subject, clientID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke grants: %w", err)
	}

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventConsentRevoked,
		Severity:     models.SeverityInfo,
		ActorUserID:  subject,
		ResourceType: models.ResourceConsent,
		ResourceID:   clientID,
		Action:       "Consent revoked",
		Details:      models.AuditDetails{"grants_revoked": n},
		Success:      true,
	})
	return n, nil
}
