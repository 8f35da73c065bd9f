package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"

	"github.com/google/uuid"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationInUse    = errors.New("organization still has users")
	ErrInvalidOrganization  = errors.New("invalid organization")
)

// OrganizationInput carries the editable organization fields
type OrganizationInput struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Website     string `json:"website"`
	Type        string `json:"type"`
}

type OrganizationService struct {
	store        *store.Store
	auditService *AuditService
}

func NewOrganizationService(s *store.Store, auditService *AuditService) *OrganizationService {
	return &OrganizationService{store: s, auditService: auditService}
}

func (s *OrganizationService) List(ctx context.Context) ([]models.Organization, error) {
	return s.store.ListOrganizations(ctx)
}

func (s *OrganizationService) Get(ctx context.Context, id string) (*models.Organization, error) {
	org, err := s.store.GetOrganization(ctx, id)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	return org, err
}

func (s *OrganizationService) Create(
	ctx context.Context,
	actor *models.User,
	in OrganizationInput,
) (*models.Organization, error) {
	in = normalizeOrganization(in)
	if err := validateOrganization(in); err != nil {
		return nil, err
	}

	org := &models.Organization{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Code:        in.Code,
		Description: in.Description,
		Website:     in.Website,
		Type:        in.Type,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, models.EventOrganizationCreated, org, "Organization created")
	return org, nil
}

func (s *OrganizationService) Update(
	ctx context.Context,
	actor *models.User,
	id string,
	in OrganizationInput,
) (*models.Organization, error) {
	in = normalizeOrganization(in)
	if err := validateOrganization(in); err != nil {
		return nil, err
	}

	org, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	org.Name = in.Name
	org.Code = in.Code
	org.Description = in.Description
	org.Website = in.Website
	org.Type = in.Type
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, models.EventOrganizationUpdated, org, "Organization updated")
	return org, nil
}

// Delete refuses to remove an organization that still has members
func (s *OrganizationService) Delete(ctx context.Context, actor *models.User, id string) error {
	org, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	n, err := s.store.CountUsersInOrganization(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %d users", ErrOrganizationInUse, n)
	}

	if err := s.store.DeleteOrganization(ctx, id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrOrganizationNotFound
		}
		return err
	}

	s.audit(ctx, actor, models.EventOrganizationDeleted, org, "Organization deleted")
	return nil
}

func (s *OrganizationService) audit(
	ctx context.Context,
	actor *models.User,
	event models.EventType,
	org *models.Organization,
	action string,
) {
	entry := AuditLogEntry{
		EventType:    event,
		Severity:     models.SeverityInfo,
		ResourceType: models.ResourceOrganization,
		ResourceID:   org.ID,
		ResourceName: org.Name,
		Action:       action,
		Details:      models.AuditDetails{"code": org.Code},
		Success:      true,
	}
	if actor != nil {
		entry.ActorUserID = actor.ID
		entry.ActorUsername = actor.Username
	}
	s.auditService.Log(ctx, entry)
}

func normalizeOrganization(in OrganizationInput) OrganizationInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Website = strings.TrimSpace(in.Website)
	in.Type = strings.TrimSpace(in.Type)
	return in
}

func validateOrganization(in OrganizationInput) error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidOrganization)
	}
	if in.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidOrganization)
	}
	if len(in.Code) > 50 {
		return fmt.Errorf("%w: code must be at most 50 characters", ErrInvalidOrganization)
	}
	return nil
}
