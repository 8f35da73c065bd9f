package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"

	"github.com/google/uuid"
)

var (
	ErrContactNotFound = errors.New("organization contact not found")
	ErrInvalidContact  = errors.New("invalid organization contact")
)

// ContactInput carries the editable contact fields
type ContactInput struct {
	Names       string `json:"names"`
	Title       string `json:"title"`
	Email       string `json:"email"`
	Mobile      string `json:"mobile"`
	PointPerson bool   `json:"point_person"`
}

// ListContacts returns an organization's contacts to admins and to the
// organization's own stewards
func (s *OrganizationService) ListContacts(
	ctx context.Context,
	actor *models.User,
	orgID string,
) ([]models.OrganizationContact, error) {
	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}
	if !canViewContacts(actor, orgID) {
		return nil, ErrForbidden
	}
	return s.store.ListOrganizationContacts(ctx, orgID)
}

func (s *OrganizationService) CreateContact(
	ctx context.Context,
	actor *models.User,
	orgID string,
	in ContactInput,
) (*models.OrganizationContact, error) {
	in = normalizeContact(in)
	if err := validateContact(in); err != nil {
		return nil, err
	}
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	contact := &models.OrganizationContact{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
	}
	applyContact(contact, in)
	if err := s.store.SaveOrganizationContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("failed to save contact: %w", err)
	}

	s.audit(ctx, actor, models.EventContactChanged, org, "Contact added: "+contact.Names)
	return contact, nil
}

func (s *OrganizationService) UpdateContact(
	ctx context.Context,
	actor *models.User,
	orgID, id string,
	in ContactInput,
) (*models.OrganizationContact, error) {
	in = normalizeContact(in)
	if err := validateContact(in); err != nil {
		return nil, err
	}
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	contact, err := s.store.GetOrganizationContact(ctx, org.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}

	applyContact(contact, in)
	if err := s.store.SaveOrganizationContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("failed to save contact: %w", err)
	}

	s.audit(ctx, actor, models.EventContactChanged, org, "Contact updated: "+contact.Names)
	return contact, nil
}

func (s *OrganizationService) DeleteContact(ctx context.Context, actor *models.User, orgID, id string) error {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOrganizationContact(ctx, org.ID, id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrContactNotFound
		}
		return err
	}

	s.audit(ctx, actor, models.EventContactChanged, org, "Contact removed")
	return nil
}

func canViewContacts(actor *models.User, orgID string) bool {
	if actor == nil {
		return false
	}
	return actor.IsAdmin() || (actor.IsSteward() && actor.OrganizationID == orgID)
}

func applyContact(contact *models.OrganizationContact, in ContactInput) {
	contact.Names = in.Names
	contact.Title = in.Title
	contact.Email = in.Email
	contact.Mobile = in.Mobile
	contact.PointPerson = in.PointPerson
}

func normalizeContact(in ContactInput) ContactInput {
	in.Names = strings.TrimSpace(in.Names)
	in.Title = strings.TrimSpace(in.Title)
	in.Email = strings.TrimSpace(in.Email)
	in.Mobile = strings.TrimSpace(in.Mobile)
	return in
}

func validateContact(in ContactInput) error {
	if in.Names == "" {
		return fmt.Errorf("%w: names are required", ErrInvalidContact)
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return fmt.Errorf("%w: email is not valid", ErrInvalidContact)
		}
	}
	if in.Email == "" && in.Mobile == "" {
		return fmt.Errorf("%w: an email or mobile number is required", ErrInvalidContact)
	}
	return nil
}
