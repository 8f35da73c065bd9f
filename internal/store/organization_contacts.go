package store

import (
	"context"

	"github.com/koskedk/dwh-identity/internal/models"

	"gorm.io/gorm"
)

// ListOrganizationContacts returns the point person first, then by name
func (s *Store) ListOrganizationContacts(ctx context.Context, orgID string) ([]models.OrganizationContact, error) {
	var contacts []models.OrganizationContact
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("point_person DESC").
		Order("names").
		Find(&contacts).Error
	return contacts, err
}

func (s *Store) GetOrganizationContact(ctx context.Context, orgID, id string) (*models.OrganizationContact, error) {
	var contact models.OrganizationContact
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, id).
		First(&contact).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &contact, nil
}

// SaveOrganizationContact inserts or updates a contact. Marking a contact as
// point person clears the flag on the organization's other contacts.
func (s *Store) SaveOrganizationContact(ctx context.Context, contact *models.OrganizationContact) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if contact.PointPerson {
			err := tx.Model(&models.OrganizationContact{}).
				Where("organization_id = ? AND id <> ?", contact.OrganizationID, contact.ID).
				Update("point_person", false).Error
			if err != nil {
				return err
			}
		}
		return tx.Save(contact).Error
	})
}

func (s *Store) DeleteOrganizationContact(ctx context.Context, orgID, id string) error {
	result := s.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, id).
		Delete(&models.OrganizationContact{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
