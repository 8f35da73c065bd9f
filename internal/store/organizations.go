package store

import (
	"context"
	"errors"

	"github.com/koskedk/dwh-identity/internal/models"

	"gorm.io/gorm"
)

func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&org).Error; err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	var orgs []models.Organization
	err := s.db.WithContext(ctx).Order("name").Find(&orgs).Error
	return orgs, err
}

func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	err := s.db.WithContext(ctx).Create(org).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOrganizationCodeConflict
	}
	return err
}

func (s *Store) UpdateOrganization(ctx context.Context, org *models.Organization) error {
	err := s.db.WithContext(ctx).Save(org).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOrganizationCodeConflict
	}
	return err
}

// DeleteOrganization removes an organization and its contacts
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("organization_id = ?", id).Delete(&models.OrganizationContact{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Organization{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

// CountUsersInOrganization is used to refuse deleting organizations that still have members
func (s *Store) CountUsersInOrganization(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("organization_id = ?", id).
		Count(&n).Error
	return n, err
}
