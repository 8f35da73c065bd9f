package store

import (
	"context"
	"errors"

	"github.com/koskedk/dwh-identity/internal/models"

	"gorm.io/gorm"
)

// Client operations

func (s *Store) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&client).Error; err != nil {
		return nil, notFound(err)
	}
	return &client, nil
}

func (s *Store) ListClients(ctx context.Context) ([]models.Client, error) {
	var clients []models.Client
	err := s.db.WithContext(ctx).Order("client_id").Find(&clients).Error
	return clients, err
}

func (s *Store) CreateClient(ctx context.Context, client *models.Client) error {
	err := s.db.WithContext(ctx).Create(client).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrClientIDConflict
	}
	return err
}

func (s *Store) UpdateClient(ctx context.Context, client *models.Client) error {
	return s.db.WithContext(ctx).Save(client).Error
}

func (s *Store) CountClients(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Client{}).Count(&n).Error
	return n, err
}

// Scope operations

func (s *Store) GetScope(ctx context.Context, name string) (*models.Scope, error) {
	var scope models.Scope
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&scope).Error; err != nil {
		return nil, notFound(err)
	}
	return &scope, nil
}

// GetScopesByNames returns the scopes that exist among names, keyed by name
func (s *Store) GetScopesByNames(ctx context.Context, names []string) (map[string]*models.Scope, error) {
	result := make(map[string]*models.Scope, len(names))
	if len(names) == 0 {
		return result, nil
	}

	var scopes []models.Scope
	if err := s.db.WithContext(ctx).Where("name IN ?", names).Find(&scopes).Error; err != nil {
		return nil, err
	}
	for i := range scopes {
		result[scopes[i].Name] = &scopes[i]
	}
	return result, nil
}

func (s *Store) ListScopes(ctx context.Context) ([]models.Scope, error) {
	var scopes []models.Scope
	err := s.db.WithContext(ctx).Order("name").Find(&scopes).Error
	return scopes, err
}

func (s *Store) CreateScope(ctx context.Context, scope *models.Scope) error {
	err := s.db.WithContext(ctx).Create(scope).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrScopeConflict
	}
	return err
}
