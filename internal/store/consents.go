package store

import (
	"context"

	"github.com/koskedk/dwh-identity/internal/models"

	"gorm.io/gorm/clause"
)

// GetConsent returns the stored consent for a subject and client
func (s *Store) GetConsent(ctx context.Context, subject, clientID string) (*models.Consent, error) {
	var consent models.Consent
	err := s.db.WithContext(ctx).
		Where("subject = ? AND client_id = ?", subject, clientID).
		First(&consent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &consent, nil
}

// SaveConsent inserts or replaces the scope set a subject approved for a client
func (s *Store) SaveConsent(ctx context.Context, consent *models.Consent) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}, {Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"scopes", "updated_at"}),
	}).Create(consent).Error
}

func (s *Store) DeleteConsent(ctx context.Context, subject, clientID string) error {
	return s.db.WithContext(ctx).
		Where("subject = ? AND client_id = ?", subject, clientID).
		Delete(&models.Consent{}).Error
}

func (s *Store) ListConsentsBySubject(ctx context.Context, subject string) ([]models.Consent, error) {
	var consents []models.Consent
	err := s.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("client_id").
		Find(&consents).Error
	return consents, err
}
