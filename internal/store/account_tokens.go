package store

import (
	"context"
	"time"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/util"

	"gorm.io/gorm"
)

func (s *Store) CreateAccountToken(ctx context.Context, token *models.AccountToken) error {
	return s.db.WithContext(ctx).Create(token).Error
}

// ConsumeAccountToken marks an unused, unexpired token of the given purpose as
// used and returns it. Unknown, used, expired and mismatched tokens all map to
// ErrAccountTokenInvalid.
func (s *Store) ConsumeAccountToken(
	ctx context.Context,
	plaintext string,
	purpose models.AccountTokenPurpose,
) (*models.AccountToken, error) {
	hash := util.SHA256Hex(plaintext)
	now := time.Now()

	var token models.AccountToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.AccountToken{}).
			Where("token_hash = ? AND purpose = ?", hash, purpose).
			Where("used_at IS NULL AND expires_at > ?", now).
			Update("used_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrAccountTokenInvalid
		}
		return tx.Where("token_hash = ?", hash).First(&token).Error
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// InvalidateAccountTokens marks every outstanding token of a purpose for a user as used
func (s *Store) InvalidateAccountTokens(
	ctx context.Context,
	userID string,
	purpose models.AccountTokenPurpose,
) error {
	return s.db.WithContext(ctx).
		Model(&models.AccountToken{}).
		Where("user_id = ? AND purpose = ? AND used_at IS NULL", userID, purpose).
		Update("used_at", time.Now()).Error
}

func (s *Store) DeleteExpiredAccountTokens(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&models.AccountToken{})
	return result.RowsAffected, result.Error
}
