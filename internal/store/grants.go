package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/util"

	"gorm.io/gorm"
)

// handleBytes is the entropy of every grant handle (256 bits)
const handleBytes = 32

var _ core.GrantStore = (*Store)(nil)

// CreateGrant stores a new grant; only the SHA-256 of the handle is persisted
func (s *Store) CreateGrant(
	ctx context.Context,
	params core.CreateGrantParams,
) (*models.Grant, string, error) {
	handle, err := util.RandomHandle(handleBytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate grant handle: %w", err)
	}

	grant := core.NewGrant(params, handle, time.Now())
	if err := s.db.WithContext(ctx).Create(grant).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create grant: %w", err)
	}
	return grant, handle, nil
}

func (s *Store) findGrant(ctx context.Context, hash string, kind models.GrantKind) (*models.Grant, error) {
	var grant models.Grant
	err := s.db.WithContext(ctx).
		Where("handle_hash = ? AND kind = ?", hash, kind).
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrGrantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// Peek returns the grant without consuming it. Revoked and expired grants
// are reported the same way Redeem would report them.
func (s *Store) Peek(ctx context.Context, handle string, kind models.GrantKind) (*models.Grant, error) {
	grant, err := s.findGrant(ctx, util.SHA256Hex(handle), kind)
	if err != nil {
		return nil, err
	}
	return grant, core.CheckRedeemable(grant, time.Now())
}

// Redeem atomically consumes the grant with a compare-and-swap on consumed_at.
// On ErrAlreadyConsumed the grant is returned too, so the caller can revoke its family.
func (s *Store) Redeem(ctx context.Context, handle string, kind models.GrantKind) (*models.Grant, error) {
	hash := util.SHA256Hex(handle)
	now := time.Now()

	result := s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("handle_hash = ? AND kind = ?", hash, kind).
		Where("consumed_at IS NULL AND revoked_at IS NULL AND expires_at > ?", now).
		Update("consumed_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to redeem grant: %w", result.Error)
	}

	grant, err := s.findGrant(ctx, hash, kind)
	if err != nil {
		return nil, err
	}

	if result.RowsAffected == 1 {
		return grant, nil
	}

	// Lost the race or the grant was never redeemable
	if err := core.CheckRedeemable(grant, now); err != nil {
		return grant, err
	}
	return grant, core.ErrAlreadyConsumed
}

func (s *Store) Revoke(ctx context.Context, handle string) error {
	return s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("handle_hash = ? AND revoked_at IS NULL", util.SHA256Hex(handle)).
		Update("revoked_at", time.Now()).Error
}

func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Update("revoked_at", time.Now())
	return result.RowsAffected, result.Error
}

func (s *Store) FamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("family_id = ? AND revoked_at IS NOT NULL", familyID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) RevokeAllForSubjectAndClient(ctx context.Context, subject, clientID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("subject = ? AND client_id = ? AND revoked_at IS NULL", subject, clientID).
		Update("revoked_at", time.Now())
	return result.RowsAffected, result.Error
}

func (s *Store) SweepExpired(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&models.Grant{})
	return result.RowsAffected, result.Error
}

// ListGrantsByFamily returns every grant of a family, oldest first
func (s *Store) ListGrantsByFamily(ctx context.Context, familyID string) ([]models.Grant, error) {
	var grants []models.Grant
	err := s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("created_at").
		Find(&grants).Error
	return grants, err
}
