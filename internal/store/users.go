package store

import (
	"context"
	"errors"
	"strings"

	"github.com/koskedk/dwh-identity/internal/models"

	"gorm.io/gorm"
)

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(email)).
		First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUserByPhoneNumber(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("phone_number = ?", phone).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// CreateUser inserts a user. Email and phone number are checked up front so
// the caller gets a specific conflict error; the unique indexes catch races.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUserUnique(tx, user); err != nil {
			return err
		}
		err := tx.Create(user).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailConflict
		}
		return err
	})
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

// UpdateUserProfile saves edited profile fields. Email, phone number and
// username must stay unique among the other users.
func (s *Store) UpdateUserProfile(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUserUnique(tx, user); err != nil {
			return err
		}
		err := tx.Save(user).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailConflict
		}
		return err
	})
}

// checkUserUnique looks for other users holding the same email, phone number
// or username. The user itself is excluded so updates can keep their values.
func checkUserUnique(tx *gorm.DB, user *models.User) error {
	taken := func(query string, arg any) (bool, error) {
		var n int64
		q := tx.Model(&models.User{}).Where(query, arg)
		if user.ID != "" {
			q = q.Where("id <> ?", user.ID)
		}
		if err := q.Count(&n).Error; err != nil {
			return false, err
		}
		return n > 0, nil
	}

	checks := []struct {
		query    string
		arg      any
		conflict error
	}{
		{"LOWER(email) = ?", strings.ToLower(user.Email), ErrEmailConflict},
		{"phone_number = ?", user.PhoneNumber, ErrPhoneConflict},
		{"username = ?", user.Username, ErrUsernameConflict},
	}
	for _, check := range checks {
		found, err := taken(check.query, check.arg)
		if err != nil {
			return err
		}
		if found {
			return check.conflict
		}
	}
	return nil
}

// DeleteUser removes a user together with its consents and account tokens.
// Grants live in the grant store and are revoked by the caller.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subject = ?", id).Delete(&models.Consent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.AccountToken{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.User{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

// ListStewardsByOrganization returns the stewards of an organization
func (s *Store) ListStewardsByOrganization(ctx context.Context, orgID string) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_type = ?", orgID, models.UserTypeSteward).
		Order("full_name").
		Find(&users).Error
	return users, err
}

func (s *Store) ListAdmins(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("user_type = ?", models.UserTypeAdmin).
		Order("full_name").
		Find(&users).Error
	return users, err
}

// UserFilters narrows ListUsersPaginated
type UserFilters struct {
	OrganizationID string
	UserType       models.UserType
	Confirmation   *models.UserConfirmation
}

func (s *Store) ListUsersPaginated(
	ctx context.Context,
	params PaginationParams,
	filters UserFilters,
) ([]models.User, PaginationResult, error) {
	query := s.db.WithContext(ctx).Model(&models.User{})

	if filters.OrganizationID != "" {
		query = query.Where("organization_id = ?", filters.OrganizationID)
	}
	if filters.UserType != 0 {
		query = query.Where("user_type = ?", filters.UserType)
	}
	if filters.Confirmation != nil {
		query = query.Where("user_confirmed = ?", *filters.Confirmation)
	}
	if params.Search != "" {
		like := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where(
			"LOWER(username) LIKE ? OR LOWER(email) LIKE ? OR LOWER(full_name) LIKE ?",
			like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, PaginationResult{}, err
	}

	var users []models.User
	err := query.
		Order("created_at DESC").
		Offset(params.Offset()).
		Limit(params.PageSize).
		Find(&users).Error
	if err != nil {
		return nil, PaginationResult{}, err
	}

	return users, CalculatePagination(total, params.Page, params.PageSize), nil
}
