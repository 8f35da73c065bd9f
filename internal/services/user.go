package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/koskedk/dwh-identity/internal/cache"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountDisabled    = errors.New("account is disabled or denied")
	ErrEmailNotConfirmed  = errors.New("email address not confirmed")
	ErrForbidden          = errors.New("not allowed to manage this user")
	ErrInvalidUserUpdate  = errors.New("invalid user details")
)

const userKeyPrefix = "user:"

// dummyHash keeps unknown-user logins as slow as wrong-password ones
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dwh-identity-dummy"), bcrypt.DefaultCost)

// UserService authenticates portal users and carries out steward actions.
// GetUserByID reads through the user cache, so it also backs the local
// claims provider.
type UserService struct {
	store        *store.Store
	grants       core.GrantStore
	notifier     core.Notifier
	auditService *AuditService
	metrics      core.Recorder
	userCache    core.Cache[models.User]
	userCacheTTL time.Duration
	portalURL    string
}

func NewUserService(
	s *store.Store,
	grants core.GrantStore,
	notifier core.Notifier,
	auditService *AuditService,
	m core.Recorder,
	userCache core.Cache[models.User],
	userCacheTTL time.Duration,
	portalURL string,
) *UserService {
	return &UserService{
		store:        s,
		grants:       grants,
		notifier:     notifier,
		auditService: auditService,
		metrics:      m,
		userCache:    userCache,
		userCacheTTL: userCacheTTL,
		portalURL:    portalURL,
	}
}

// Authenticate checks a username (or email) and password. Accounts with an
// unconfirmed email fail with ErrEmailNotConfirmed after the password check
// so the caller can offer to resend the confirmation.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	start := time.Now()
	user, err := s.authenticate(ctx, username, password)
	if s.metrics != nil {
		s.metrics.RecordLogin(err == nil, time.Since(start))
	}

	entry := AuditLogEntry{
		EventType:     models.EventAuthenticationSuccess,
		Severity:      models.SeverityInfo,
		ActorUsername: username,
		ResourceType:  models.ResourceUser,
		Action:        "User signed in",
		Success:       true,
	}
	if user != nil {
		entry.ActorUserID = user.ID
		entry.ResourceID = user.ID
	}
	if err != nil {
		entry.EventType = models.EventAuthenticationFailure
		entry.Severity = models.SeverityWarning
		entry.Action = "Sign in rejected"
		entry.Success = false
		entry.ErrorMessage = err.Error()
	}
	s.auditService.Log(ctx, entry)

	return user, err
}

func (s *UserService) authenticate(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrRecordNotFound) && strings.Contains(username, "@") {
		user, err = s.store.GetUserByEmail(ctx, username)
	}
	if err != nil {
		if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		log.Printf("[Auth] Failed login for user=%s", user.Username)
		return nil, ErrInvalidCredentials
	}
	if !user.CanSignIn() {
		return user, ErrAccountDisabled
	}
	if !user.EmailConfirmed {
		return user, ErrEmailNotConfirmed
	}
	return user, nil
}

// GetUserByID returns a user, reading through the cache when configured
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if s.userCache == nil {
		return s.fetchUser(ctx, userKeyPrefix+id)
	}

	user, err := s.userCache.GetWithFetch(ctx, userKeyPrefix+id, s.userCacheTTL,
		func(ctx context.Context, key string) (models.User, error) {
			u, err := s.fetchUser(ctx, key)
			if err != nil {
				return models.User{}, err
			}
			return *u, nil
		})
	if errors.Is(err, cache.ErrCacheUnavailable) {
		log.Printf("[User] Cache unavailable, reading user %s from store: %v", id, err)
		return s.fetchUser(ctx, userKeyPrefix+id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserService) fetchUser(ctx context.Context, key string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, strings.TrimPrefix(key, userKeyPrefix))
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// InvalidateUserCache drops a cached user after a write
func (s *UserService) InvalidateUserCache(ctx context.Context, id string) {
	if s.userCache == nil {
		return
	}
	if err := s.userCache.Delete(ctx, userKeyPrefix+id); err != nil {
		log.Printf("[User] Failed to invalidate cache for user %s: %v", id, err)
	}
}

// ListStewards returns the stewards of an organization
func (s *UserService) ListStewards(ctx context.Context, orgID string) ([]models.User, error) {
	return s.store.ListStewardsByOrganization(ctx, orgID)
}

// ListUsers lists the users an actor may manage: admins see everyone,
// stewards their own organization.
func (s *UserService) ListUsers(
	ctx context.Context,
	actor *models.User,
	params store.PaginationParams,
	filters store.UserFilters,
) ([]models.User, store.PaginationResult, error) {
	switch {
	case actor.IsAdmin():
	case actor.IsSteward():
		filters.OrganizationID = actor.OrganizationID
	default:
		return nil, store.PaginationResult{}, ErrForbidden
	}
	return s.store.ListUsersPaginated(ctx, params, filters)
}

// ConfirmUser approves a pending account and makes it a normal user
func (s *UserService) ConfirmUser(ctx context.Context, actor *models.User, id string) (*models.User, error) {
	user, err := s.changeUser(ctx, actor, id, models.UserConfirmed, models.UserTypeNormal,
		models.EventUserConfirmed, "User account confirmed")
	if err != nil {
		return nil, err
	}
	s.notify(ctx, core.Message{
		Kind:       core.NotifyAccountConfirmed,
		Recipients: []string{user.Email},
		Subject:    "Account Confirmed",
		Data: map[string]string{
			"full_name": user.FullName,
			"login_url": s.portalURL,
		},
	})
	return user, nil
}

// DenyUser rejects an account; denied users cannot sign in
func (s *UserService) DenyUser(ctx context.Context, actor *models.User, id string) (*models.User, error) {
	user, err := s.changeUser(ctx, actor, id, models.UserDenied, models.UserTypeGuest,
		models.EventUserDenied, "User account denied")
	if err != nil {
		return nil, err
	}
	s.notify(ctx, core.Message{
		Kind:       core.NotifyAccountDenied,
		Recipients: []string{user.Email},
		Subject:    "Account Denied",
		Data: map[string]string{
			"full_name": user.FullName,
		},
	})
	return user, nil
}

// MakeSteward promotes a user to steward of their organization
func (s *UserService) MakeSteward(ctx context.Context, actor *models.User, id string) (*models.User, error) {
	return s.changeUser(ctx, actor, id, models.UserConfirmed, models.UserTypeSteward,
		models.EventUserRoleChanged, "User made steward")
}

// MakeUser demotes a steward, or restores a denied user, to a normal user
func (s *UserService) MakeUser(ctx context.Context, actor *models.User, id string) (*models.User, error) {
	return s.changeUser(ctx, actor, id, models.UserConfirmed, models.UserTypeNormal,
		models.EventUserRoleChanged, "User made normal user")
}

func (s *UserService) changeUser(
	ctx context.Context,
	actor *models.User,
	id string,
	confirmation models.UserConfirmation,
	userType models.UserType,
	event models.EventType,
	action string,
) (*models.User, error) {
	user, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	before := user.UserType
	user.UserConfirmed = confirmation
	user.UserType = userType
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	s.InvalidateUserCache(ctx, user.ID)

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     event,
		Severity:      models.SeverityInfo,
		ActorUserID:   actor.ID,
		ActorUsername: actor.Username,
		ResourceType:  models.ResourceUser,
		ResourceID:    user.ID,
		ResourceName:  user.Username,
		Action:        action,
		Details: models.AuditDetails{
			"from_type": before.String(),
			"to_type":   userType.String(),
		},
		Success: true,
	})
	return user, nil
}

// UserUpdate carries the profile fields a steward or admin may edit. An
// empty Username keeps the current one, or follows the email when the
// username was the email.
type UserUpdate struct {
	Username              string `json:"username"`
	Email                 string `json:"email"`
	FullName              string `json:"full_name"`
	Title                 string `json:"title"`
	PhoneNumber           string `json:"phone_number"`
	Designation           string `json:"designation"`
	ReasonForAccessing    string `json:"reason_for_accessing"`
	OrganizationID        string `json:"organization_id"`
	SubscribeToNewsletter bool   `json:"subscribe_to_newsletter"`
}

// GetUser returns a user the actor may see: admins see everyone, stewards
// their organization, and every user sees themselves.
func (s *UserService) GetUser(ctx context.Context, actor *models.User, id string) (*models.User, error) {
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, user) {
		return nil, ErrForbidden
	}
	return user, nil
}

// UpdateUser edits a user's profile. Stewards cannot move users out of
// their organization.
func (s *UserService) UpdateUser(
	ctx context.Context,
	actor *models.User,
	id string,
	in UserUpdate,
) (*models.User, error) {
	in = normalizeUserUpdate(in)
	if err := validateUserUpdate(in); err != nil {
		return nil, err
	}

	user, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if in.OrganizationID != user.OrganizationID {
		if !actor.IsAdmin() {
			return nil, ErrForbidden
		}
		if _, err := s.store.GetOrganization(ctx, in.OrganizationID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, ErrUnknownOrganization
			}
			return nil, err
		}
	}

	username := in.Username
	if username == "" {
		username = user.Username
		if strings.EqualFold(user.Username, user.Email) {
			username = in.Email
		}
	}

	changed := changedFields(user, in, username)
	user.Username = username
	user.Email = in.Email
	user.FullName = in.FullName
	user.Title = in.Title
	user.PhoneNumber = in.PhoneNumber
	user.Designation = in.Designation
	user.ReasonForAccessing = in.ReasonForAccessing
	user.OrganizationID = in.OrganizationID
	user.SubscribeToNewsletter = in.SubscribeToNewsletter
	if err := s.store.UpdateUserProfile(ctx, user); err != nil {
		return nil, err
	}
	s.InvalidateUserCache(ctx, user.ID)

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventUserUpdated,
		Severity:      models.SeverityInfo,
		ActorUserID:   actor.ID,
		ActorUsername: actor.Username,
		ResourceType:  models.ResourceUser,
		ResourceID:    user.ID,
		ResourceName:  user.Username,
		Action:        "User profile updated",
		Details:       models.AuditDetails{"fields": changed},
		Success:       true,
	})
	return user, nil
}

// DeleteUser removes a user after revoking every grant issued to it, so its
// refresh tokens stop working and its access tokens fail introspection.
// It returns the number of grants revoked.
func (s *UserService) DeleteUser(ctx context.Context, actor *models.User, id string) (int64, error) {
	user, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return 0, err
	}

	revoked, err := s.revokeGrants(ctx, user.ID)
	if err != nil {
		return revoked, err
	}
	if err := s.store.DeleteUser(ctx, user.ID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return revoked, ErrUserNotFound
		}
		return revoked, fmt.Errorf("failed to delete user: %w", err)
	}
	s.InvalidateUserCache(ctx, user.ID)
	log.Printf("[User] Deleted user=%s, revoked %d grants", user.ID, revoked)

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventUserDeleted,
		Severity:      models.SeverityWarning,
		ActorUserID:   actor.ID,
		ActorUsername: actor.Username,
		ResourceType:  models.ResourceUser,
		ResourceID:    user.ID,
		ResourceName:  user.Username,
		Action:        "User deleted",
		Details:       models.AuditDetails{"grants_revoked": revoked},
		Success:       true,
	})
	return revoked, nil
}

func (s *UserService) revokeGrants(ctx context.Context, subject string) (int64, error) {
	if s.grants == nil {
		return 0, nil
	}
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list clients: %w", err)
	}
	var total int64
	for _, client := range clients {
		n, err := s.grants.RevokeAllForSubjectAndClient(ctx, subject, client.ClientID)
		if err != nil {
			return total, fmt.Errorf("failed to revoke grants for client %s: %w", client.ClientID, err)
		}
		total += n
	}
	return total, nil
}

// loadManaged reads a user from the store, bypassing the cache, and checks
// the actor may manage it
func (s *UserService) loadManaged(ctx context.Context, actor *models.User, id string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !canManage(actor, user) {
		return nil, ErrForbidden
	}
	return user, nil
}

func normalizeUserUpdate(in UserUpdate) UserUpdate {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Title = strings.TrimSpace(in.Title)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.Designation = strings.TrimSpace(in.Designation)
	in.OrganizationID = strings.TrimSpace(in.OrganizationID)
	return in
}

func validateUserUpdate(in UserUpdate) error {
	if in.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidUserUpdate)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return fmt.Errorf("%w: email is not valid", ErrInvalidUserUpdate)
	}
	if in.FullName == "" {
		return fmt.Errorf("%w: full name is required", ErrInvalidUserUpdate)
	}
	if in.PhoneNumber == "" {
		return fmt.Errorf("%w: phone number is required", ErrInvalidUserUpdate)
	}
	if in.OrganizationID == "" {
		return fmt.Errorf("%w: organization is required", ErrInvalidUserUpdate)
	}
	return nil
}

func changedFields(user *models.User, in UserUpdate, username string) []string {
	var fields []string
	add := func(name string, differs bool) {
		if differs {
			fields = append(fields, name)
		}
	}
	add("username", user.Username != username)
	add("email", user.Email != in.Email)
	add("full_name", user.FullName != in.FullName)
	add("title", user.Title != in.Title)
	add("phone_number", user.PhoneNumber != in.PhoneNumber)
	add("designation", user.Designation != in.Designation)
	add("reason_for_accessing", user.ReasonForAccessing != in.ReasonForAccessing)
	add("organization_id", user.OrganizationID != in.OrganizationID)
	add("subscribe_to_newsletter", user.SubscribeToNewsletter != in.SubscribeToNewsletter)
	return fields
}

// canView: admins see everyone, stewards their organization, users themselves
func canView(actor, target *models.User) bool {
	if actor == nil {
		return false
	}
	if actor.ID == target.ID || actor.IsAdmin() {
		return true
	}
	return actor.IsSteward() && actor.OrganizationID != "" &&
		actor.OrganizationID == target.OrganizationID
}

// canManage: admins manage anyone but other admins, stewards manage their organization
func canManage(actor, target *models.User) bool {
	if actor == nil || actor.ID == target.ID || target.IsAdmin() {
		return false
	}
	if actor.IsAdmin() {
		return true
	}
	return actor.IsSteward() && actor.OrganizationID != "" &&
		actor.OrganizationID == target.OrganizationID
}

// notify is best effort: a delivery failure is logged, never returned
func (s *UserService) notify(ctx context.Context, msg core.Message) {
	deliver(ctx, s.notifier, msg)
}

func deliver(ctx context.Context, n core.Notifier, msg core.Message) {
	if n == nil || len(msg.Recipients) == 0 {
		return
	}
	if err := n.Notify(ctx, msg); err != nil {
		log.Printf("[Notify] Failed to send %s to %d recipients: %v", msg.Kind, len(msg.Recipients), err)
	}
}
