package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrWeakPassword        = errors.New("password must be at least 8 characters and contain a letter and a digit")
	ErrUnknownOrganization = errors.New("unknown organization")
	ErrInvalidAccountToken = errors.New("invalid or expired token")
)

// accountTokenBytes is the entropy of confirmation and reset tokens (256 bits)
const accountTokenBytes = 32

const maxAccountTokenTTL = 24 * time.Hour

// RegisterInput is a self-service registration request
type RegisterInput struct {
	Email                 string `json:"email"`
	Password              string `json:"password"`
	FullName              string `json:"full_name"`
	Title                 string `json:"title"`
	PhoneNumber           string `json:"phone_number"`
	Designation           string `json:"designation"`
	ReasonForAccessing    string `json:"reason_for_accessing"`
	OrganizationID        string `json:"organization_id"`
	SubscribeToNewsletter bool   `json:"subscribe_to_newsletter"`
}

// AccountService runs registration, email confirmation and password reset.
// Notifications are best effort and never fail the operation.
type AccountService struct {
	store        *store.Store
	users        *UserService
	notifier     core.Notifier
	auditService *AuditService
	metrics      core.Recorder
	baseURL      string
	tokenTTL     time.Duration
	now          func() time.Time
}

func NewAccountService(
	s *store.Store,
	users *UserService,
	notifier core.Notifier,
	auditService *AuditService,
	m core.Recorder,
	cfg *config.Config,
) *AccountService {
	ttl := cfg.AccountTokenTTL
	if ttl <= 0 || ttl > maxAccountTokenTTL {
		ttl = maxAccountTokenTTL
	}
	return &AccountService{
		store:        s,
		users:        users,
		notifier:     notifier,
		auditService: auditService,
		metrics:      m,
		baseURL:      cfg.PortalURL,
		tokenTTL:     ttl,
		now:          time.Now,
	}
}

// Register creates a pending guest account, sends the email confirmation
// and asks the organization's stewards (or the admins, if it has none) to
// approve it.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	user, err := s.register(ctx, in)
	if s.metrics != nil {
		s.metrics.RecordRegistration(err == nil)
	}
	return user, err
}

func (s *AccountService) register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.FullName = strings.TrimSpace(in.FullName)

	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	org, err := s.store.GetOrganization(ctx, in.OrganizationID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrUnknownOrganization
		}
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:                    uuid.New().String(),
		Username:              in.Email,
		Email:                 in.Email,
		PhoneNumber:           in.PhoneNumber,
		PasswordHash:          string(hash),
		FullName:              in.FullName,
		Title:                 in.Title,
		Designation:           in.Designation,
		ReasonForAccessing:    in.ReasonForAccessing,
		UserType:              models.UserTypeGuest,
		UserConfirmed:         models.UserPending,
		SubscribeToNewsletter: in.SubscribeToNewsletter,
		OrganizationID:        org.ID,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventUserRegistered,
		Severity:      models.SeverityInfo,
		ActorUserID:   user.ID,
		ActorUsername: user.Username,
		ResourceType:  models.ResourceUser,
		ResourceID:    user.ID,
		ResourceName:  user.Username,
		Action:        "User registered",
		Details:       models.AuditDetails{"organization_id": org.ID},
		Success:       true,
	})

	if err := s.SendEmailConfirmation(ctx, user); err != nil {
		// The account exists; confirmation can be requested again
		logAccountFailure(user, "email confirmation", err)
	}
	s.requestStewardApproval(ctx, user, org)
	return user, nil
}

// SendEmailConfirmation issues a confirmation token and notifies the user.
// Earlier unused confirmation tokens stop working.
func (s *AccountService) SendEmailConfirmation(ctx context.Context, user *models.User) error {
	if err := s.store.InvalidateAccountTokens(ctx, user.ID, models.PurposeEmailConfirmation); err != nil {
		return err
	}
	tok, err := s.issueToken(ctx, user, models.PurposeEmailConfirmation)
	if err != nil {
		return err
	}

	deliver(ctx, s.notifier, core.Message{
		Kind:       core.NotifyAccountConfirmation,
		Recipients: []string{user.Email},
		Subject:    "Confirm your email",
		Data: map[string]string{
			"full_name":    user.FullName,
			"callback_url": s.link("/confirm-email", tok),
		},
	})
	return nil
}

// ConfirmEmail consumes a confirmation token
func (s *AccountService) ConfirmEmail(ctx context.Context, tok string) (*models.User, error) {
	user, err := s.consume(ctx, tok, models.PurposeEmailConfirmation)
	if err != nil {
		return nil, err
	}

	user.EmailConfirmed = true
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	s.users.InvalidateUserCache(ctx, user.ID)

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventEmailConfirmed,
		Severity:     models.SeverityInfo,
		ActorUserID:  user.ID,
		ResourceType: models.ResourceUser,
		ResourceID:   user.ID,
		Action:       "Email address confirmed",
		Success:      true,
	})
	return user, nil
}

// ForgotPassword sends a reset link. Unknown emails succeed silently so the
// endpoint can't be used to enumerate accounts.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.store.InvalidateAccountTokens(ctx, user.ID, models.PurposePasswordReset); err != nil {
		return err
	}
	tok, err := s.issueToken(ctx, user, models.PurposePasswordReset)
	if err != nil {
		return err
	}

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventPasswordResetIssued,
		Severity:     models.SeverityInfo,
		ActorUserID:  user.ID,
		ResourceType: models.ResourceUser,
		ResourceID:   user.ID,
		Action:       "Password reset requested",
		Success:      true,
	})

	deliver(ctx, s.notifier, core.Message{
		Kind:       core.NotifyPasswordReset,
		Recipients: []string{user.Email},
		Subject:    "Reset your password",
		Data: map[string]string{
			"full_name":    user.FullName,
			"callback_url": s.link("/reset-password", tok),
		},
	})
	return nil
}

// ResetPassword consumes a reset token and sets a new password. A reset
// also proves control of the mailbox, so the email counts as confirmed.
func (s *AccountService) ResetPassword(ctx context.Context, tok, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	user, err := s.consume(ctx, tok, models.PurposePasswordReset)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.EmailConfirmed = true
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	s.users.InvalidateUserCache(ctx, user.ID)

	if err := s.store.InvalidateAccountTokens(ctx, user.ID, models.PurposePasswordReset); err != nil {
		return err
	}

	return s.auditService.LogSync(ctx, AuditLogEntry{
		EventType:    models.EventPasswordReset,
		Severity:     models.SeverityWarning,
		ActorUserID:  user.ID,
		ResourceType: models.ResourceUser,
		ResourceID:   user.ID,
		Action:       "Password reset",
		Success:      true,
	})
}

// SweepExpiredTokens deletes account tokens that expired before cutoff
func (s *AccountService) SweepExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.store.DeleteExpiredAccountTokens(ctx, cutoff)
}

func (s *AccountService) issueToken(
	ctx context.Context,
	user *models.User,
	purpose models.AccountTokenPurpose,
) (string, error) {
	tok, err := util.RandomHandle(accountTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate account token: %w", err)
	}
	now := s.now()
	record := &models.AccountToken{
		ID:        uuid.New().String(),
		TokenHash: util.SHA256Hex(tok),
		Purpose:   purpose,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.tokenTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateAccountToken(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store account token: %w", err)
	}
	return tok, nil
}

func (s *AccountService) consume(
	ctx context.Context,
	tok string,
	purpose models.AccountTokenPurpose,
) (*models.User, error) {
	if tok == "" {
		return nil, ErrInvalidAccountToken
	}
	record, err := s.store.ConsumeAccountToken(ctx, tok, purpose)
	if err != nil {
		if errors.Is(err, store.ErrAccountTokenInvalid) {
			return nil, ErrInvalidAccountToken
		}
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrInvalidAccountToken
		}
		return nil, err
	}
	return user, nil
}

func (s *AccountService) requestStewardApproval(ctx context.Context, user *models.User, org *models.Organization) {
	approvers, err := s.store.ListStewardsByOrganization(ctx, org.ID)
	if err == nil && len(approvers) == 0 {
		approvers, err = s.store.ListAdmins(ctx)
	}
	if err != nil {
		logAccountFailure(user, "steward lookup", err)
		return
	}

	recipients := make([]string, 0, len(approvers))
	for _, a := range approvers {
		recipients = append(recipients, a.Email)
	}
	deliver(ctx, s.notifier, core.Message{
		Kind:       core.NotifyStewardApprovalRequest,
		Recipients: recipients,
		Subject:    "Confirm " + user.FullName + "'s account",
		Data: map[string]string{
			"full_name":    user.FullName,
			"title":        user.Title,
			"email":        user.Email,
			"phone_number": user.PhoneNumber,
			"designation":  user.Designation,
			"reason":       user.ReasonForAccessing,
			"organization": org.Name,
			"user_id":      user.ID,
			"callback_url": strings.TrimRight(s.baseURL, "/") + "/users",
		},
	})
}

func (s *AccountService) link(path, tok string) string {
	return strings.TrimRight(s.baseURL, "/") + path + "?token=" + url.QueryEscape(tok)
}

func logAccountFailure(user *models.User, what string, err error) {
	log.Printf("[Account] %s failed for user=%s: %v", what, user.ID, err)
}

func validateRegistration(in RegisterInput) error {
	switch {
	case in.Email == "":
		return fmt.Errorf("%w: email is required", ErrInvalidRegistration)
	case in.FullName == "":
		return fmt.Errorf("%w: full name is required", ErrInvalidRegistration)
	case in.PhoneNumber == "":
		return fmt.Errorf("%w: phone number is required", ErrInvalidRegistration)
	case in.OrganizationID == "":
		return fmt.Errorf("%w: organization is required", ErrInvalidRegistration)
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: invalid email address", ErrInvalidRegistration)
	}
	return validatePassword(in.Password)
}

func validatePassword(p string) error {
	if len(p) < 8 {
		return ErrWeakPassword
	}
	var letter, digit bool
	for _, r := range p {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return ErrWeakPassword
	}
	return nil
}
