package services

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier keeps every message it is given
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []core.Message
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg core.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) byKind(kind core.NotificationKind) []core.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []core.Message
	for _, m := range n.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func tokenFrom(t *testing.T, msg core.Message) string {
	t.Helper()
	u, err := url.Parse(msg.Data["callback_url"])
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}

type accountFixture struct {
	store    *store.Store
	users    *UserService
	accounts *AccountService
	notifier *recordingNotifier
	org      *models.Organization
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	db := setupTestStore(t)
	n := &recordingNotifier{}
	users := newUserServiceWithStore(db, nil, n)
	return &accountFixture{
		store:    db,
		users:    users,
		accounts: NewAccountService(db, users, n, nil, nil, testConfig()),
		notifier: n,
		org:      makeTestOrg(t, db),
	}
}

func (f *accountFixture) input(email, phone string) RegisterInput {
	return RegisterInput{
		Email:              email,
		Password:           "Passw0rd!",
		FullName:           "Jane Doe",
		Title:              "Dr",
		PhoneNumber:        phone,
		Designation:        "Analyst",
		ReasonForAccessing: "reporting",
		OrganizationID:     f.org.ID,
	}
}

func TestRegister(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	steward := makeTestUser(t, f.store, f.org.ID, models.UserTypeSteward)
	makeTestUser(t, f.store, "", models.UserTypeAdmin)

	user, err := f.accounts.Register(ctx, f.input("jane@example.com", "+254700000001"))
	require.NoError(t, err)
	assert.Equal(t, models.UserTypeGuest, user.UserType)
	assert.Equal(t, models.UserPending, user.UserConfirmed)
	assert.False(t, user.EmailConfirmed)
	assert.Equal(t, "jane@example.com", user.Username)
	assert.NotEqual(t, "Passw0rd!", user.PasswordHash)

	confirmations := f.notifier.byKind(core.NotifyAccountConfirmation)
	require.Len(t, confirmations, 1)
	assert.Equal(t, []string{"jane@example.com"}, confirmations[0].Recipients)

	approvals := f.notifier.byKind(core.NotifyStewardApprovalRequest)
	require.Len(t, approvals, 1)
	assert.Equal(t, []string{steward.Email}, approvals[0].Recipients, "stewards, not admins, when the org has them")
	assert.Equal(t, f.org.Name, approvals[0].Data["organization"])
	assert.Equal(t, user.ID, approvals[0].Data["user_id"])
}

func TestRegisterFallsBackToAdmins(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	admin := makeTestUser(t, f.store, "", models.UserTypeAdmin)

	_, err := f.accounts.Register(ctx, f.input("jane@example.com", "+254700000001"))
	require.NoError(t, err)

	approvals := f.notifier.byKind(core.NotifyStewardApprovalRequest)
	require.Len(t, approvals, 1)
	assert.Equal(t, []string{admin.Email}, approvals[0].Recipients)
}

func TestRegisterNotifierFailureDoesNotFail(t *testing.T) {
	f := newAccountFixture(t)
	f.notifier.err = assert.AnError
	makeTestUser(t, f.store, f.org.ID, models.UserTypeSteward)

	user, err := f.accounts.Register(context.Background(), f.input("jane@example.com", "+254700000001"))
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Len(t, f.notifier.msgs, 2)
}

func TestRegisterValidation(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	_, err := f.accounts.Register(ctx, f.input("jane@example.com", "+254700000001"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*RegisterInput)
		want   error
	}{
		{"missing email", func(in *RegisterInput) { in.Email = "" }, ErrInvalidRegistration},
		{"bad email", func(in *RegisterInput) { in.Email = "Jane <jane@x.org>" }, ErrInvalidRegistration},
		{"missing phone", func(in *RegisterInput) { in.PhoneNumber = "" }, ErrInvalidRegistration},
		{"short password", func(in *RegisterInput) { in.Password = "a1" }, ErrWeakPassword},
		{"no digit", func(in *RegisterInput) { in.Password = "passwordonly" }, ErrWeakPassword},
		{"unknown org", func(in *RegisterInput) { in.OrganizationID = "nope" }, ErrUnknownOrganization},
		{"duplicate email", func(in *RegisterInput) { in.Email = "JANE@example.com" }, store.ErrEmailConflict},
		{"duplicate phone", func(in *RegisterInput) {
			in.Email = "other@example.com"
			in.PhoneNumber = "+254700000001"
		}, store.ErrPhoneConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input("new@example.com", "+254700000099")
			tt.mutate(&in)
			_, err := f.accounts.Register(ctx, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfirmEmail(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	user, err := f.accounts.Register(ctx, f.input("jane@example.com", "+254700000001"))
	require.NoError(t, err)

	tok := tokenFrom(t, f.notifier.byKind(core.NotifyAccountConfirmation)[0])

	_, err = f.users.Authenticate(ctx, "jane@example.com", "Passw0rd!")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	confirmed, err := f.accounts.ConfirmEmail(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, user.ID, confirmed.ID)
	assert.True(t, confirmed.EmailConfirmed)

	_, err = f.accounts.ConfirmEmail(ctx, tok)
	assert.ErrorIs(t, err, ErrInvalidAccountToken, "tokens are single use")

	_, err = f.users.Authenticate(ctx, "jane@example.com", "Passw0rd!")
	assert.NoError(t, err)
}

func TestConfirmEmailResendInvalidatesOldToken(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	user, err := f.accounts.Register(ctx, f.input("jane@example.com", "+254700000001"))
	require.NoError(t, err)
	first := tokenFrom(t, f.notifier.byKind(core.NotifyAccountConfirmation)[0])

	require.NoError(t, f.accounts.SendEmailConfirmation(ctx, user))
	second := tokenFrom(t, f.notifier.byKind(core.NotifyAccountConfirmation)[1])

	_, err = f.accounts.ConfirmEmail(ctx, first)
	assert.ErrorIs(t, err, ErrInvalidAccountToken)
	_, err = f.accounts.ConfirmEmail(ctx, second)
	assert.NoError(t, err)
}

func TestAccountTokenExpires(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	f.accounts.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	_, err := f.accounts.Register(ctx, f.input("jane@example.com", "+254700000001"))
	require.NoError(t, err)
	tok := tokenFrom(t, f.notifier.byKind(core.NotifyAccountConfirmation)[0])

	_, err = f.accounts.ConfirmEmail(ctx, tok)
	assert.ErrorIs(t, err, ErrInvalidAccountToken)

	n, err := f.accounts.SweepExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAccountTokenPurposeIsChecked(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	_, err := f.accounts.Register(ctx, f.input("jane@example.com", "+254700000001"))
	require.NoError(t, err)
	tok := tokenFrom(t, f.notifier.byKind(core.NotifyAccountConfirmation)[0])

	err = f.accounts.ResetPassword(ctx, tok, "NewPassw0rd")
	assert.ErrorIs(t, err, ErrInvalidAccountToken)
}

func TestPasswordReset(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	u := makeTestUser(t, f.store, f.org.ID, models.UserTypeNormal)

	require.NoError(t, f.accounts.ForgotPassword(ctx, "nobody@example.com"))
	assert.Empty(t, f.notifier.byKind(core.NotifyPasswordReset))

	require.NoError(t, f.accounts.ForgotPassword(ctx, u.Email))
	resets := f.notifier.byKind(core.NotifyPasswordReset)
	require.Len(t, resets, 1)
	tok := tokenFrom(t, resets[0])

	assert.ErrorIs(t, f.accounts.ResetPassword(ctx, tok, "weak"), ErrWeakPassword)
	require.NoError(t, f.accounts.ResetPassword(ctx, tok, "NewPassw0rd"))
	assert.ErrorIs(t, f.accounts.ResetPassword(ctx, tok, "OtherPassw0rd"), ErrInvalidAccountToken)

	_, err := f.users.Authenticate(ctx, u.Username, "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.Authenticate(ctx, u.Username, "NewPassw0rd")
	assert.NoError(t, err)
}
