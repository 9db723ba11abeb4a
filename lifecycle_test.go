package auth

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type stubExchanger struct {
	name    string
	profile *SocialProfile
	err     error
	codes   []string
}

func (s *stubExchanger) Name() string { return s.name }

func (s *stubExchanger) Exchange(ctx context.Context, code string) (*SocialProfile, error) {
	s.codes = append(s.codes, code)
	if s.err != nil {
		return nil, s.err
	}
	return s.profile, nil
}

func TestLifecycleSignUpVerifySignIn(t *testing.T) {
	lc, _, notifier, sink, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	user, err := lc.SignUp(ctx, SignUpInput{
		Email:    "Person@Example.com",
		Password: "correct-horse",
		Name:     "Person",
	})
	require.NoError(t, err)
	assert.Equal(t, "person@example.com", user.Email)
	assert.False(t, user.EmailVerified)

	mail := notifier.last(t)
	assert.Equal(t, "person@example.com", mail.To)
	assert.Equal(t, SubjectVerifyEmail, mail.Subject)

	// password sign-in is gated until the address is proven
	_, _, err = lc.SignIn(ctx, "person@example.com", "correct-horse", SessionMeta{})
	assert.True(t, goerrors.Is(err, ErrEmailNotVerified))

	session, verified, err := lc.VerifyEmail(ctx, tokenFromBody(t, mail.Body), SessionMeta{})
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)
	assert.Equal(t, user.ID, session.UserID)

	session, _, err = lc.SignIn(ctx, "person@example.com", "correct-horse", SessionMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), session.ExpiresAt, time.Minute)

	assert.Len(t, sink.byType(ActivityEventSignUp), 1)
	assert.Len(t, sink.byType(ActivityEventEmailVerified), 1)
	assert.NotEmpty(t, sink.byType(ActivityEventSignInSuccess))
}

func TestLifecycleSignUpDuplicateEmail(t *testing.T) {
	lc, _, _, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	_, err := lc.SignUp(ctx, SignUpInput{Email: "person@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = lc.SignUp(ctx, SignUpInput{Email: "PERSON@example.com", Password: "another-pass"})
	assert.True(t, goerrors.Is(err, ErrDuplicateEmail))
}

func TestLifecycleSignUpValidation(t *testing.T) {
	lc, _, notifier, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	cases := []SignUpInput{
		{Email: "", Password: "correct-horse"},
		{Email: "not-an-email", Password: "correct-horse"},
		{Email: "person@example.com", Password: ""},
		{Email: "person@example.com", Password: "short"},
		{Email: "person@example.com", Password: "correct-horse", Phone: "not-a-phone"},
	}

	for _, input := range cases {
		_, err := lc.SignUp(ctx, input)
		require.Error(t, err, "input %+v", input)

		var rich *goerrors.Error
		require.True(t, goerrors.As(err, &rich))
		assert.Equal(t, goerrors.CategoryValidation, rich.Category)
	}

	assert.Zero(t, notifier.count())
}

func TestLifecycleSignInRejectsBadCredentials(t *testing.T) {
	lc, _, _, sink, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	_, err := lc.SignUp(ctx, SignUpInput{Email: "person@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	// same error whether the email or the password was wrong
	_, _, err = lc.SignIn(ctx, "nobody@example.com", "correct-horse", SessionMeta{})
	assert.True(t, goerrors.Is(err, ErrInvalidCredentials))

	_, _, err = lc.SignIn(ctx, "person@example.com", "wrong-password", SessionMeta{})
	assert.True(t, goerrors.Is(err, ErrInvalidCredentials))

	assert.Len(t, sink.byType(ActivityEventSignInFailure), 2)
}

func TestLifecycleSignInWithoutPasswordCredential(t *testing.T) {
	lc, repo, _, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	// social-only user has no password hash
	seedUser(t, repo, "social@example.com", "", true)

	_, _, err := lc.SignIn(context.Background(), "social@example.com", "anything", SessionMeta{})
	assert.True(t, goerrors.Is(err, ErrInvalidCredentials))
}

func TestLifecycleResendVerification(t *testing.T) {
	lc, _, notifier, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	_, err := lc.SignUp(ctx, SignUpInput{Email: "person@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	sent := notifier.count()

	// unknown email is silently accepted
	require.NoError(t, lc.ResendVerification(ctx, "nobody@example.com"))
	assert.Equal(t, sent, notifier.count())

	// unverified user gets a fresh link
	require.NoError(t, lc.ResendVerification(ctx, "person@example.com"))
	assert.Equal(t, sent+1, notifier.count())

	_, _, err = lc.VerifyEmail(ctx, tokenFromBody(t, notifier.last(t).Body), SessionMeta{})
	require.NoError(t, err)

	// verified user gets nothing
	require.NoError(t, lc.ResendVerification(ctx, "person@example.com"))
	assert.Equal(t, sent+1, notifier.count())
}

func TestLifecycleVerifyEmailTokenErrors(t *testing.T) {
	lc, _, notifier, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	_, err := lc.SignUp(ctx, SignUpInput{Email: "person@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	token := tokenFromBody(t, notifier.last(t).Body)

	_, _, err = lc.VerifyEmail(ctx, "bogus-token", SessionMeta{})
	assert.True(t, goerrors.Is(err, ErrTokenNotFound))

	_, _, err = lc.VerifyEmail(ctx, token, SessionMeta{})
	require.NoError(t, err)

	// a consumed link cannot be replayed
	_, _, err = lc.VerifyEmail(ctx, token, SessionMeta{})
	assert.True(t, goerrors.Is(err, ErrTokenAlreadyUsed))
}

func TestLifecycleMagicLinkCreatesUserLazily(t *testing.T) {
	lc, repo, notifier, sink, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, lc.RequestMagicLink(ctx, "new@example.com"))

	// requesting a link must not register the user yet
	_, err := repo.Users().GetByEmail(ctx, "new@example.com")
	require.Error(t, err)

	mail := notifier.last(t)
	assert.Equal(t, SubjectMagicLink, mail.Subject)

	session, user, err := lc.ConsumeMagicLink(ctx, tokenFromBody(t, mail.Body), SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, user.ID, session.UserID)

	assert.Len(t, sink.byType(ActivityEventMagicLinkRequested), 1)
	assert.Len(t, sink.byType(ActivityEventMagicLinkConsumed), 1)
}

func TestLifecycleMagicLinkForExistingUser(t *testing.T) {
	lc, repo, notifier, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()
	existing := seedUser(t, repo, "person@example.com", "correct-horse", false)

	require.NoError(t, lc.RequestMagicLink(ctx, "person@example.com"))

	_, user, err := lc.ConsumeMagicLink(ctx, tokenFromBody(t, notifier.last(t).Body), SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)

	// the consumed link proves the mailbox, so the user comes out verified
	assert.True(t, user.EmailVerified)
	fresh, err := repo.Users().GetByEmail(ctx, "person@example.com")
	require.NoError(t, err)
	assert.True(t, fresh.EmailVerified)
}

func TestLifecycleMagicLinksAreIndependent(t *testing.T) {
	lc, _, notifier, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, lc.RequestMagicLink(ctx, "person@example.com"))
	first := tokenFromBody(t, notifier.last(t).Body)

	require.NoError(t, lc.RequestMagicLink(ctx, "person@example.com"))
	second := tokenFromBody(t, notifier.last(t).Body)
	require.NotEqual(t, first, second)

	_, _, err := lc.ConsumeMagicLink(ctx, first, SessionMeta{})
	require.NoError(t, err)

	// the newer link is unaffected by the older one's consumption
	_, _, err = lc.ConsumeMagicLink(ctx, second, SessionMeta{})
	require.NoError(t, err)

	_, _, err = lc.ConsumeMagicLink(ctx, first, SessionMeta{})
	assert.True(t, goerrors.Is(err, ErrTokenAlreadyUsed))
}

func TestLifecyclePasswordReset(t *testing.T) {
	lc, repo, notifier, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	_, err := lc.SignUp(ctx, SignUpInput{Email: "person@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	_, _, err = lc.VerifyEmail(ctx, tokenFromBody(t, notifier.last(t).Body), SessionMeta{})
	require.NoError(t, err)

	session, user, err := lc.SignIn(ctx, "person@example.com", "correct-horse", SessionMeta{})
	require.NoError(t, err)

	sent := notifier.count()

	// unknown email: silent success, no mail
	require.NoError(t, lc.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Equal(t, sent, notifier.count())

	require.NoError(t, lc.RequestPasswordReset(ctx, "person@example.com"))
	mail := notifier.last(t)
	assert.Equal(t, SubjectResetPassword, mail.Subject)
	token := tokenFromBody(t, mail.Body)

	require.NoError(t, lc.ResetPassword(ctx, token, "new-password-1"))

	// reset revokes every outstanding session
	count, err := repo.Sessions().CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = lc.Sessions().Validate(ctx, session.ID)
	assert.True(t, goerrors.Is(err, ErrSessionNotFound))

	_, _, err = lc.SignIn(ctx, "person@example.com", "correct-horse", SessionMeta{})
	assert.True(t, goerrors.Is(err, ErrInvalidCredentials))

	_, _, err = lc.SignIn(ctx, "person@example.com", "new-password-1", SessionMeta{})
	require.NoError(t, err)

	// the token is single use
	err = lc.ResetPassword(ctx, token, "yet-another-pass")
	assert.True(t, goerrors.Is(err, ErrTokenAlreadyUsed))
}

func TestLifecycleResetPasswordValidatesInput(t *testing.T) {
	lc, _, _, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	err := lc.ResetPassword(context.Background(), "whatever", "short")
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, goerrors.CategoryValidation, rich.Category)
}

func TestLifecycleEmailChange(t *testing.T) {
	lc, repo, notifier, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	_, err := lc.SignUp(ctx, SignUpInput{Email: "old@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	_, user, err := lc.VerifyEmail(ctx, tokenFromBody(t, notifier.last(t).Body), SessionMeta{})
	require.NoError(t, err)

	// changing to the current address is rejected
	err = lc.RequestEmailChange(ctx, user.ID, "old@example.com")
	require.Error(t, err)

	// taken addresses are rejected up front
	seedUser(t, repo, "taken@example.com", "secret-pass", true)
	err = lc.RequestEmailChange(ctx, user.ID, "taken@example.com")
	assert.True(t, goerrors.Is(err, ErrDuplicateEmail))

	require.NoError(t, lc.RequestEmailChange(ctx, user.ID, "new@example.com"))

	mail := notifier.last(t)
	assert.Equal(t, "new@example.com", mail.To)
	assert.Equal(t, SubjectVerifyNewEmail, mail.Subject)

	// the old address keeps working until the link is consumed
	pending, err := repo.Users().GetByEmail(ctx, "old@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", pending.PendingEmail)

	_, swapped, err := lc.VerifyEmail(ctx, tokenFromBody(t, mail.Body), SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", swapped.Email)
	assert.Empty(t, swapped.PendingEmail)
	assert.True(t, swapped.EmailVerified)

	_, err = repo.Users().GetByEmail(ctx, "old@example.com")
	require.Error(t, err)

	_, _, err = lc.SignIn(ctx, "new@example.com", "correct-horse", SessionMeta{})
	require.NoError(t, err)
}

func TestLifecycleSocialSignIn(t *testing.T) {
	lc, _, _, sink, cleanup := newTestLifecycle(t)
	defer cleanup()

	exchanger := &stubExchanger{
		name: "github",
		profile: &SocialProfile{
			Provider:          "github",
			ProviderAccountID: "gh-1",
			Email:             "person@example.com",
			EmailVerified:     true,
			Name:              "Person",
		},
	}
	lc.WithExchanger(exchanger)

	ctx := context.Background()

	session, user, err := lc.SocialSignIn(ctx, "GitHub", "auth-code", SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, "person@example.com", user.Email)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, []string{"auth-code"}, exchanger.codes)
	assert.Len(t, sink.byType(ActivityEventSocialSignIn), 1)

	_, _, err = lc.SocialSignIn(ctx, "gitlab", "auth-code", SessionMeta{})
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, goerrors.CategoryBadInput, rich.Category)
}

func TestLifecycleSocialSignInLinksExistingAccount(t *testing.T) {
	lc, repo, _, sink, cleanup := newTestLifecycle(t)
	defer cleanup()

	existing := seedUser(t, repo, "person@example.com", "correct-horse", true)

	lc.WithExchanger(&stubExchanger{
		name: "github",
		profile: &SocialProfile{
			Provider:          "github",
			ProviderAccountID: "gh-1",
			Email:             "person@example.com",
			EmailVerified:     true,
		},
	})

	_, user, err := lc.SocialSignIn(context.Background(), "github", "auth-code", SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)
	assert.Len(t, sink.byType(ActivityEventAccountLinked), 1)
}

func TestLifecycleSignOutIsIdempotent(t *testing.T) {
	lc, repo, _, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()
	seedUser(t, repo, "person@example.com", "correct-horse", true)

	session, _, err := lc.SignIn(ctx, "person@example.com", "correct-horse", SessionMeta{})
	require.NoError(t, err)

	require.NoError(t, lc.SignOut(ctx, session.ID))
	require.NoError(t, lc.SignOut(ctx, session.ID))
	require.NoError(t, lc.SignOut(ctx, uuid.New()))
}

func TestLifecycleUpdateProfile(t *testing.T) {
	lc, repo, _, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, repo, "person@example.com", "correct-horse", true)

	_, err := lc.UpdateProfile(ctx, user.ID, UpdateProfileInput{})
	require.Error(t, err)

	name := "New Name"
	image := "https://example.com/avatar.png"
	updated, err := lc.UpdateProfile(ctx, user.ID, UpdateProfileInput{Name: &name, Image: &image})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, image, updated.Image)

	// untouched fields survive
	assert.Equal(t, "person@example.com", updated.Email)

	bad := "not-a-phone"
	_, err = lc.UpdateProfile(ctx, user.ID, UpdateProfileInput{Phone: &bad})
	require.Error(t, err)
}

func TestLifecycleListUsers(t *testing.T) {
	lc, repo, _, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		seedUser(t, repo, email, "correct-horse", true)
	}

	users, total, err := lc.ListUsers(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, users, 2)

	rest, _, err := lc.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestLifecycleDeleteUserCascades(t *testing.T) {
	lc, repo, _, sink, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	lc.WithExchanger(&stubExchanger{
		name: "github",
		profile: &SocialProfile{
			Provider:          "github",
			ProviderAccountID: "gh-1",
			Email:             "person@example.com",
			EmailVerified:     true,
		},
	})

	session, user, err := lc.SocialSignIn(ctx, "github", "auth-code", SessionMeta{})
	require.NoError(t, err)
	_, _, err = lc.SocialSignIn(ctx, "github", "auth-code", SessionMeta{})
	require.NoError(t, err)

	require.NoError(t, lc.DeleteUser(ctx, user.ID))

	_, err = lc.GetUser(ctx, user.ID)
	assert.True(t, goerrors.Is(err, ErrUserNotFound))

	count, err := repo.Sessions().CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	accounts, err := repo.Accounts().FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	_, err = lc.Sessions().Validate(ctx, session.ID)
	assert.True(t, goerrors.Is(err, ErrSessionNotFound))

	assert.Len(t, sink.byType(ActivityEventUserDeleted), 1)

	// deleting an already-gone user reports not found
	err = lc.DeleteUser(ctx, user.ID)
	assert.True(t, goerrors.Is(err, ErrUserNotFound))
}

type failingAccounts struct {
	Accounts
}

func (failingAccounts) DeleteByUserTx(context.Context, bun.IDB, uuid.UUID) (int64, error) {
	return 0, goerrors.New("credential delete refused", goerrors.CategoryInternal)
}

type failingAccountsManager struct {
	RepositoryManager
}

func (m failingAccountsManager) Accounts() Accounts {
	return failingAccounts{m.RepositoryManager.Accounts()}
}

func TestLifecycleDeleteUserRollsBackOnCredentialFailure(t *testing.T) {
	lc, repo, _, _, cleanup := newTestLifecycle(t)
	defer cleanup()

	ctx := context.Background()

	lc.WithExchanger(&stubExchanger{
		name: "github",
		profile: &SocialProfile{
			Provider:          "github",
			ProviderAccountID: "gh-1",
			Email:             "person@example.com",
			EmailVerified:     true,
		},
	})

	session, user, err := lc.SocialSignIn(ctx, "github", "auth-code", SessionMeta{})
	require.NoError(t, err)

	broken := NewLifecycle(failingAccountsManager{repo}, DefaultConfig())

	err = broken.DeleteUser(ctx, user.ID)
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, TextCodeDeletionFailed, rich.TextCode)

	// the whole cascade rolled back, nothing was deleted
	_, err = lc.GetUser(ctx, user.ID)
	require.NoError(t, err)

	count, err := repo.Sessions().CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	accounts, err := repo.Accounts().FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	_, err = lc.Sessions().Validate(ctx, session.ID)
	assert.NoError(t, err)
}
