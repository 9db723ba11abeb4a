package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// Lifecycle orchestrates sign-up, sign-in, verification, email change,
// password reset, and deletion. It owns the transaction boundaries and is
// the only layer that talks to the notifier and the activity sink.
type Lifecycle struct {
	repo     RepositoryManager
	tokens   *TokenIssuer
	sessions *SessionManager
	linker   *AccountLinker
	notifier Notifier
	activity ActivitySink
	logger   Logger

	baseURL                  string
	requireEmailVerification bool
	verifyTokenTTL           time.Duration
	resetTokenTTL            time.Duration
	magicLinkTTL             time.Duration

	exchangers map[string]SocialExchanger
}

// NewLifecycle wires the engine from a repository manager and policy config.
func NewLifecycle(repo RepositoryManager, cfg Config) *Lifecycle {
	cfg = cfg.withDefaults()

	return &Lifecycle{
		repo:                     repo,
		tokens:                   NewTokenIssuer(repo),
		sessions:                 NewSessionManager(repo, cfg.SessionLifetime, cfg.SessionUpdateAge),
		linker:                   NewAccountLinker(repo, cfg.LinkingPolicy()),
		notifier:                 noopNotifier{},
		activity:                 noopActivitySink{},
		logger:                   defLogger{},
		baseURL:                  strings.TrimRight(cfg.BaseURL, "/"),
		requireEmailVerification: !cfg.DisableEmailVerification,
		verifyTokenTTL:           cfg.VerifyTokenTTL,
		resetTokenTTL:            cfg.ResetTokenTTL,
		magicLinkTTL:             cfg.MagicLinkTokenTTL,
		exchangers:               map[string]SocialExchanger{},
	}
}

func (lc *Lifecycle) WithLogger(logger Logger) *Lifecycle {
	if logger != nil {
		lc.logger = logger
		lc.tokens.WithLogger(logger)
		lc.sessions.WithLogger(logger)
		lc.linker.WithLogger(logger)
	}
	return lc
}

// WithNotifier configures the email collaborator. Notifications are sent
// after the owning transaction commits; send failures are logged, never
// surfaced to the caller.
func (lc *Lifecycle) WithNotifier(notifier Notifier) *Lifecycle {
	lc.notifier = normalizeNotifier(notifier)
	return lc
}

// WithActivitySink configures an ActivitySink for emitting lifecycle events.
func (lc *Lifecycle) WithActivitySink(sink ActivitySink) *Lifecycle {
	lc.activity = normalizeActivitySink(sink)
	return lc
}

// WithExchanger registers a social provider code exchanger.
func (lc *Lifecycle) WithExchanger(exchanger SocialExchanger) *Lifecycle {
	if exchanger != nil {
		lc.exchangers[strings.ToLower(exchanger.Name())] = exchanger
	}
	return lc
}

// Sessions exposes the session manager, e.g. for the access guard.
func (lc *Lifecycle) Sessions() *SessionManager {
	return lc.sessions
}

// Repository exposes the underlying repository manager.
func (lc *Lifecycle) Repository() RepositoryManager {
	return lc.repo
}

// Linker exposes the account linker for explicit link requests.
func (lc *Lifecycle) Linker() *AccountLinker {
	return lc.linker
}

// SignUpInput is the payload for password sign-up.
type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

func (i SignUpInput) Validate() error {
	return wrapValidationError(validation.ValidateStruct(&i,
		validation.Field(&i.Email, validation.Required, is.Email),
		validation.Field(&i.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&i.Name, validation.Length(0, 255)),
		validation.Field(&i.Phone, validation.By(validPhone)),
	))
}

// SignUp creates an unverified user with a password credential and mails a
// verification link. When verification is not required the caller may sign
// the user in immediately.
func (lc *Lifecycle) SignUp(ctx context.Context, input SignUpInput) (*User, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	var user *User
	var token *VerificationToken

	err = lc.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = lc.repo.Users().RegisterTx(ctx, tx, &User{
			Email:        input.Email,
			Name:         input.Name,
			Phone:        input.Phone,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}

		token, err = lc.tokens.IssueTx(ctx, tx, PurposeEmailVerify, TokenSubject{
			Email:  user.Email,
			UserID: &user.ID,
		}, lc.verifyTokenTTL)
		return err
	})
	if err != nil {
		return nil, err
	}

	lc.notify(ctx, user.Email, SubjectVerifyEmail, verifyEmailBody(lc.verifyEmailURL(token.Token)))
	lc.emit(ctx, ActivityEventSignUp, user, nil)

	return user, nil
}

// SignIn validates a password credential and issues a session.
func (lc *Lifecycle) SignIn(ctx context.Context, email, password string, meta SessionMeta) (*Session, *User, error) {
	email = NormalizeEmail(email)

	user, err := lc.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// burn a compare so unknown emails cost as much as bad passwords
			_ = ComparePasswordAndHash(password, RandomPasswordHash())
			lc.emitFailure(ctx, email, ErrInvalidCredentials)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}

	if !user.HasPassword() {
		_ = ComparePasswordAndHash(password, RandomPasswordHash())
		lc.emitFailure(ctx, email, ErrInvalidCredentials)
		return nil, nil, ErrInvalidCredentials
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		lc.emitFailure(ctx, email, ErrInvalidCredentials)
		return nil, nil, ErrInvalidCredentials
	}

	if lc.requireEmailVerification && !user.EmailVerified {
		lc.emitFailure(ctx, email, ErrEmailNotVerified)
		return nil, nil, ErrEmailNotVerified
	}

	session, err := lc.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, nil, err
	}

	lc.emit(ctx, ActivityEventSignInSuccess, user, map[string]any{"session_id": session.ID.String()})
	return session, user, nil
}

// VerifyEmail consumes an email-verify token. First-time verification marks
// the user verified and signs them in; tokens issued for an email change
// instead swap the pending email into place.
func (lc *Lifecycle) VerifyEmail(ctx context.Context, tokenValue string, meta SessionMeta) (*Session, *User, error) {
	var user *User

	err := lc.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := lc.tokens.ConsumeTx(ctx, tx, tokenValue, PurposeEmailVerify)
		if err != nil {
			return err
		}
		if token.UserID == nil {
			return ErrTokenNotFound
		}

		user, err = lc.repo.Users().GetByIdentifierTx(ctx, tx, token.UserID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load token user")
		}

		if user.PendingEmail != "" && token.Email == user.PendingEmail {
			if err := lc.repo.Users().ConfirmPendingEmailTx(ctx, tx, user.ID, token.Email); err != nil {
				return err
			}
			user.Email = token.Email
			user.PendingEmail = ""
			user.EmailVerified = true
			return nil
		}

		if token.Email != user.Email {
			return ErrTokenNotFound
		}

		if err := lc.repo.Users().MarkEmailVerifiedTx(ctx, tx, user.ID); err != nil {
			return err
		}
		user.EmailVerified = true
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// auto sign-in once the address is proven
	session, err := lc.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, nil, err
	}

	lc.emit(ctx, ActivityEventEmailVerified, user, nil)
	return session, user, nil
}

// ResendVerification issues a fresh email-verify token for an unverified
// user. Verified users get no mail and no error.
func (lc *Lifecycle) ResendVerification(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	user, err := lc.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// do not leak which emails are registered
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}

	if user.EmailVerified {
		return nil
	}

	token, err := lc.tokens.Issue(ctx, PurposeEmailVerify, TokenSubject{
		Email:  user.Email,
		UserID: &user.ID,
	}, lc.verifyTokenTTL)
	if err != nil {
		return err
	}

	lc.notify(ctx, user.Email, SubjectVerifyEmail, verifyEmailBody(lc.verifyEmailURL(token.Token)))
	return nil
}

// RequestMagicLink mails a single-use sign-in link. The user is created
// lazily on consumption, not here, so unregistered emails still get a link.
func (lc *Lifecycle) RequestMagicLink(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := wrapValidationError(validation.Validate(email, validation.Required, is.Email)); err != nil {
		return err
	}

	subject := TokenSubject{Email: email}
	if user, err := lc.repo.Users().GetByEmail(ctx, email); err == nil {
		subject.UserID = &user.ID
	} else if !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}

	token, err := lc.tokens.Issue(ctx, PurposeMagicLink, subject, lc.magicLinkTTL)
	if err != nil {
		return err
	}

	lc.notify(ctx, email, SubjectMagicLink, magicLinkBody(lc.magicLinkURL(token.Token)))
	lc.emit(ctx, ActivityEventMagicLinkRequested, &User{Email: email}, nil)
	return nil
}

// ConsumeMagicLink redeems a magic-link token, creating the user on first
// use. A consumed link proves control of the mailbox, so the user comes out
// verified.
func (lc *Lifecycle) ConsumeMagicLink(ctx context.Context, tokenValue string, meta SessionMeta) (*Session, *User, error) {
	var user *User

	err := lc.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := lc.tokens.ConsumeTx(ctx, tx, tokenValue, PurposeMagicLink)
		if err != nil {
			return err
		}

		user, err = lc.repo.Users().GetOrRegisterByEmailTx(ctx, tx, &User{
			Email:         token.Email,
			Name:          strings.Split(token.Email, "@")[0],
			EmailVerified: true,
		})
		if err != nil {
			return err
		}

		if !user.EmailVerified {
			if err := lc.repo.Users().MarkEmailVerifiedTx(ctx, tx, user.ID); err != nil {
				return err
			}
			user.EmailVerified = true
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	session, err := lc.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, nil, err
	}

	lc.emit(ctx, ActivityEventMagicLinkConsumed, user, nil)
	return session, user, nil
}

// RequestEmailChange records the new address as pending and mails a verify
// link to it. The current email stays active until the link is consumed.
func (lc *Lifecycle) RequestEmailChange(ctx context.Context, userID uuid.UUID, newEmail string) error {
	newEmail = NormalizeEmail(newEmail)
	if err := wrapValidationError(validation.Validate(newEmail, validation.Required, is.Email)); err != nil {
		return err
	}

	user, err := lc.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if newEmail == user.Email {
		return goerrors.New("new email matches the current email", goerrors.CategoryBadInput).
			WithTextCode(TextCodeValidation)
	}

	if _, err := lc.repo.Users().GetByEmail(ctx, newEmail); err == nil {
		return ErrDuplicateEmail
	} else if !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	var token *VerificationToken
	err = lc.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lc.repo.Users().SetPendingEmailTx(ctx, tx, user.ID, newEmail); err != nil {
			return err
		}

		token, err = lc.tokens.IssueTx(ctx, tx, PurposeEmailVerify, TokenSubject{
			Email:  newEmail,
			UserID: &user.ID,
		}, lc.verifyTokenTTL)
		return err
	})
	if err != nil {
		return err
	}

	lc.notify(ctx, newEmail, SubjectVerifyNewEmail, verifyNewEmailBody(lc.verifyEmailURL(token.Token)))
	lc.emit(ctx, ActivityEventEmailChangeRequested, user, map[string]any{"pending_email": newEmail})
	return nil
}

// RequestPasswordReset mails a reset link. Unknown emails are silently
// ignored so the endpoint cannot be used to enumerate accounts.
func (lc *Lifecycle) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	user, err := lc.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}

	token, err := lc.tokens.Issue(ctx, PurposePasswordReset, TokenSubject{
		Email:  user.Email,
		UserID: &user.ID,
	}, lc.resetTokenTTL)
	if err != nil {
		return err
	}

	lc.notify(ctx, user.Email, SubjectResetPassword, resetPasswordBody(lc.resetPasswordURL(token.Token)))
	return nil
}

// ResetPassword consumes a reset token, swaps the password hash, and
// revokes every session the user had. All three steps commit or none do.
func (lc *Lifecycle) ResetPassword(ctx context.Context, tokenValue, newPassword string) error {
	if err := wrapValidationError(validation.Validate(newPassword, validation.Required, validation.Length(8, 128))); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	var user *User

	err = lc.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := lc.tokens.ConsumeTx(ctx, tx, tokenValue, PurposePasswordReset)
		if err != nil {
			return err
		}
		if token.UserID == nil {
			return ErrTokenNotFound
		}

		user, err = lc.repo.Users().GetByIdentifierTx(ctx, tx, token.UserID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load token user")
		}

		if err := lc.repo.Users().UpdatePasswordTx(ctx, tx, user.ID, hash); err != nil {
			return err
		}

		_, err = lc.sessions.RevokeAllTx(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return err
	}

	lc.emit(ctx, ActivityEventPasswordResetSuccess, user, nil)
	return nil
}

// SocialSignIn exchanges a provider authorization code for a profile, lets
// the linker resolve it to a user, and issues a session.
func (lc *Lifecycle) SocialSignIn(ctx context.Context, provider, code string, meta SessionMeta) (*Session, *User, error) {
	exchanger, ok := lc.exchangers[strings.ToLower(provider)]
	if !ok {
		return nil, nil, goerrors.New("unknown social provider", goerrors.CategoryBadInput).
			WithTextCode(TextCodeValidation).
			WithMetadata(map[string]any{"provider": provider})
	}

	profile, err := exchanger.Exchange(ctx, code)
	if err != nil {
		lc.emitFailure(ctx, "", ErrInvalidCredentials)
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryAuth, "social code exchange failed").
			WithTextCode(TextCodeInvalidCredentials)
	}

	result, err := lc.linker.Resolve(ctx, profile)
	if err != nil {
		return nil, nil, err
	}

	session, err := lc.sessions.Create(ctx, result.User.ID, meta)
	if err != nil {
		return nil, nil, err
	}

	event := ActivityEventSocialSignIn
	if result.Linked {
		lc.emit(ctx, ActivityEventAccountLinked, result.User, map[string]any{"provider": provider})
	}
	lc.emit(ctx, event, result.User, map[string]any{
		"provider":    provider,
		"is_new_user": result.IsNewUser,
	})

	return session, result.User, nil
}

// SignOut revokes the presented session. Revoking an already-gone session
// is not an error.
func (lc *Lifecycle) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	if err := lc.sessions.Revoke(ctx, sessionID); err != nil {
		if goerrors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// UpdateProfileInput carries optional profile mutations. Nil fields are
// left untouched; at least one field must be present.
type UpdateProfileInput struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
	Image *string `json:"image"`
}

func (i UpdateProfileInput) Validate() error {
	if i.Name == nil && i.Phone == nil && i.Image == nil {
		return goerrors.New("no profile fields to update", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation)
	}
	return wrapValidationError(validation.ValidateStruct(&i,
		validation.Field(&i.Name, validation.Length(0, 255)),
		validation.Field(&i.Phone, validation.By(validPhone)),
		validation.Field(&i.Image, is.URL),
	))
}

// UpdateProfile applies the given mutations to the user's profile fields.
func (lc *Lifecycle) UpdateProfile(ctx context.Context, userID uuid.UUID, input UpdateProfileInput) (*User, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	user, err := lc.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		user.Name = *input.Name
	}
	if input.Phone != nil {
		user.Phone = *input.Phone
	}
	if input.Image != nil {
		user.Image = *input.Image
	}

	updated, err := lc.repo.Users().Update(ctx, user, repository.UpdateByID(userID.String()))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	return updated, nil
}

// ListUsers returns a page of users with the total count. Intended for
// admin surfaces; the access guard decides who may call it.
func (lc *Lifecycle) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	users, total, err := lc.repo.Users().ListPage(ctx, limit, offset)
	if err != nil {
		return nil, 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list users")
	}
	return users, total, nil
}

// GetUser loads a user by id.
func (lc *Lifecycle) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	return lc.getUser(ctx, userID)
}

// DeleteUser removes the user with every session and credential in a single
// transaction. Any failing sub-step aborts the whole deletion.
func (lc *Lifecycle) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	user, err := lc.getUser(ctx, userID)
	if err != nil {
		return err
	}

	err = lc.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := lc.repo.Sessions().DeleteByUserTx(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := lc.repo.Accounts().DeleteByUserTx(ctx, tx, userID); err != nil {
			return err
		}
		return lc.repo.Users().DeleteByIDTx(ctx, tx, userID)
	})
	if err != nil {
		lc.logger.Error("user deletion rolled back for %s: %v", userID, err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account deletion failed").
			WithTextCode(TextCodeDeletionFailed)
	}

	lc.emit(ctx, ActivityEventUserDeleted, user, nil)
	return nil
}

func (lc *Lifecycle) getUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := lc.repo.Users().GetByIdentifier(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}
	return user, nil
}

func (lc *Lifecycle) notify(ctx context.Context, to, subject, body string) {
	if err := lc.notifier.Send(ctx, to, subject, body, ""); err != nil {
		lc.logger.Error("failed to send %q to %s: %v", subject, to, err)
	}
}

func (lc *Lifecycle) emit(ctx context.Context, event ActivityEventType, user *User, metadata map[string]any) {
	actor := ActorRef{Type: "user"}
	userID := ""
	if user != nil && user.ID != uuid.Nil {
		actor.ID = user.ID.String()
		userID = user.ID.String()
	}

	if err := lc.activity.Record(ctx, ActivityEvent{
		EventType:  event,
		Actor:      actor,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}); err != nil {
		lc.logger.Warn("activity sink rejected %s: %v", event, err)
	}
}

func (lc *Lifecycle) emitFailure(ctx context.Context, email string, cause error) {
	if err := lc.activity.Record(ctx, ActivityEvent{
		EventType: ActivityEventSignInFailure,
		Actor:     ActorRef{Type: "unknown"},
		Metadata: map[string]any{
			"email": email,
			"error": cause.Error(),
		},
		OccurredAt: time.Now(),
	}); err != nil {
		lc.logger.Warn("activity sink rejected %s: %v", ActivityEventSignInFailure, err)
	}
}

// validPhone accepts E.164-ish numbers parseable by libphonenumber. Empty
// values pass; optionality is the field rule's concern.
func validPhone(value any) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case *string:
		if v != nil {
			raw = *v
		}
	}
	if raw == "" {
		return nil
	}

	num, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation)
	}
	if !phonenumbers.IsValidNumber(num) {
		return goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation)
	}
	return nil
}

// wrapValidationError normalizes ozzo failures into the validation category.
func wrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, "validation failed").
		WithTextCode(TextCodeValidation)
}
