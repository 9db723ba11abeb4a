package auth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// LinkingPolicy controls when a newly asserted credential may attach to an
// existing user.
type LinkingPolicy struct {
	// TrustedProviders may auto-link to an existing user on email match.
	// Anything else needs explicit confirmation and never auto-links.
	TrustedProviders []string

	// AllowDifferentEmails permits linking when the provider email differs
	// from the account email, but only onto users whose email is already
	// verified. Registering an unverified address matching a victim's
	// social profile must not capture the victim's sign-ins.
	AllowDifferentEmails bool

	// AllowSignup permits creating a fresh user when no link is possible.
	AllowSignup bool
}

// Trusts reports whether the provider may auto-link.
func (p LinkingPolicy) Trusts(provider string) bool {
	for _, trusted := range p.TrustedProviders {
		if strings.EqualFold(trusted, provider) {
			return true
		}
	}
	return false
}

// LinkingResult contains the resolved user and metadata.
type LinkingResult struct {
	User      *User
	Account   *Account
	IsNewUser bool
	Linked    bool
}

// AccountLinker resolves a social profile to a user, attaching the
// credential when trust policy allows it.
type AccountLinker struct {
	repo   RepositoryManager
	policy LinkingPolicy
	logger Logger
}

func NewAccountLinker(repo RepositoryManager, policy LinkingPolicy) *AccountLinker {
	return &AccountLinker{
		repo:   repo,
		policy: policy,
		logger: defLogger{},
	}
}

func (l *AccountLinker) WithLogger(logger Logger) *AccountLinker {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Resolve runs ResolveTx in its own transaction.
func (l *AccountLinker) Resolve(ctx context.Context, profile *SocialProfile) (*LinkingResult, error) {
	var result *LinkingResult

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = l.ResolveTx(ctx, tx, profile)
		return err
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// ResolveTx resolves in order: existing credential, email match under
// policy, fresh sign-up. A repeated sign-in with the same provider pair
// resolves to the same user without creating a new credential row.
func (l *AccountLinker) ResolveTx(ctx context.Context, tx bun.IDB, profile *SocialProfile) (*LinkingResult, error) {
	if profile == nil || profile.Provider == "" || profile.ProviderAccountID == "" {
		return nil, goerrors.New("social profile is missing provider identity", goerrors.CategoryBadInput)
	}

	existing, err := l.repo.Accounts().FindByProviderIDTx(ctx, tx, profile.Provider, profile.ProviderAccountID)
	if err == nil {
		user, err := l.repo.Users().GetByIdentifierTx(ctx, tx, existing.UserID.String())
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load linked user")
		}
		return &LinkingResult{User: user, Account: existing}, nil
	}
	if !repository.IsRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up linked account")
	}

	email := NormalizeEmail(profile.Email)

	if email != "" {
		user, err := l.repo.Users().GetByEmailTx(ctx, tx, email)
		if err == nil {
			if err := l.checkLinkAllowed(user, profile); err != nil {
				return nil, err
			}
			return l.attach(ctx, tx, user, profile, false)
		}
		if !repository.IsRecordNotFound(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user by email")
		}
	}

	if !l.policy.AllowSignup {
		return nil, ErrLinkingNotPermitted
	}

	user, err := l.repo.Users().GetOrRegisterByEmailTx(ctx, tx, l.userFromProfile(profile))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user from social profile")
	}

	result, err := l.attach(ctx, tx, user, profile, true)
	if err != nil {
		return nil, err
	}

	l.logger.Info("created user %s from %s sign-in", user.ID, profile.Provider)
	return result, nil
}

// LinkTo attaches a provider credential to an already resolved user, e.g.
// an authenticated account-linking request. This is the one path where the
// provider email may differ from the account email, subject to policy.
func (l *AccountLinker) LinkTo(ctx context.Context, user *User, profile *SocialProfile) (*LinkingResult, error) {
	if profile == nil || profile.Provider == "" || profile.ProviderAccountID == "" {
		return nil, goerrors.New("social profile is missing provider identity", goerrors.CategoryBadInput)
	}

	if err := l.checkLinkAllowed(user, profile); err != nil {
		return nil, err
	}

	var result *LinkingResult
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = l.attach(ctx, tx, user, profile, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (l *AccountLinker) checkLinkAllowed(user *User, profile *SocialProfile) error {
	if !l.policy.Trusts(profile.Provider) {
		return ErrLinkingNotPermitted
	}

	// never attach on the word of an unverified provider email
	if !profile.EmailVerified {
		return ErrLinkingNotPermitted
	}

	if NormalizeEmail(profile.Email) != user.Email {
		if !l.policy.AllowDifferentEmails {
			return ErrLinkingNotPermitted
		}
		if !user.EmailVerified {
			return ErrLinkingNotPermitted
		}
	}

	return nil
}

func (l *AccountLinker) attach(ctx context.Context, tx bun.IDB, user *User, profile *SocialProfile, isNew bool) (*LinkingResult, error) {
	account, err := l.repo.Accounts().LinkTx(ctx, tx, &Account{
		UserID:            user.ID,
		Provider:          profile.Provider,
		ProviderAccountID: profile.ProviderAccountID,
		Email:             NormalizeEmail(profile.Email),
		Name:              profile.Name,
		AvatarURL:         profile.AvatarURL,
	})
	if err != nil {
		return nil, err
	}

	return &LinkingResult{
		User:      user,
		Account:   account,
		IsNewUser: isNew,
		Linked:    !isNew,
	}, nil
}

func (l *AccountLinker) userFromProfile(profile *SocialProfile) *User {
	user := &User{
		Email:         NormalizeEmail(profile.Email),
		EmailVerified: profile.EmailVerified,
		Name:          profile.Name,
		Image:         profile.AvatarURL,
	}

	if user.Name == "" && user.Email != "" {
		user.Name = strings.Split(user.Email, "@")[0]
	}

	return user
}
