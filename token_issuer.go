package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// tokenEntropyBytes gives 256 bits of entropy per token.
const tokenEntropyBytes = 32

// TokenSubject binds a token to an email and optionally a user id.
type TokenSubject struct {
	Email  string
	UserID *uuid.UUID
}

// TokenIssuer creates and consumes single-use verification tokens.
type TokenIssuer struct {
	repo   RepositoryManager
	logger Logger
}

func NewTokenIssuer(repo RepositoryManager) *TokenIssuer {
	return &TokenIssuer{
		repo:   repo,
		logger: defLogger{},
	}
}

func (ti *TokenIssuer) WithLogger(logger Logger) *TokenIssuer {
	if logger != nil {
		ti.logger = logger
	}
	return ti
}

// Issue creates a token for the given purpose and subject. Outstanding
// tokens of the same purpose stay live; consumption is single-use per
// token, not per subject.
func (ti *TokenIssuer) Issue(ctx context.Context, purpose TokenPurpose, subject TokenSubject, ttl time.Duration) (*VerificationToken, error) {
	return ti.IssueTx(ctx, ti.repo.DB(), purpose, subject, ttl)
}

func (ti *TokenIssuer) IssueTx(ctx context.Context, tx bun.IDB, purpose TokenPurpose, subject TokenSubject, ttl time.Duration) (*VerificationToken, error) {
	value, err := generateTokenValue()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token value")
	}

	token := &VerificationToken{
		Token:     value,
		Purpose:   purpose,
		Email:     subject.Email,
		UserID:    subject.UserID,
		ExpiresAt: time.Now().Add(ttl),
	}

	created, err := ti.repo.VerificationTokens().CreateTx(ctx, tx, token)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist verification token")
	}

	return created, nil
}

// Consume validates and claims a token in one transaction.
func (ti *TokenIssuer) Consume(ctx context.Context, value string, purpose TokenPurpose) (*VerificationToken, error) {
	var token *VerificationToken

	err := ti.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = ti.ConsumeTx(ctx, tx, value, purpose)
		return err
	})

	if err != nil {
		return nil, err
	}

	return token, nil
}

// ConsumeTx looks the token up, checks purpose and expiry, then claims it
// with a conditional update. The caller that loses a concurrent claim gets
// ErrTokenAlreadyUsed.
func (ti *TokenIssuer) ConsumeTx(ctx context.Context, tx bun.IDB, value string, purpose TokenPurpose) (*VerificationToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}

	token, err := ti.repo.VerificationTokens().GetByValueTx(ctx, tx, value)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up verification token")
	}

	// a token presented against the wrong flow is indistinguishable
	// from a missing one
	if token.Purpose != purpose {
		return nil, ErrTokenNotFound
	}

	if token.Consumed() {
		return nil, ErrTokenAlreadyUsed
	}

	now := time.Now()
	if token.Expired(now) {
		return nil, ErrTokenExpired
	}

	claimed, err := ti.repo.VerificationTokens().ClaimTx(ctx, tx, value, now)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to claim verification token")
	}
	if !claimed {
		return nil, ErrTokenAlreadyUsed
	}

	token.ConsumedAt = &now
	return token, nil
}

func generateTokenValue() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
