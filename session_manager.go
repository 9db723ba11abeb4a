package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionMeta carries optional request metadata recorded on the session row.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}

// SessionManager issues, renews, and revokes DB-backed sessions.
type SessionManager struct {
	repo      RepositoryManager
	lifetime  time.Duration
	updateAge time.Duration
	logger    Logger
}

func NewSessionManager(repo RepositoryManager, lifetime, updateAge time.Duration) *SessionManager {
	if lifetime <= 0 {
		lifetime = 7 * 24 * time.Hour
	}
	if updateAge <= 0 {
		updateAge = 24 * time.Hour
	}

	return &SessionManager{
		repo:      repo,
		lifetime:  lifetime,
		updateAge: updateAge,
		logger:    defLogger{},
	}
}

func (sm *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		sm.logger = logger
	}
	return sm
}

// Lifetime returns the fixed session lifetime.
func (sm *SessionManager) Lifetime() time.Duration {
	return sm.lifetime
}

// UpdateAge returns the rolling renewal threshold.
func (sm *SessionManager) UpdateAge() time.Duration {
	return sm.updateAge
}

// Create issues a new session expiring a full lifetime from now.
func (sm *SessionManager) Create(ctx context.Context, userID uuid.UUID, meta SessionMeta) (*Session, error) {
	return sm.CreateTx(ctx, sm.repo.DB(), userID, meta)
}

func (sm *SessionManager) CreateTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, meta SessionMeta) (*Session, error) {
	now := time.Now()
	session := &Session{
		UserID:         userID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(sm.lifetime),
		LastActivityAt: now,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	}

	created, err := sm.repo.Sessions().CreateTx(ctx, tx, session)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session")
	}

	return created, nil
}

// Validate resolves a session id to its row, failing with ErrSessionNotFound
// or ErrSessionExpired.
func (sm *SessionManager) Validate(ctx context.Context, id uuid.UUID) (*Session, error) {
	session, err := sm.repo.Sessions().GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up session")
	}

	if session.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}

	return session, nil
}

// Touch slides the expiry forward by a full lifetime when the session's
// last activity is older than the update age. Fresh or expired sessions
// are left untouched; the session id never changes.
func (sm *SessionManager) Touch(ctx context.Context, id uuid.UUID) error {
	session, err := sm.repo.Sessions().GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrSessionNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up session")
	}

	now := time.Now()
	if session.Expired(now) {
		return ErrSessionExpired
	}

	if now.Sub(session.LastActivityAt) < sm.updateAge {
		return nil
	}

	if err := sm.repo.Sessions().Renew(ctx, id, now.Add(sm.lifetime), now); err != nil {
		if repository.IsRecordNotFound(err) {
			// revoked or lapsed between read and write
			return ErrSessionNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to renew session")
	}

	return nil
}

// Revoke deletes a session row. Revocation is immediate and irreversible.
func (sm *SessionManager) Revoke(ctx context.Context, id uuid.UUID) error {
	if err := sm.repo.Sessions().DeleteByID(ctx, id); err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrSessionNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}
	return nil
}

// RevokeAll deletes every session for the user, e.g. after a password
// change or suspicious activity.
func (sm *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return sm.RevokeAllTx(ctx, sm.repo.DB(), userID)
}

func (sm *SessionManager) RevokeAllTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	revoked, err := sm.repo.Sessions().DeleteByUserTx(ctx, tx, userID)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke user sessions")
	}

	if revoked > 0 {
		sm.logger.Debug("revoked %d session(s) for user %s", revoked, userID)
	}

	return revoked, nil
}
