package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions persists session rows. Expiry and renewal policy live in the
// SessionManager; this layer only moves rows.
type Sessions interface {
	Create(ctx context.Context, session *Session) (*Session, error)
	CreateTx(ctx context.Context, tx bun.IDB, session *Session) (*Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Session, error)
	Renew(ctx context.Context, id uuid.UUID, expiresAt, lastActivityAt time.Time) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
	DeleteByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

type sessions struct {
	db *bun.DB
}

var _ Sessions = (*sessions)(nil)

func NewSessionsRepository(db *bun.DB) Sessions {
	return &sessions{db: db}
}

func (r *sessions) Create(ctx context.Context, session *Session) (*Session, error) {
	return r.CreateTx(ctx, r.db, session)
}

func (r *sessions) CreateTx(ctx context.Context, tx bun.IDB, session *Session) (*Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	if _, err := tx.NewInsert().Model(session).Exec(ctx); err != nil {
		return nil, err
	}

	return session, nil
}

func (r *sessions) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *sessions) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Session, error) {
	record := &Session{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return nil, err
	}

	return record, nil
}

// Renew slides the expiry window. Guarded on expires_at so a session that
// lapsed between read and write cannot be resurrected.
func (r *sessions) Renew(ctx context.Context, id uuid.UUID, expiresAt, lastActivityAt time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*Session)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("last_activity_at = ?", lastActivityAt).
		Where("id = ? AND expires_at > ?", id, time.Now()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRows(res, id)
}

func (r *sessions) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return r.DeleteByIDTx(ctx, r.db, id)
}

func (r *sessions) DeleteByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRows(res, id)
}

func (r *sessions) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return r.DeleteByUserTx(ctx, r.db, userID)
}

func (r *sessions) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	res, err := tx.NewDelete().
		Model((*Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessions) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	return r.db.NewSelect().
		Model((*Session)(nil)).
		Where("user_id = ?", userID).
		Count(ctx)
}
