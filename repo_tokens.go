package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationTokens persists single-use tokens. ClaimTx is the only way a
// token transitions to consumed.
type VerificationTokens interface {
	Create(ctx context.Context, token *VerificationToken) (*VerificationToken, error)
	CreateTx(ctx context.Context, tx bun.IDB, token *VerificationToken) (*VerificationToken, error)
	GetByValueTx(ctx context.Context, tx bun.IDB, value string) (*VerificationToken, error)
	ClaimTx(ctx context.Context, tx bun.IDB, value string, at time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type verificationTokens struct {
	db *bun.DB
}

var _ VerificationTokens = (*verificationTokens)(nil)

func NewVerificationTokensRepository(db *bun.DB) VerificationTokens {
	return &verificationTokens{db: db}
}

func (r *verificationTokens) Create(ctx context.Context, token *VerificationToken) (*VerificationToken, error) {
	return r.CreateTx(ctx, r.db, token)
}

func (r *verificationTokens) CreateTx(ctx context.Context, tx bun.IDB, token *VerificationToken) (*VerificationToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt == nil {
		now := time.Now()
		token.CreatedAt = &now
	}
	token.Email = NormalizeEmail(token.Email)

	if _, err := tx.NewInsert().Model(token).Exec(ctx); err != nil {
		return nil, err
	}

	return token, nil
}

func (r *verificationTokens) GetByValueTx(ctx context.Context, tx bun.IDB, value string) (*VerificationToken, error) {
	record := &VerificationToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

// ClaimTx marks the token consumed with a single conditional update. Under
// concurrent consumption the row-level write lock serializes the two
// updates and exactly one observes an affected row.
func (r *verificationTokens) ClaimTx(ctx context.Context, tx bun.IDB, value string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*VerificationToken)(nil)).
		Set("consumed_at = ?", at).
		Where("token = ? AND consumed_at IS NULL", value).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// DeleteExpired prunes dead tokens; historical rows are not cascaded on
// user deletion, so this is the only cleanup path.
func (r *verificationTokens) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("expires_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
