package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts manages social credential rows. A (provider, provider_account_id)
// pair belongs to at most one user.
type Accounts interface {
	FindByProviderID(ctx context.Context, provider, providerAccountID string) (*Account, error)
	FindByProviderIDTx(ctx context.Context, tx bun.IDB, provider, providerAccountID string) (*Account, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]*Account, error)
	FindByUserIDTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*Account, error)
	LinkTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error)
}

type accounts struct {
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

func NewAccountsRepository(db *bun.DB) Accounts {
	return &accounts{db: db}
}

func (r *accounts) FindByProviderID(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	return r.FindByProviderIDTx(ctx, r.db, provider, providerAccountID)
}

func (r *accounts) FindByProviderIDTx(ctx context.Context, tx bun.IDB, provider, providerAccountID string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"provider":            provider,
					"provider_account_id": providerAccountID,
				})
		}
		return nil, err
	}

	return record, nil
}

func (r *accounts) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*Account, error) {
	return r.FindByUserIDTx(ctx, r.db, userID)
}

func (r *accounts) FindByUserIDTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*Account, error) {
	var records []*Account
	err := tx.NewSelect().
		Model(&records).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return []*Account{}, nil
		}
		return nil, err
	}
	return records, nil
}

// LinkTx attaches a social credential to a user. Attaching a pair that
// already belongs to a different user fails with ErrDuplicateAccount;
// re-linking the same pair to the same user is a no-op returning the
// existing row.
func (r *accounts) LinkTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	existing, err := r.FindByProviderIDTx(ctx, tx, account.Provider, account.ProviderAccountID)
	if err == nil {
		if existing.UserID != account.UserID {
			return nil, ErrDuplicateAccount
		}
		return existing, nil
	}
	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now()
	if account.CreatedAt == nil {
		account.CreatedAt = &now
	}
	account.UpdatedAt = &now

	if _, err := tx.NewInsert().Model(account).Exec(ctx); err != nil {
		return nil, err
	}

	return account, nil
}

func (r *accounts) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	res, err := tx.NewDelete().
		Model((*Account)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
