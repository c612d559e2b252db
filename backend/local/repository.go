package local

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Repository persists accounts and refresh tokens.
type Repository struct {
	db *bun.DB
}

// NewRepository wraps db.
func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the tables when they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	models := []any{(*UserModel)(nil), (*RefreshTokenModel)(nil)}
	for _, model := range models {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FindUserByEmail looks up an account by its normalized email.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*UserModel, error) {
	var model UserModel
	err := r.db.NewSelect().
		Model(&model).
		Where("email = ?", normalizeEmail(email)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &model, nil
}

// FindUserByID looks up an account by id.
func (r *Repository) FindUserByID(ctx context.Context, id uuid.UUID) (*UserModel, error) {
	var model UserModel
	err := r.db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &model, nil
}

// InsertUser stores a new account.
func (r *Repository) InsertUser(ctx context.Context, user *UserModel) error {
	user.Email = normalizeEmail(user.Email)
	_, err := r.db.NewInsert().Model(user).Exec(ctx)
	return err
}

// ConfirmEmail marks the account email as confirmed.
func (r *Repository) ConfirmEmail(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*UserModel)(nil)).
		Set("email_confirmed_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// InsertRefreshToken stores a refresh credential.
func (r *Repository) InsertRefreshToken(ctx context.Context, token *RefreshTokenModel) error {
	_, err := r.db.NewInsert().Model(token).Exec(ctx)
	return err
}

// FindRefreshToken looks up a refresh credential.
func (r *Repository) FindRefreshToken(ctx context.Context, token string) (*RefreshTokenModel, error) {
	var model RefreshTokenModel
	err := r.db.NewSelect().
		Model(&model).
		Where("token = ?", token).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	return &model, nil
}

// RotateRefreshToken revokes prev and stores next in one transaction. It
// fails when prev was already revoked.
func (r *Repository) RotateRefreshToken(ctx context.Context, prev string, next *RefreshTokenModel, at time.Time) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*RefreshTokenModel)(nil)).
			Set("revoked_at = ?", at).
			Where("token = ?", prev).
			Where("revoked_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrRefreshTokenRevoked
		}
		_, err = tx.NewInsert().Model(next).Exec(ctx)
		return err
	})
}

// RevokeRefreshToken revokes a refresh credential. Unknown tokens are ignored.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*RefreshTokenModel)(nil)).
		Set("revoked_at = ?", at).
		Where("token = ?", token).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
