package local

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserModel is the Bun model for local accounts.
type UserModel struct {
	bun.BaseModel `bun:"table:session_users"`

	ID               uuid.UUID      `bun:"id,pk,type:uuid"`
	Email            string         `bun:"email,notnull,unique"`
	PasswordHash     string         `bun:"password_hash,notnull"`
	Role             string         `bun:"role,notnull"`
	Metadata         map[string]any `bun:"metadata,type:jsonb"`
	EmailConfirmedAt *time.Time     `bun:"email_confirmed_at,nullzero"`
	CreatedAt        time.Time      `bun:"created_at,notnull"`
	UpdatedAt        time.Time      `bun:"updated_at,notnull"`
}

// RefreshTokenModel is a single-use refresh credential.
type RefreshTokenModel struct {
	bun.BaseModel `bun:"table:session_refresh_tokens"`

	Token     string     `bun:"token,pk"`
	UserID    uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	RevokedAt *time.Time `bun:"revoked_at,nullzero"`
	CreatedAt time.Time  `bun:"created_at,notnull"`
}

// Active reports whether the token can still be exchanged at now.
func (m *RefreshTokenModel) Active(now time.Time) bool {
	return m != nil && m.RevokedAt == nil && now.Before(m.ExpiresAt)
}
