package token

import (
	"context"
	"time"

	"github.com/jrsteele09/skills-auth/scope"
)

type Kind string

const (
	// KindAccess tokens are minted by IssueTokenPair and refreshed through a RefreshToken.
	KindAccess Kind = "access"
	// KindPersonal tokens are created by a user for scripts and CI.
	KindPersonal Kind = "personal"
)

// APIToken is a bearer credential. The raw value is never stored.
type APIToken struct {
	ID          string        `json:"id"`
	OwnerUserID string        `json:"owner_user_id"`
	TokenHash   string        `json:"-"`
	Prefix      string        `json:"prefix"`
	Name        string        `json:"name,omitempty"`
	Kind        Kind          `json:"kind"`
	Scopes      []scope.Scope `json:"scopes"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty"`
}

// Usable reports whether the token is neither revoked nor expired at now.
func (t *APIToken) Usable(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

type RefreshToken struct {
	ID          string
	UserID      string
	TokenHash   string
	Scopes      []scope.Scope
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RotatedFrom string // ID of the token this one replaced, audit only
	UsedAt      *time.Time
	RevokedAt   *time.Time
}

func (t *RefreshToken) Used() bool {
	return t.UsedAt != nil
}

// Lifetime is the total validity window the token was issued with.
func (t *RefreshToken) Lifetime() time.Duration {
	return t.ExpiresAt.Sub(t.CreatedAt)
}

type APITokenRepo interface {
	Create(ctx context.Context, t *APIToken) error
	Get(ctx context.Context, id string) (*APIToken, error)
	GetByHash(ctx context.Context, hash string) (*APIToken, error)
	ListByOwner(ctx context.Context, ownerUserID string, kind Kind) ([]*APIToken, error)
	// Revoke sets revoked_at only if the token is still active. ErrConflict otherwise.
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllByOwner(ctx context.Context, ownerUserID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type RefreshTokenRepo interface {
	Create(ctx context.Context, t *RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// MarkUsed is the one time consumption write: it succeeds only while the
	// token is unused and unrevoked, and returns ErrConflict otherwise.
	MarkUsed(ctx context.Context, id string, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
