package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/token"
)

var (
	_ token.APITokenRepo     = (*APITokenRepo)(nil)
	_ token.RefreshTokenRepo = (*RefreshTokenRepo)(nil)
)

type APITokenRepo struct {
	tokens map[string]*token.APIToken
	mu     sync.RWMutex
}

func NewAPITokenRepo() *APITokenRepo {
	return &APITokenRepo{tokens: make(map[string]*token.APIToken)}
}

func (r *APITokenRepo) Create(_ context.Context, t *token.APIToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.ID == t.ID || existing.TokenHash == t.TokenHash {
			return autherrors.Wrapf(autherrors.ErrDuplicate, "api token")
		}
	}
	r.tokens[t.ID] = copyAPIToken(t)
	return nil
}

func (r *APITokenRepo) Get(_ context.Context, id string) (*token.APIToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, autherrors.Wrapf(autherrors.ErrNotFound, "api token %s", id)
	}
	return copyAPIToken(t), nil
}

func (r *APITokenRepo) GetByHash(_ context.Context, hash string) (*token.APIToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			return copyAPIToken(t), nil
		}
	}
	return nil, autherrors.Wrapf(autherrors.ErrNotFound, "api token")
}

func (r *APITokenRepo) ListByOwner(_ context.Context, ownerUserID string, kind token.Kind) ([]*token.APIToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*token.APIToken, 0)
	for _, t := range r.tokens {
		if t.OwnerUserID == ownerUserID && t.Kind == kind {
			out = append(out, copyAPIToken(t))
		}
	}
	slices.SortFunc(out, func(a, b *token.APIToken) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (r *APITokenRepo) Revoke(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return autherrors.Wrapf(autherrors.ErrNotFound, "api token %s", id)
	}
	if t.RevokedAt != nil {
		return autherrors.Wrapf(autherrors.ErrConflict, "api token %s already revoked", id)
	}
	t.RevokedAt = &at
	return nil
}

func (r *APITokenRepo) RevokeAllByOwner(_ context.Context, ownerUserID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tokens {
		if t.OwnerUserID == ownerUserID && t.RevokedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *APITokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		expired := t.ExpiresAt != nil && t.ExpiresAt.Before(before)
		revoked := t.RevokedAt != nil && t.RevokedAt.Before(before)
		if expired || revoked {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

type RefreshTokenRepo struct {
	tokens map[string]*token.RefreshToken
	mu     sync.RWMutex
}

func NewRefreshTokenRepo() *RefreshTokenRepo {
	return &RefreshTokenRepo{tokens: make(map[string]*token.RefreshToken)}
}

func (r *RefreshTokenRepo) Create(_ context.Context, t *token.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.ID == t.ID || existing.TokenHash == t.TokenHash {
			return autherrors.Wrapf(autherrors.ErrDuplicate, "refresh token")
		}
	}
	r.tokens[t.ID] = copyRefreshToken(t)
	return nil
}

func (r *RefreshTokenRepo) GetByHash(_ context.Context, hash string) (*token.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			return copyRefreshToken(t), nil
		}
	}
	return nil, autherrors.Wrapf(autherrors.ErrNotFound, "refresh token")
}

func (r *RefreshTokenRepo) MarkUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return autherrors.Wrapf(autherrors.ErrNotFound, "refresh token %s", id)
	}
	if t.UsedAt != nil || t.RevokedAt != nil {
		return autherrors.Wrapf(autherrors.ErrConflict, "refresh token %s", id)
	}
	t.UsedAt = &at
	return nil
}

func (r *RefreshTokenRepo) RevokeAllByUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tokens {
		if t.UserID == userID && t.RevokedAt == nil && t.UsedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *RefreshTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

func copyAPIToken(t *token.APIToken) *token.APIToken {
	c := *t
	c.Scopes = slices.Clone(t.Scopes)
	c.ExpiresAt = clonePtr(t.ExpiresAt)
	c.RevokedAt = clonePtr(t.RevokedAt)
	return &c
}

func copyRefreshToken(t *token.RefreshToken) *token.RefreshToken {
	c := *t
	c.Scopes = slices.Clone(t.Scopes)
	c.UsedAt = clonePtr(t.UsedAt)
	c.RevokedAt = clonePtr(t.RevokedAt)
	return &c
}
