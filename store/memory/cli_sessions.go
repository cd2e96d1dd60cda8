package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jrsteele09/skills-auth/clisession"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
)

var _ clisession.Repo = (*CliSessionRepo)(nil)

type CliSessionRepo struct {
	sessions map[string]*clisession.Session
	mu       sync.RWMutex
}

func NewCliSessionRepo() *CliSessionRepo {
	return &CliSessionRepo{sessions: make(map[string]*clisession.Session)}
}

func (r *CliSessionRepo) Create(_ context.Context, s *clisession.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return autherrors.Wrapf(autherrors.ErrDuplicate, "cli session %s", s.ID)
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *CliSessionRepo) Get(_ context.Context, id string) (*clisession.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, autherrors.Wrapf(autherrors.ErrNotFound, "cli session %s", id)
	}
	return copySession(s), nil
}

func (r *CliSessionRepo) GetByAuthCodeHash(_ context.Context, hash string) (*clisession.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.AuthCodeHash != "" && s.AuthCodeHash == hash {
			return copySession(s), nil
		}
	}
	return nil, autherrors.Wrapf(autherrors.ErrNotFound, "authorization code")
}

func (r *CliSessionRepo) Transition(_ context.Context, change clisession.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[change.ID]
	if !ok {
		return autherrors.Wrapf(autherrors.ErrNotFound, "cli session %s", change.ID)
	}
	if s.Status != change.From {
		return autherrors.Wrapf(autherrors.ErrConflict, "cli session %s is %s", change.ID, s.Status)
	}
	s.Status = change.To
	if change.UserID != "" {
		s.UserID = change.UserID
	}
	if change.AuthCodeHash != "" {
		s.AuthCodeHash = change.AuthCodeHash
	}
	if !change.ExpiresAt.IsZero() {
		s.ExpiresAt = change.ExpiresAt
	}
	return nil
}

func (r *CliSessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func copySession(s *clisession.Session) *clisession.Session {
	c := *s
	c.Scopes = slices.Clone(s.Scopes)
	return &c
}
