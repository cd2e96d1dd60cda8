// Package identity holds the boundaries to collaborators that own users, browser
// sessions, and skill permissions. The authorization core only reads them.
package identity

import (
	"context"
	"net/http"
)

// Session is the identity behind an interactive browser login.
type Session struct {
	UserID string
	Email  string
}

// SessionResolver returns the session carried by a request, or nil when there is none.
// An error is only returned when the session backend could not be consulted.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*Session, error)
}

type SessionResolverFunc func(r *http.Request) (*Session, error)

func (f SessionResolverFunc) ResolveSession(r *http.Request) (*Session, error) {
	return f(r)
}

// NoSessions resolves every request as anonymous.
type NoSessions struct{}

func (NoSessions) ResolveSession(*http.Request) (*Session, error) {
	return nil, nil
}

type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// PermissionChecker answers questions about skill ownership and grants.
type PermissionChecker interface {
	IsOwner(ctx context.Context, skillID, userID string) (bool, error)
	// HasAccess reports an explicit, unexpired grant of at least perm.
	HasAccess(ctx context.Context, skillID, userID string, perm Permission) (bool, error)
}

// UserDirectory lets token authentication reject tokens of deleted accounts.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}
