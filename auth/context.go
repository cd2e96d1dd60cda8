// Package auth resolves who is calling and what they may do.
package auth

import (
	"context"

	"github.com/jrsteele09/skills-auth/scope"
)

type Method string

const (
	MethodNone    Method = ""
	MethodToken   Method = "token"
	MethodSession Method = "session"
)

// Context is the resolved identity of a request.
type Context struct {
	UserID  string        `json:"user_id,omitempty"`
	Email   string        `json:"email,omitempty"`
	Scopes  []scope.Scope `json:"scopes"`
	Method  Method        `json:"auth_method,omitempty"`
	TokenID string        `json:"token_id,omitempty"`

	// TokenRejected is set when a bearer token was presented but not accepted.
	TokenRejected bool `json:"-"`
}

func Anonymous() Context {
	return Context{Scopes: []scope.Scope{}}
}

func (c Context) Authenticated() bool {
	return c.UserID != ""
}

// HasScope reports whether the identity carries s. Sessions carry every scope.
func (c Context) HasScope(s scope.Scope) bool {
	if !c.Authenticated() {
		return false
	}
	if c.Method == MethodSession {
		return true
	}
	return scope.Contains(c.Scopes, s)
}

type contextKey struct{}

func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the identity stored by WithContext, or an anonymous one.
func FromContext(ctx context.Context) Context {
	if ac, ok := ctx.Value(contextKey{}).(Context); ok {
		return ac
	}
	return Anonymous()
}
