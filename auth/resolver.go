package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/skills-auth/identity"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/jrsteele09/skills-auth/token"
	"github.com/pkg/errors"
)

// TokenAuthenticator looks up a usable API token by its raw value.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*token.APIToken, error)
}

type Resolver struct {
	tokens   TokenAuthenticator
	sessions identity.SessionResolver
	users    identity.UserDirectory
}

type ResolverOption func(*Resolver)

// WithUserDirectory rejects tokens whose owner no longer exists.
func WithUserDirectory(users identity.UserDirectory) ResolverOption {
	return func(r *Resolver) {
		r.users = users
	}
}

func NewResolver(tokens TokenAuthenticator, sessions identity.SessionResolver, options ...ResolverOption) (*Resolver, error) {
	if tokens == nil {
		return nil, errors.New("[NewResolver] token authenticator is required")
	}
	if sessions == nil {
		sessions = identity.NoSessions{}
	}
	r := &Resolver{tokens: tokens, sessions: sessions}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Resolve authenticates a request: a bearer token first, then the session cookie,
// else anonymous. A rejected bearer token never falls back to the session.
// Only infrastructure failures are returned as errors.
func (r *Resolver) Resolve(req *http.Request) (Context, error) {
	if raw, ok := BearerToken(req); ok {
		return r.resolveToken(req.Context(), raw)
	}

	session, err := r.sessions.ResolveSession(req)
	if err != nil {
		return Anonymous(), autherrors.Unavailable("Resolver.Resolve session", err)
	}
	if session == nil || session.UserID == "" {
		return Anonymous(), nil
	}
	return Context{
		UserID: session.UserID,
		Email:  session.Email,
		Scopes: scope.All(),
		Method: MethodSession,
	}, nil
}

func (r *Resolver) resolveToken(ctx context.Context, raw string) (Context, error) {
	rejected := Anonymous()
	rejected.TokenRejected = true

	t, err := r.tokens.Authenticate(ctx, raw)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrInvalidToken) {
			return rejected, nil
		}
		return Anonymous(), errors.Wrap(err, "Resolver.Resolve token")
	}
	if r.users != nil {
		exists, err := r.users.Exists(ctx, t.OwnerUserID)
		if err != nil {
			return Anonymous(), autherrors.Unavailable("Resolver.Resolve user", err)
		}
		if !exists {
			return rejected, nil
		}
	}
	return Context{
		UserID:  t.OwnerUserID,
		Scopes:  t.Scopes,
		Method:  MethodToken,
		TokenID: t.ID,
	}, nil
}

// BearerToken extracts the credential of an "Authorization: Bearer" header.
// ok is true whenever such a header is present, even if it is empty.
func BearerToken(req *http.Request) (string, bool) {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	if len(parts) < 2 {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}
