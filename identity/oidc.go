package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultSessionCookie = "skills_session"

// OIDCSessionResolver trusts a session cookie holding an ID token issued by the
// web login provider for our client ID.
type OIDCSessionResolver struct {
	verifier   *oidc.IDTokenVerifier
	cookieName string
}

// NewOIDCSessionResolver discovers the provider at issuer.
func NewOIDCSessionResolver(ctx context.Context, issuer, clientID, cookieName string) (*OIDCSessionResolver, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[NewOIDCSessionResolver] failed to create OIDC provider")
	}
	return NewOIDCSessionResolverWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), cookieName), nil
}

func NewOIDCSessionResolverWithVerifier(verifier *oidc.IDTokenVerifier, cookieName string) *OIDCSessionResolver {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &OIDCSessionResolver{verifier: verifier, cookieName: cookieName}
}

func (o *OIDCSessionResolver) ResolveSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(o.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, nil
	}

	idToken, err := o.verifier.Verify(r.Context(), cookie.Value)
	if err != nil {
		log.Debug().Err(err).Msg("session cookie rejected")
		return nil, nil
	}

	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil || claims.Sub == "" {
		return nil, nil
	}
	return &Session{UserID: claims.Sub, Email: claims.Email}, nil
}
