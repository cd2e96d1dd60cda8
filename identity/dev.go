package identity

import (
	"net/http"
	"strings"
)

const DevUserHeader = "X-Dev-User"

// DevHeaderResolver trusts a plain request header. It exists for local development
// without an identity provider and must never be enabled in production.
type DevHeaderResolver struct{}

func (DevHeaderResolver) ResolveSession(r *http.Request) (*Session, error) {
	userID := strings.TrimSpace(r.Header.Get(DevUserHeader))
	if userID == "" {
		return nil, nil
	}
	return &Session{UserID: userID}, nil
}
