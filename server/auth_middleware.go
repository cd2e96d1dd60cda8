package server

import (
	"net/http"

	"github.com/jrsteele09/skills-auth/auth"
	"github.com/jrsteele09/skills-auth/scope"
)

// ResolveAuthMiddleware attaches the caller's auth.Context to the request.
func (s *Server) ResolveAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, err := s.resolver.Resolve(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(auth.WithContext(r.Context(), ac)))
	}
}

// RequireScope rejects callers lacking the scope. A presented but rejected bearer
// token is reported as invalid_token.
func (s *Server) RequireScope(required scope.Scope) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ac := auth.FromContext(r.Context())
			if ac.TokenRejected {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: codeInvalidToken})
				return
			}
			if err := auth.RequireScope(ac, required); err != nil {
				writeError(w, err)
				return
			}
			next(w, r)
		}
	}
}

// RequireSession admits interactive browser logins only.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ac := auth.FromContext(r.Context())
			if ac.TokenRejected {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: codeInvalidToken})
				return
			}
			if err := auth.RequireSession(ac); err != nil {
				writeError(w, err)
				return
			}
			next(w, r)
		}
	}
}
