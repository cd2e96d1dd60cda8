package server

import (
	"net/http"
	"time"

	"github.com/jrsteele09/skills-auth/auth"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/jrsteele09/skills-auth/token"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type createAPITokenRequest struct {
	Name          string   `json:"name"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays int      `json:"expires_in_days"`
}

type apiTokenListResponse struct {
	Tokens []*token.APIToken `json:"tokens"`
}

func (s *Server) TokenRefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := s.refresh(r, req.RefreshToken)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) refresh(r *http.Request, rawRefreshToken string) (*token.RefreshResult, error) {
	res, err := s.tokens.RefreshAccessToken(r.Context(), rawRefreshToken)
	if s.metrics != nil {
		switch {
		case err != nil:
			s.metrics.RecordRefresh("rejected")
		case res.Rotated():
			s.metrics.RecordRefresh("rotated")
		default:
			s.metrics.RecordRefresh("reused")
		}
	}
	return res, err
}

// MeHandler returns the resolved identity of the caller.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, auth.FromContext(r.Context()))
	}
}

func (s *Server) ListAPITokensHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := auth.FromContext(r.Context())
		tokens, err := s.tokens.ListAPITokens(r.Context(), ac.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		if tokens == nil {
			tokens = []*token.APIToken{}
		}
		writeJSON(w, http.StatusOK, apiTokenListResponse{Tokens: tokens})
	}
}

// CreateAPITokenHandler mints a personal token. The raw value is only in this response.
func (s *Server) CreateAPITokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAPITokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.ExpiresInDays < 0 {
			writeError(w, autherrors.Wrapf(autherrors.ErrInvalidInput, "expires_in_days must not be negative"))
			return
		}
		scopes, err := scope.FromStrings(req.Scopes)
		if err != nil {
			writeError(w, err)
			return
		}
		ac := auth.FromContext(r.Context())
		ttl := time.Duration(req.ExpiresInDays) * 24 * time.Hour
		issued, err := s.tokens.IssueAPIToken(r.Context(), ac.UserID, req.Name, scopes, ttl)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, issued)
	}
}

func (s *Server) RevokeAPITokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := auth.FromContext(r.Context())
		if err := s.tokens.RevokeAPIToken(r.Context(), ac.UserID, r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
