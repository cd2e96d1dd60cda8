package server

import (
	"net/http"

	"github.com/jrsteele09/skills-auth/auth"
	"github.com/jrsteele09/skills-auth/clisession"
	"github.com/jrsteele09/skills-auth/scope"
)

type cliSessionCreateRequest struct {
	RedirectTarget string   `json:"redirect_target"`
	Scopes         []string `json:"scopes"`
}

type cliSessionAuthorizeRequest struct {
	Action string `json:"action"`
}

type cliSessionAuthorizeResponse struct {
	RedirectURL string `json:"redirect_url"`
}

type cliExchangeRequest struct {
	Code string `json:"code"`
}

func (s *Server) CliSessionCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cliSessionCreateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		scopes, err := scope.FromStrings(req.Scopes)
		if err != nil {
			writeError(w, err)
			return
		}
		resp, err := s.cli.Create(r.Context(), clisession.CreateRequest{
			RedirectTarget: req.RedirectTarget,
			Scopes:         scopes,
			BaseURL:        s.baseURL,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// CliSessionGetHandler backs the approval page, which shows the confirmation code
// and requested scopes before the user decides.
func (s *Server) CliSessionGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.cli.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func (s *Server) CliSessionAuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cliSessionAuthorizeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		action, err := clisession.ParseAction(req.Action)
		if err != nil {
			writeError(w, err)
			return
		}
		ac := auth.FromContext(r.Context())
		redirectURL, err := s.cli.Authorize(r.Context(), r.PathValue("id"), ac.UserID, action)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cliSessionAuthorizeResponse{RedirectURL: redirectURL})
	}
}

// CliExchangeHandler trades the code delivered to the loopback listener for tokens.
func (s *Server) CliExchangeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cliExchangeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		pair, err := s.cli.Exchange(r.Context(), req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pair)
	}
}
