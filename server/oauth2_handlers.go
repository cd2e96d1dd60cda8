package server

import (
	"net/http"

	"github.com/jrsteele09/skills-auth/device"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/oauth2"
	"github.com/jrsteele09/skills-auth/scope"
)

// OAuth2DeviceAuthorization is the RFC 8628 device authorization endpoint.
func (s *Server) OAuth2DeviceAuthorization() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, oauth2.ErrInvalidRequest, "failed to parse form data", http.StatusBadRequest)
			return
		}
		scopes, err := scope.Parse(r.PostFormValue("scope"))
		if err != nil {
			writeOAuthError(w, oauth2.ErrInvalidScope, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := s.device.Issue(r.Context(), device.IssueRequest{
			ClientInfo: device.ClientInfo{Version: r.UserAgent()},
			Scopes:     scopes,
			BaseURL:    s.baseURL,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// OAuth2Token is the RFC 6749 token endpoint for the device code, refresh token
// and authorization code grants.
func (s *Server) OAuth2Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, oauth2.ErrInvalidRequest, "failed to parse form data", http.StatusBadRequest)
			return
		}
		switch grantType := oauth2.GrantType(r.PostFormValue("grant_type")); grantType {
		case oauth2.DeviceCodeGrant:
			s.deviceCodeGrant(w, r)
		case oauth2.RefreshTokenGrant:
			res, err := s.refresh(r, r.PostFormValue("refresh_token"))
			if err != nil {
				writeGrantError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		case oauth2.AuthorizationCodeGrant:
			pair, err := s.cli.Exchange(r.Context(), r.PostFormValue("code"))
			if err != nil {
				writeGrantError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, pair)
		case "":
			writeOAuthError(w, oauth2.ErrInvalidRequest, "grant_type is required", http.StatusBadRequest)
		default:
			writeOAuthError(w, oauth2.ErrUnsupportedGrantType, string(grantType), http.StatusBadRequest)
		}
	}
}

func (s *Server) deviceCodeGrant(w http.ResponseWriter, r *http.Request) {
	res, err := s.pollDevice(r, r.PostFormValue("device_code"))
	if err != nil {
		writeGrantError(w, err)
		return
	}
	switch res.Status {
	case device.PollSuccess:
		writeJSON(w, http.StatusOK, res.Tokens)
	case device.PollPending:
		writeOAuthError(w, oauth2.ErrAuthorizationPending, "", http.StatusBadRequest)
	case device.PollSlowDown:
		writeOAuthError(w, oauth2.ErrSlowDown, "", http.StatusBadRequest)
	case device.PollDenied:
		writeOAuthError(w, oauth2.ErrAccessDenied, "", http.StatusBadRequest)
	default:
		writeOAuthError(w, oauth2.ErrExpiredToken, "", http.StatusBadRequest)
	}
}

// writeGrantError reports failures of a presented grant as invalid_grant and
// everything else through the shared mapping.
func writeGrantError(w http.ResponseWriter, err error) {
	status, _ := errorStatus(err)
	switch {
	case status >= http.StatusInternalServerError:
		writeError(w, err)
	case autherrors.Is(err, autherrors.ErrInvalidInput):
		writeOAuthError(w, oauth2.ErrInvalidRequest, "", http.StatusBadRequest)
	default:
		writeOAuthError(w, oauth2.ErrInvalidGrant, "", http.StatusBadRequest)
	}
}

// writeOAuthError writes an OAuth2 error response
func writeOAuthError(w http.ResponseWriter, errorCode oauth2.ErrorCode, description string, statusCode int) {
	writeJSON(w, statusCode, oauth2.ErrorResponse{Error: errorCode, ErrorDescription: description})
}
