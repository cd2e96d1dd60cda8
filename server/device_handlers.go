package server

import (
	"net/http"

	"github.com/jrsteele09/skills-auth/auth"
	"github.com/jrsteele09/skills-auth/device"
	"github.com/jrsteele09/skills-auth/scope"
)

type deviceCodeRequest struct {
	ClientInfo device.ClientInfo `json:"client_info"`
	Scopes     []string          `json:"scopes"`
}

type deviceTokenRequest struct {
	DeviceCode string `json:"device_code"`
}

type deviceAuthorizeRequest struct {
	UserCode string `json:"user_code"`
	Action   string `json:"action"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// DeviceCodeHandler starts a device login for a headless CLI.
func (s *Server) DeviceCodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceCodeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		scopes, err := scope.FromStrings(req.Scopes)
		if err != nil {
			writeError(w, err)
			return
		}
		resp, err := s.device.Issue(r.Context(), device.IssueRequest{
			ClientInfo: req.ClientInfo,
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

// DeviceTokenHandler is polled by the CLI until the code is approved, denied or expired.
func (s *Server) DeviceTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceTokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := s.pollDevice(r, req.DeviceCode)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) pollDevice(r *http.Request, deviceCode string) (*device.PollResult, error) {
	res, err := s.device.Poll(r.Context(), deviceCode)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordDevicePoll(string(res.Status))
	}
	return res, nil
}

// DeviceAuthorizeHandler approves or denies a user code from the verification page.
func (s *Server) DeviceAuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceAuthorizeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		action, err := device.ParseAction(req.Action)
		if err != nil {
			writeError(w, err)
			return
		}
		ac := auth.FromContext(r.Context())
		if err := s.device.Authorize(r.Context(), req.UserCode, ac.UserID, action); err != nil {
			writeError(w, err)
			return
		}
		status := device.StatusApproved
		if action == device.ActionDeny {
			status = device.StatusDenied
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: string(status)})
	}
}
