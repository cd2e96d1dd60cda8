package server

import (
	"encoding/json"
	"io"
	"net/http"

	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Machine readable error codes of the JSON API.
const (
	codeInvalidRequest  = "invalid_request"
	codeUnauthorized    = "unauthorized"
	codeInvalidToken    = "invalid_token"
	codeTokenExpired    = "token_expired"
	codeForbidden       = "forbidden"
	codeNotFound        = "not_found"
	codeExpired         = "expired"
	codeAlreadyConsumed = "already_consumed"
	codeRateLimited     = "rate_limited"
	codeServerError     = "server_error"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// errorStatus maps the error taxonomy to an HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case autherrors.Is(err, autherrors.ErrStorageUnavailable):
		return http.StatusInternalServerError, codeServerError
	case autherrors.Is(err, autherrors.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidRequest
	case autherrors.Is(err, autherrors.ErrInvalidToken):
		return http.StatusUnauthorized, codeInvalidToken
	case autherrors.Is(err, autherrors.ErrTokenExpired):
		return http.StatusUnauthorized, codeTokenExpired
	case autherrors.Is(err, autherrors.ErrUnauthorized):
		return http.StatusUnauthorized, codeUnauthorized
	case autherrors.Is(err, autherrors.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case autherrors.Is(err, autherrors.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case autherrors.Is(err, autherrors.ErrExpired):
		return http.StatusNotFound, codeExpired
	case autherrors.Is(err, autherrors.ErrAlreadyConsumed):
		return http.StatusNotFound, codeAlreadyConsumed
	case autherrors.Is(err, autherrors.ErrRateLimited):
		return http.StatusTooManyRequests, codeRateLimited
	}
	return http.StatusInternalServerError, codeServerError
}

// writeError is the single place errors become HTTP responses. Details of 5xx
// errors are logged, never returned.
func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("code", code).Msg("request rejected")
	}
	writeJSON(w, status, errorBody{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

const maxBodyBytes = 64 << 10

// decodeJSON reads a JSON request body. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if autherrors.Is(err, io.EOF) {
			return nil
		}
		return autherrors.Wrapf(autherrors.ErrInvalidInput, "malformed json body: %v", err)
	}
	return nil
}
