// Package oauth2 holds the wire vocabulary of the OAuth2 token endpoints.
package oauth2

// GrantType is the grant_type form value presented at the token endpoint.
type GrantType string

const (
	// DeviceCodeGrant polls a device code (RFC 8628 3.4).
	DeviceCodeGrant GrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// RefreshTokenGrant exchanges a refresh token for a new access token. The
	// response carries a new refresh token only when the presented one rotated.
	RefreshTokenGrant GrantType = "refresh_token"

	// AuthorizationCodeGrant exchanges the code a CLI session redirected to the
	// loopback listener.
	AuthorizationCodeGrant GrantType = "authorization_code"
)

// ErrorCode is the "error" member of an OAuth2 error response.
type ErrorCode string

// RFC 6749 5.2 and RFC 8628 3.5.
const (
	ErrInvalidRequest       ErrorCode = "invalid_request"
	ErrInvalidGrant         ErrorCode = "invalid_grant"
	ErrInvalidScope         ErrorCode = "invalid_scope"
	ErrUnsupportedGrantType ErrorCode = "unsupported_grant_type"
	ErrAuthorizationPending ErrorCode = "authorization_pending"
	ErrSlowDown             ErrorCode = "slow_down"
	ErrAccessDenied         ErrorCode = "access_denied"
	ErrExpiredToken         ErrorCode = "expired_token"
)

// ErrorResponse is the body of every OAuth2 error.
type ErrorResponse struct {
	Error            ErrorCode `json:"error"`
	ErrorDescription string    `json:"error_description,omitempty"`
}
