package server

// Route path constants
const (
	// Device authorization flow
	RouteDeviceCode      = "/api/auth/device/code"
	RouteDeviceToken     = "/api/auth/device/token"
	RouteDeviceAuthorize = "/api/auth/device/authorize"

	// CLI session flow
	RouteCliSessions         = "/api/auth/cli/sessions"
	RouteCliSession          = "/api/auth/cli/sessions/{id}"
	RouteCliSessionAuthorize = "/api/auth/cli/sessions/{id}/authorize"
	RouteCliExchange         = "/api/auth/cli/exchange"

	// Tokens
	RouteTokenRefresh = "/api/auth/token/refresh"
	RouteMe           = "/api/me"
	RouteAPITokens    = "/api/tokens"
	RouteAPIToken     = "/api/tokens/{id}"

	// Standard OAuth2 endpoints for off the shelf clients
	RouteOAuth2DeviceAuthorization = "/oauth2/device_authorization"
	RouteOAuth2Token               = "/oauth2/token"

	// Ops
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)
