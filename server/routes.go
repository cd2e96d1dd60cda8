package server

import (
	"net/http"

	"github.com/jrsteele09/skills-auth/scope"
)

func (s *Server) initRoutes() {
	limited := s.RateLimitMiddleware

	// Device flow
	s.RegisterRouteHandler("POST "+RouteDeviceCode, ChainMiddleware(s.DeviceCodeHandler(), s.APIMiddleware(limited)...))
	s.RegisterRouteHandler("POST "+RouteDeviceToken, ChainMiddleware(s.DeviceTokenHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteDeviceAuthorize, ChainMiddleware(s.DeviceAuthorizeHandler(), s.APIMiddleware(limited, s.RequireSession())...))

	// CLI session flow
	s.RegisterRouteHandler("POST "+RouteCliSessions, ChainMiddleware(s.CliSessionCreateHandler(), s.APIMiddleware(limited)...))
	s.RegisterRouteHandler("GET "+RouteCliSession, ChainMiddleware(s.CliSessionGetHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteCliSessionAuthorize, ChainMiddleware(s.CliSessionAuthorizeHandler(), s.APIMiddleware(limited, s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteCliExchange, ChainMiddleware(s.CliExchangeHandler(), s.APIMiddleware()...))

	// Tokens
	s.RegisterRouteHandler("POST "+RouteTokenRefresh, ChainMiddleware(s.TokenRefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteMe, ChainMiddleware(s.MeHandler(), s.APIMiddleware(s.RequireScope(scope.Read))...))
	s.RegisterRouteHandler("GET "+RouteAPITokens, ChainMiddleware(s.ListAPITokensHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteAPITokens, ChainMiddleware(s.CreateAPITokenHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("DELETE "+RouteAPIToken, ChainMiddleware(s.RevokeAPITokenHandler(), s.APIMiddleware(s.RequireSession())...))

	// OAuth2 form endpoints
	s.RegisterRouteHandler("POST "+RouteOAuth2DeviceAuthorization, ChainMiddleware(s.OAuth2DeviceAuthorization(), s.APIMiddleware(limited)...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Token, ChainMiddleware(s.OAuth2Token(), s.APIMiddleware()...))

	// CORS preflight for every path
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.CorsMiddleware))

	// Ops
	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthzHandler())
	if s.metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
	}
}
