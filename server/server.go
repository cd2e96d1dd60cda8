// Package server is the HTTP edge of the authorization core.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/jrsteele09/skills-auth/auth"
	"github.com/jrsteele09/skills-auth/clisession"
	"github.com/jrsteele09/skills-auth/device"
	"github.com/jrsteele09/skills-auth/internal/config"
	"github.com/jrsteele09/skills-auth/internal/metrics"
	"github.com/jrsteele09/skills-auth/internal/rate"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/jrsteele09/skills-auth/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the services the routes are served by. Limiter, Metrics and Health are optional.
type Deps struct {
	Device   *device.Service
	CLI      *clisession.Service
	Tokens   *token.Manager
	Resolver *auth.Resolver
	Limiter  rate.Limiter
	Metrics  *metrics.Metrics
	Health   HealthChecker
}

type Server struct {
	env      string
	baseURL  string
	mux      *http.ServeMux
	handler  http.Handler
	routes   []string
	config   config.Config
	device   *device.Service
	cli      *clisession.Service
	tokens   *token.Manager
	resolver *auth.Resolver
	limiter  rate.Limiter
	metrics  *metrics.Metrics
	health   HealthChecker

	trustedProxies []*net.IPNet
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("[server.New] config is required")
	case deps.Device == nil:
		return nil, errors.New("[server.New] device service is required")
	case deps.CLI == nil:
		return nil, errors.New("[server.New] cli session service is required")
	case deps.Tokens == nil:
		return nil, errors.New("[server.New] token manager is required")
	case deps.Resolver == nil:
		return nil, errors.New("[server.New] auth resolver is required")
	}

	s := &Server{
		env:      cfg.GetEnv(),
		baseURL:  cfg.GetBaseURL(),
		mux:      http.NewServeMux(),
		config:   cfg,
		device:   deps.Device,
		cli:      deps.CLI,
		tokens:   deps.Tokens,
		resolver: deps.Resolver,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		health:   deps.Health,

		trustedProxies: cfg.GetTrustedProxies(),
	}
	s.initRoutes()
	s.logRoutes()

	s.handler = s.mux
	if s.metrics != nil {
		s.handler = s.metrics.WithMetrics(s.mux)
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// HandleProtected mounts a host application route behind the auth resolver and a
// scope check. Sessions pass every scope check.
func (s *Server) HandleProtected(pattern string, required scope.Scope, handler http.HandlerFunc) {
	s.RegisterRouteHandler(pattern, ChainMiddleware(handler, s.APIMiddleware(s.RequireScope(required))...))
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Debug().Msgf("[%s] %s", color+paddedMethod+ResetColor, path)
}
