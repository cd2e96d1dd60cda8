package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.health.Ping(ctx); err != nil {
				log.Error().Err(err).Msg("health check failed")
				writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}
