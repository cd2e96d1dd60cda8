package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/skills-auth/identity"
	"github.com/jrsteele09/skills-auth/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionResolver(t *testing.T) {
	spoofed := httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
	spoofed.Header.Set(identity.DevUserHeader, "victim")

	tests := []struct {
		name      string
		env       string
		devHeader string
		trusted   bool
	}{
		{name: "defaults", env: "", devHeader: ""},
		{name: "dev without opt in", env: "DEV", devHeader: ""},
		{name: "prod with opt in", env: "PROD", devHeader: "true"},
		{name: "dev with opt in", env: "DEV", devHeader: "true", trusted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OIDC_ISSUER", "")
			t.Setenv("ENV", tt.env)
			t.Setenv("DEV_SESSION_HEADER", tt.devHeader)

			resolver, err := sessionResolver(context.Background(), config.New())
			require.NoError(t, err)

			session, err := resolver.ResolveSession(spoofed)
			require.NoError(t, err)
			if !tt.trusted {
				assert.IsType(t, identity.NoSessions{}, resolver)
				assert.Nil(t, session)
				return
			}
			require.NotNil(t, session)
			assert.Equal(t, "victim", session.UserID)
		})
	}
}
