//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/skills-auth/device"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/jrsteele09/skills-auth/store"
	"github.com/jrsteele09/skills-auth/store/postgres"
	"github.com/jrsteele09/skills-auth/token"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) store.Repos {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("skills_auth_test"),
		tcpostgres.WithUsername("skills"),
		tcpostgres.WithPassword("skills_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s.Repos()
}

func TestPostgresIntegration(t *testing.T) {
	repos := setupPostgres(t)
	ctx := context.Background()

	t.Run("pending user codes are unique", func(t *testing.T) {
		now := time.Now().UTC()
		newCode := func(id, hash string) *device.DeviceCode {
			return &device.DeviceCode{
				ID: id, DeviceCodeHash: hash, UserCode: "WXYZ-2345", Status: device.StatusPending,
				CreatedAt: now, ExpiresAt: now.Add(time.Minute), Interval: device.DefaultInterval,
			}
		}
		require.NoError(t, repos.DeviceCodes.Create(ctx, newCode("6f1f7e0a-0000-4000-8000-000000000001", "h1")))
		err := repos.DeviceCodes.Create(ctx, newCode("6f1f7e0a-0000-4000-8000-000000000002", "h2"))
		require.ErrorIs(t, err, autherrors.ErrDuplicate)

		require.NoError(t, repos.DeviceCodes.Transition(ctx, "6f1f7e0a-0000-4000-8000-000000000001",
			device.StatusPending, device.StatusDenied, ""))
		require.NoError(t, repos.DeviceCodes.Create(ctx, newCode("6f1f7e0a-0000-4000-8000-000000000002", "h2")))
	})

	t.Run("concurrent refresh redeems once", func(t *testing.T) {
		m, err := token.NewManager(repos.APITokens, repos.RefreshTokens)
		require.NoError(t, err)
		pair, err := m.IssueTokenPair(ctx, "user-pg", []scope.Scope{scope.Read})
		require.NoError(t, err)

		const attempts = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.RefreshAccessToken(ctx, pair.RefreshToken); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})
}
