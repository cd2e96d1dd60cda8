package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/skills-auth/auth"
	"github.com/jrsteele09/skills-auth/clisession"
	"github.com/jrsteele09/skills-auth/device"
	"github.com/jrsteele09/skills-auth/identity"
	"github.com/jrsteele09/skills-auth/internal/config"
	"github.com/jrsteele09/skills-auth/server"
	"github.com/jrsteele09/skills-auth/store/memory"
	"github.com/jrsteele09/skills-auth/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type testFixture struct {
	device *device.Service
	cli    *clisession.Service
	server *httptest.Server
	client *Client
}

func setupTestFixture(t *testing.T, tokenOptions ...token.ManagerOption) *testFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")

	repos := memory.New()
	manager, err := token.NewManager(repos.APITokens, repos.RefreshTokens, tokenOptions...)
	require.NoError(t, err)
	deviceService, err := device.NewService(repos.DeviceCodes, manager,
		device.WithTiming(time.Minute, time.Second), device.WithPollLeeway(time.Second))
	require.NoError(t, err)
	cliService, err := clisession.NewService(repos.CliSessions, manager)
	require.NoError(t, err)
	resolver, err := auth.NewResolver(manager, identity.DevHeaderResolver{})
	require.NoError(t, err)

	f := &testFixture{device: deviceService, cli: cliService}
	f.server = httptest.NewUnstartedServer(nil)
	t.Setenv("BASE_URL", "http://"+f.server.Listener.Addr().String())

	srv, err := server.New(config.New(), server.Deps{Device: deviceService, CLI: cliService, Tokens: manager, Resolver: resolver})
	require.NoError(t, err)
	f.server.Config.Handler = srv
	f.server.Start()
	t.Cleanup(f.server.Close)

	f.client, err = NewClient(f.server.URL)
	require.NoError(t, err)
	return f
}

func (f *testFixture) deviceLogin(t *testing.T) *Credentials {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	creds, err := f.client.DeviceLogin(ctx, func(da *oauth2.DeviceAuthResponse) error {
		assert.Contains(t, da.VerificationURI, "/device")
		return f.device.Authorize(ctx, da.UserCode, "user-1", device.ActionApprove)
	})
	require.NoError(t, err)
	return creds
}

func TestDeviceLogin(t *testing.T) {
	f := setupTestFixture(t)
	creds := f.deviceLogin(t)

	assert.Equal(t, f.server.URL, creds.Server)
	assert.Contains(t, creds.AccessToken, token.AccessTokenPrefix)
	assert.Contains(t, creds.RefreshToken, token.RefreshTokenPrefix)
	assert.Equal(t, "read write publish", creds.Scope)
	assert.True(t, creds.Expiry.After(time.Now()))

	id, err := f.client.WhoAmI(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "token", id.Method)
}

func TestDeviceLogin_Denied(t *testing.T) {
	f := setupTestFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	_, err := f.client.DeviceLogin(ctx, func(da *oauth2.DeviceAuthResponse) error {
		return f.device.Authorize(ctx, da.UserCode, "user-1", device.ActionDeny)
	})
	require.Error(t, err)
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, "access_denied", retrieveErr.ErrorCode)
}

func TestBrowserLogin(t *testing.T) {
	f := setupTestFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	creds, err := f.client.BrowserLogin(ctx, func(authorizeURL, confirmation string) error {
		u, err := url.Parse(authorizeURL)
		require.NoError(t, err)
		sessionID := u.Query().Get("session_id")

		session, err := f.cli.Get(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, confirmation, session.ConfirmationCode)

		redirect, err := f.cli.Authorize(ctx, sessionID, "user-1", clisession.ActionApprove)
		require.NoError(t, err)
		resp, err := http.Get(redirect)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, creds.AccessToken, token.AccessTokenPrefix)

	id, err := f.client.WhoAmI(ctx, creds)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
}

func TestBrowserLogin_IgnoresForeignCallbacks(t *testing.T) {
	f := setupTestFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	creds, err := f.client.BrowserLogin(ctx, func(authorizeURL, _ string) error {
		u, err := url.Parse(authorizeURL)
		require.NoError(t, err)
		sessionID := u.Query().Get("session_id")

		redirect, err := f.cli.Authorize(ctx, sessionID, "user-1", clisession.ActionApprove)
		require.NoError(t, err)
		target, err := url.Parse(redirect)
		require.NoError(t, err)

		// a request from another local process, without the session state
		forged := *target
		forged.RawQuery = url.Values{"state": {"forged"}, "error": {"access_denied"}}.Encode()
		resp, err := http.Get(forged.String())
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, err = http.Get(redirect)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, creds.AccessToken, token.AccessTokenPrefix)
}

func TestCallbackHandler(t *testing.T) {
	results := make(chan callbackResult, 1)
	h := callbackHandler("good-state", results)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, callbackPath+"?state=bad&code=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, results)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, callbackPath+"?code=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, results)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, callbackPath+"?state=good-state&code=skl_ac_x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, results, 1)
	res := <-results
	assert.NoError(t, res.err)
	assert.Equal(t, "skl_ac_x", res.code)
}

func TestBrowserLogin_Denied(t *testing.T) {
	f := setupTestFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	_, err := f.client.BrowserLogin(ctx, func(authorizeURL, _ string) error {
		u, _ := url.Parse(authorizeURL)
		redirect, err := f.cli.Authorize(ctx, u.Query().Get("session_id"), "user-1", clisession.ActionDeny)
		require.NoError(t, err)
		resp, err := http.Get(redirect)
		require.NoError(t, err)
		resp.Body.Close()
		return nil
	})
	assert.ErrorContains(t, err, "access_denied")
}

func TestRefresh_DropsConsumedRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	creds := f.deviceLogin(t)

	next, err := f.client.Refresh(context.Background(), creds)
	require.NoError(t, err)
	assert.NotEqual(t, creds.AccessToken, next.AccessToken)
	assert.Empty(t, next.RefreshToken)
	assert.Equal(t, creds.Scope, next.Scope)

	_, err = f.client.Refresh(context.Background(), next)
	assert.ErrorIs(t, err, ErrNoRefresh)

	// the consumed token is rejected by the server
	_, err = f.client.Refresh(context.Background(), creds)
	assert.Error(t, err)
}

func TestRefresh_KeepsRotatedRefreshToken(t *testing.T) {
	f := setupTestFixture(t, token.WithRotationFraction(1))
	creds := f.deviceLogin(t)

	next, err := f.client.Refresh(context.Background(), creds)
	require.NoError(t, err)
	assert.NotEmpty(t, next.RefreshToken)
	assert.NotEqual(t, creds.RefreshToken, next.RefreshToken)
}

func TestWhoAmI_InvalidToken(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.WhoAmI(context.Background(), &Credentials{AccessToken: "skl_at_bogus"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid_token", apiErr.Code)
}

func TestCredentialsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")

	_, err := LoadCredentials(path)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	creds := &Credentials{Server: "http://localhost:8080", AccessToken: "skl_at_x", RefreshToken: "skl_rt_y", Scope: "read"}
	require.NoError(t, SaveCredentials(path, creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, creds.RefreshToken, loaded.RefreshToken)

	require.NoError(t, DeleteCredentials(path))
	require.NoError(t, DeleteCredentials(path))
	_, err = LoadCredentials(path)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}
