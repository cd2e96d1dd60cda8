// Package cli is the client side of the login flows used by the skills command.
package cli

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	ClientID = "skills-cli"

	deviceAuthorizationPath = "/oauth2/device_authorization"
	tokenPath               = "/oauth2/token"
	cliSessionsPath         = "/api/auth/cli/sessions"
	mePath                  = "/api/me"
	callbackPath            = "/callback"
)

var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrNoRefresh   = errors.New("no refresh token, log in again")
)

// Identity is the /api/me response.
type Identity struct {
	UserID  string   `json:"user_id"`
	Email   string   `json:"email,omitempty"`
	Scopes  []string `json:"scopes"`
	Method  string   `json:"auth_method"`
	TokenID string   `json:"token_id,omitempty"`
}

type Client struct {
	server     string
	httpClient *http.Client
	oauth      *oauth2.Config
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithScopes(scopes ...string) ClientOption {
	return func(cl *Client) {
		cl.oauth.Scopes = scopes
	}
}

func NewClient(server string, options ...ClientOption) (*Client, error) {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if server == "" {
		return nil, errors.New("[cli.NewClient] server url is required")
	}
	c := &Client{
		server:     server,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		oauth: &oauth2.Config{
			ClientID: ClientID,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: server + deviceAuthorizationPath,
				TokenURL:      server + tokenPath,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

func (c *Client) Server() string {
	return c.server
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// DeviceLogin runs the device flow. prompt is called once with the code the user
// has to confirm in a browser; polling starts when it returns.
func (c *Client) DeviceLogin(ctx context.Context, prompt func(*oauth2.DeviceAuthResponse) error) (*Credentials, error) {
	ctx = c.context(ctx)
	da, err := c.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Client.DeviceLogin DeviceAuth")
	}
	if err := prompt(da); err != nil {
		return nil, err
	}
	tok, err := c.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, errors.Wrap(err, "Client.DeviceLogin DeviceAccessToken")
	}
	return credentialsFromToken(c.server, tok), nil
}

type cliSessionResponse struct {
	SessionID    string `json:"session_id"`
	Code         string `json:"code"`
	State        string `json:"state"`
	AuthorizeURL string `json:"authorize_url"`
}

// BrowserLogin starts a CLI session redirecting to a loopback listener, hands the
// approval URL and confirmation code to open, and exchanges the code it receives.
func (c *Client) BrowserLogin(ctx context.Context, open func(authorizeURL, confirmationCode string) error) (*Credentials, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "Client.BrowserLogin listen")
	}
	defer listener.Close()
	redirectTarget := fmt.Sprintf("http://%s%s", listener.Addr().String(), callbackPath)

	session, err := c.createCliSession(ctx, redirectTarget)
	if err != nil {
		return nil, err
	}

	results := make(chan callbackResult, 1)
	srv := &http.Server{Handler: callbackHandler(session.State, results), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Debug().Err(err).Msg("callback listener stopped")
		}
	}()
	defer srv.Close()

	if err := open(session.AuthorizeURL, session.Code); err != nil {
		return nil, err
	}

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := c.oauth.Exchange(c.context(ctx), res.code)
	if err != nil {
		return nil, errors.Wrap(err, "Client.BrowserLogin Exchange")
	}
	return credentialsFromToken(c.server, tok), nil
}

func (c *Client) createCliSession(ctx context.Context, redirectTarget string) (*cliSessionResponse, error) {
	body := map[string]any{"redirect_target": redirectTarget, "scopes": c.oauth.Scopes}
	var session cliSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, cliSessionsPath, "", body, &session); err != nil {
		return nil, errors.Wrap(err, "Client.BrowserLogin create session")
	}
	return &session, nil
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler reports the first callback carrying the session state. Requests
// with any other state are answered 400 and the login keeps waiting.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(state)) != 1 {
			log.Debug().Msg("ignoring callback with unexpected state")
			http.Error(w, "Unexpected login callback.", http.StatusBadRequest)
			return
		}
		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = errors.Errorf("login %s", q.Get("error"))
		case q.Get("code") == "":
			res.err = errors.New("callback carried no code")
		default:
			res.code = q.Get("code")
		}
		if res.err != nil {
			http.Error(w, "Login failed. You can close this window.", http.StatusBadRequest)
		} else {
			_, _ = fmt.Fprintln(w, "Login complete. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})
	return mux
}

// Refresh redeems the stored refresh token. The server consumes it on every use
// and only hands out a new one near the end of its lifetime, so an unchanged
// refresh token in the result is dropped rather than kept for a replay.
func (c *Client) Refresh(ctx context.Context, creds *Credentials) (*Credentials, error) {
	if creds.RefreshToken == "" {
		return nil, ErrNoRefresh
	}
	stale := creds.Token()
	stale.Expiry = time.Unix(1, 0)

	tok, err := c.oauth.TokenSource(c.context(ctx), stale).Token()
	if err != nil {
		return nil, errors.Wrap(err, "Client.Refresh")
	}
	next := credentialsFromToken(c.server, tok)
	if next.RefreshToken == creds.RefreshToken {
		next.RefreshToken = ""
	}
	if next.Scope == "" {
		next.Scope = creds.Scope
	}
	return next, nil
}

func (c *Client) WhoAmI(ctx context.Context, creds *Credentials) (*Identity, error) {
	var id Identity
	if err := c.doJSON(ctx, http.MethodGet, mePath, creds.AccessToken, nil, &id); err != nil {
		return nil, errors.Wrap(err, "Client.WhoAmI")
	}
	return &id, nil
}

// APIError is a non 2xx response of the JSON API.
type APIError struct {
	Status int
	Code   string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d %s", e.Status, e.Code)
}

func (c *Client) doJSON(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	httpClient := c.httpClient
	if bearer != "" {
		httpClient = oauth2.NewClient(c.context(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}))
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
