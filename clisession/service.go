// Package clisession implements the browser based CLI login that redirects an
// authorization code to a listener on the user's machine.
package clisession

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/jrsteele09/skills-auth/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSessionExpiry  = 600 * time.Second
	DefaultAuthCodeExpiry = 60 * time.Second

	ApprovalPath = "/cli/authorize"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionDeny:
		return a, nil
	}
	return "", autherrors.Wrapf(autherrors.ErrInvalidInput, "unknown action %q", s)
}

type CreateRequest struct {
	RedirectTarget string
	Scopes         []scope.Scope
	BaseURL        string
}

type CreateResponse struct {
	SessionID    string `json:"session_id"`
	Code         string `json:"code"`
	State        string `json:"state"`
	AuthorizeURL string `json:"authorize_url,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

type TokenIssuer interface {
	IssueTokenPair(ctx context.Context, userID string, scopes []scope.Scope) (*token.Pair, error)
}

type Service struct {
	repo           Repo
	tokens         TokenIssuer
	sessionExpiry  time.Duration
	authCodeExpiry time.Duration
	nowFunc        token.NowTimeFunc
}

type ServiceOption func(*Service)

func WithNowFunc(now token.NowTimeFunc) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func WithExpiry(session, authCode time.Duration) ServiceOption {
	return func(s *Service) {
		s.sessionExpiry = session
		s.authCodeExpiry = authCode
	}
}

func NewService(repo Repo, tokens TokenIssuer, options ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("[clisession.NewService] cli session repo is required")
	}
	if tokens == nil {
		return nil, errors.New("[clisession.NewService] token issuer is required")
	}
	s := &Service{
		repo:           repo,
		tokens:         tokens,
		sessionExpiry:  DefaultSessionExpiry,
		authCodeExpiry: DefaultAuthCodeExpiry,
		nowFunc:        time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Create starts a session. Code is a confirmation code the approval page shows so
// the user can match the browser tab to the terminal that started the login.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	target, err := ValidateRedirectTarget(req.RedirectTarget)
	if err != nil {
		return nil, err
	}
	state, err := token.NewState()
	if err != nil {
		return nil, err
	}
	confirmation, err := token.NewUserCode()
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	session := &Session{
		ID:               uuid.NewString(),
		State:            state,
		ConfirmationCode: confirmation,
		Status:           StatusPending,
		RedirectTarget:   target,
		Scopes:           scope.OrAll(req.Scopes),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.sessionExpiry),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, errors.Wrap(err, "clisession.Create")
	}

	resp := &CreateResponse{
		SessionID: session.ID,
		Code:      confirmation,
		State:     state,
		ExpiresIn: int(s.sessionExpiry.Seconds()),
	}
	if base := strings.TrimRight(req.BaseURL, "/"); base != "" {
		resp.AuthorizeURL = base + ApprovalPath + "?session_id=" + url.QueryEscape(session.ID)
	}
	return resp, nil
}

// Get returns a session for the approval page.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "clisession.Get session id is required")
	}
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "clisession.Get")
	}
	if session.Status == StatusPending && !s.nowFunc().Before(session.ExpiresAt) {
		s.expire(ctx, session)
		return nil, autherrors.Wrapf(autherrors.ErrExpired, "clisession.Get %s", sessionID)
	}
	return session, nil
}

// Authorize resolves a pending session to its redirect URL. It succeeds once per
// session; later calls get ErrAlreadyConsumed.
func (s *Service) Authorize(ctx context.Context, sessionID, actingUserID string, action Action) (string, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(actingUserID) == "" {
		return "", autherrors.Wrapf(autherrors.ErrInvalidInput, "clisession.Authorize session and acting user are required")
	}
	if action != ActionApprove && action != ActionDeny {
		return "", autherrors.Wrapf(autherrors.ErrInvalidInput, "clisession.Authorize unknown action %q", action)
	}

	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return "", errors.Wrap(err, "clisession.Authorize Get")
	}
	switch session.Status {
	case StatusPending:
	case StatusExpired:
		return "", autherrors.Wrapf(autherrors.ErrExpired, "clisession.Authorize %s", sessionID)
	default:
		return "", autherrors.Wrapf(autherrors.ErrAlreadyConsumed, "clisession.Authorize %s is %s", sessionID, session.Status)
	}
	now := s.nowFunc()
	if !now.Before(session.ExpiresAt) {
		s.expire(ctx, session)
		return "", autherrors.Wrapf(autherrors.ErrExpired, "clisession.Authorize %s", sessionID)
	}

	params := url.Values{}
	change := StatusChange{ID: session.ID, From: StatusPending, UserID: actingUserID}
	if action == ActionApprove {
		rawCode, codeHash, err := token.NewOpaque(token.AuthCodePrefix)
		if err != nil {
			return "", err
		}
		change.To = StatusApproved
		change.AuthCodeHash = codeHash
		change.ExpiresAt = now.Add(s.authCodeExpiry)
		params.Set("code", rawCode)
	} else {
		change.To = StatusDenied
		params.Set("error", "access_denied")
	}
	params.Set("state", session.State)

	if err := s.repo.Transition(ctx, change); err != nil {
		if autherrors.Is(err, autherrors.ErrConflict) {
			return "", autherrors.Wrapf(autherrors.ErrAlreadyConsumed, "clisession.Authorize %s", sessionID)
		}
		return "", errors.Wrap(err, "clisession.Authorize Transition")
	}
	log.Info().Str("cli_session_id", session.ID).Str("user_id", actingUserID).Str("action", string(action)).Msg("cli session authorized")

	return withQuery(session.RedirectTarget, params)
}

// Exchange trades a one time authorization code for a token pair.
func (s *Service) Exchange(ctx context.Context, rawCode string) (*token.Pair, error) {
	rawCode = strings.TrimSpace(rawCode)
	if !strings.HasPrefix(rawCode, token.AuthCodePrefix) {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "clisession.Exchange malformed code")
	}
	session, err := s.repo.GetByAuthCodeHash(ctx, token.Hash(rawCode))
	if err != nil {
		return nil, errors.Wrap(err, "clisession.Exchange GetByAuthCodeHash")
	}
	switch session.Status {
	case StatusApproved:
	case StatusConsumed:
		return nil, autherrors.Wrapf(autherrors.ErrAlreadyConsumed, "clisession.Exchange %s", session.ID)
	case StatusExpired:
		return nil, autherrors.Wrapf(autherrors.ErrExpired, "clisession.Exchange %s", session.ID)
	default:
		return nil, autherrors.Wrapf(autherrors.ErrNotFound, "clisession.Exchange %s", session.ID)
	}
	if !s.nowFunc().Before(session.ExpiresAt) {
		s.expire(ctx, session)
		return nil, autherrors.Wrapf(autherrors.ErrExpired, "clisession.Exchange %s", session.ID)
	}

	if err := s.repo.Transition(ctx, StatusChange{ID: session.ID, From: StatusApproved, To: StatusConsumed}); err != nil {
		if autherrors.Is(err, autherrors.ErrConflict) {
			return nil, autherrors.Wrapf(autherrors.ErrAlreadyConsumed, "clisession.Exchange %s", session.ID)
		}
		return nil, errors.Wrap(err, "clisession.Exchange Transition")
	}
	pair, err := s.tokens.IssueTokenPair(ctx, session.UserID, session.Scopes)
	if err != nil {
		return nil, errors.Wrap(err, "clisession.Exchange IssueTokenPair")
	}
	return pair, nil
}

func (s *Service) expire(ctx context.Context, session *Session) {
	err := s.repo.Transition(ctx, StatusChange{ID: session.ID, From: session.Status, To: StatusExpired})
	if err != nil && !autherrors.Is(err, autherrors.ErrConflict) {
		log.Warn().Err(err).Str("cli_session_id", session.ID).Msg("failed to mark cli session expired")
	}
}

// ValidateRedirectTarget accepts only http URLs on a loopback host with an explicit port.
func ValidateRedirectTarget(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "http" || u.User != nil || u.Fragment != "" {
		return "", autherrors.Wrapf(autherrors.ErrInvalidInput, "redirect target must be an http loopback url")
	}
	host, port := u.Hostname(), u.Port()
	if port == "" {
		return "", autherrors.Wrapf(autherrors.ErrInvalidInput, "redirect target must include a port")
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return "", autherrors.Wrapf(autherrors.ErrInvalidInput, "redirect target host %q is not loopback", host)
		}
	}
	return u.String(), nil
}

func withQuery(target string, params url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", errors.Wrap(err, "withQuery")
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
