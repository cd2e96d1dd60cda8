// Package device implements the device authorization flow used by headless CLI logins.
package device

import (
	"context"
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
	DefaultExpiry   = 900 * time.Second
	DefaultInterval = 5 * time.Second

	VerificationPath = "/device"

	defaultPollLeeway     = time.Second
	defaultIssueAttempts  = 5
	maxClientInfoFieldLen = 128
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

type PollStatus string

const (
	PollPending  PollStatus = "pending"
	PollSlowDown PollStatus = "slow_down"
	PollExpired  PollStatus = "expired"
	PollDenied   PollStatus = "denied"
	PollSuccess  PollStatus = "success"
)

type IssueRequest struct {
	ClientInfo ClientInfo
	Scopes     []scope.Scope
	BaseURL    string
}

type IssueResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type PollResult struct {
	Status PollStatus  `json:"status"`
	Tokens *token.Pair `json:"tokens,omitempty"`
}

// TokenIssuer mints the token pair handed out on a successful poll.
type TokenIssuer interface {
	IssueTokenPair(ctx context.Context, userID string, scopes []scope.Scope) (*token.Pair, error)
}

type Service struct {
	repo          Repo
	tokens        TokenIssuer
	expiry        time.Duration
	interval      time.Duration
	pollLeeway    time.Duration
	issueAttempts int
	nowFunc       token.NowTimeFunc
}

type ServiceOption func(*Service)

func WithNowFunc(now token.NowTimeFunc) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// WithPollLeeway tolerates polls arriving slightly before the interval elapsed.
func WithPollLeeway(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.pollLeeway = d
	}
}

// WithTiming overrides the code lifetime and the poll interval handed to clients.
func WithTiming(expiry, interval time.Duration) ServiceOption {
	return func(s *Service) {
		s.expiry = expiry
		s.interval = interval
	}
}

func WithIssueAttempts(n int) ServiceOption {
	return func(s *Service) {
		s.issueAttempts = n
	}
}

func NewService(repo Repo, tokens TokenIssuer, options ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("[device.NewService] device code repo is required")
	}
	if tokens == nil {
		return nil, errors.New("[device.NewService] token issuer is required")
	}
	s := &Service{
		repo:          repo,
		tokens:        tokens,
		expiry:        DefaultExpiry,
		interval:      DefaultInterval,
		pollLeeway:    defaultPollLeeway,
		issueAttempts: defaultIssueAttempts,
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.issueAttempts < 1 {
		s.issueAttempts = 1
	}
	return s, nil
}

// Issue creates a pending device code. The user code is regenerated when it
// collides with another pending code.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResponse, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(req.BaseURL), "/")
	if baseURL == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "device.Issue base url is required")
	}
	rawDeviceCode, deviceCodeHash, err := token.NewDeviceCode()
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	dc := &DeviceCode{
		ID:             uuid.NewString(),
		DeviceCodeHash: deviceCodeHash,
		Status:         StatusPending,
		Scopes:         scope.OrAll(req.Scopes),
		ClientInfo:     trimClientInfo(req.ClientInfo),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.expiry),
		Interval:       s.interval,
	}

	for attempt := 1; ; attempt++ {
		if dc.UserCode, err = token.NewUserCode(); err != nil {
			return nil, err
		}
		err = s.repo.Create(ctx, dc)
		if err == nil {
			break
		}
		if !autherrors.Is(err, autherrors.ErrDuplicate) || attempt >= s.issueAttempts {
			return nil, errors.Wrap(err, "device.Issue Create")
		}
		log.Debug().Int("attempt", attempt).Msg("user code collision, regenerating")
	}

	verificationURI := baseURL + VerificationPath
	return &IssueResponse{
		DeviceCode:              rawDeviceCode,
		UserCode:                dc.UserCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + url.QueryEscape(dc.UserCode),
		ExpiresIn:               int(s.expiry.Seconds()),
		Interval:                int(s.interval.Seconds()),
	}, nil
}

// Authorize approves or denies a pending code on behalf of an authenticated user.
func (s *Service) Authorize(ctx context.Context, userCode, actingUserID string, action Action) error {
	if strings.TrimSpace(actingUserID) == "" {
		return autherrors.Wrapf(autherrors.ErrInvalidInput, "device.Authorize acting user is required")
	}
	if action != ActionApprove && action != ActionDeny {
		return autherrors.Wrapf(autherrors.ErrInvalidInput, "device.Authorize unknown action %q", action)
	}
	code, err := token.NormalizeUserCode(userCode)
	if err != nil {
		return err
	}

	dc, err := s.repo.GetPendingByUserCode(ctx, code)
	if err != nil {
		return errors.Wrap(err, "device.Authorize GetPendingByUserCode")
	}
	if !s.nowFunc().Before(dc.ExpiresAt) {
		s.expire(ctx, dc)
		return autherrors.Wrapf(autherrors.ErrExpired, "device.Authorize %s", code)
	}

	to, boundUser := StatusDenied, ""
	if action == ActionApprove {
		to, boundUser = StatusApproved, actingUserID
	}
	if err := s.repo.Transition(ctx, dc.ID, StatusPending, to, boundUser); err != nil {
		if autherrors.Is(err, autherrors.ErrConflict) {
			return autherrors.Wrapf(autherrors.ErrNotFound, "device.Authorize %s is no longer pending", code)
		}
		return errors.Wrap(err, "device.Authorize Transition")
	}
	log.Info().Str("device_code_id", dc.ID).Str("user_id", actingUserID).Str("action", string(action)).Msg("device code authorized")
	return nil
}

// Poll reports the state of a device code. An approved code is consumed by the
// first poll that observes it and the token pair is returned with that poll only.
func (s *Service) Poll(ctx context.Context, rawDeviceCode string) (*PollResult, error) {
	rawDeviceCode = strings.TrimSpace(rawDeviceCode)
	if rawDeviceCode == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "device.Poll device code is required")
	}
	dc, err := s.repo.GetByDeviceCodeHash(ctx, token.Hash(rawDeviceCode))
	if err != nil {
		return nil, errors.Wrap(err, "device.Poll GetByDeviceCodeHash")
	}

	switch dc.Status {
	case StatusConsumed, StatusExpired:
		return &PollResult{Status: PollExpired}, nil
	case StatusDenied:
		return &PollResult{Status: PollDenied}, nil
	}

	now := s.nowFunc()
	if !now.Before(dc.ExpiresAt) {
		s.expire(ctx, dc)
		return &PollResult{Status: PollExpired}, nil
	}

	if dc.Status == StatusApproved {
		return s.consume(ctx, dc)
	}
	return s.throttle(ctx, dc, now)
}

func (s *Service) consume(ctx context.Context, dc *DeviceCode) (*PollResult, error) {
	if err := s.repo.Transition(ctx, dc.ID, StatusApproved, StatusConsumed, ""); err != nil {
		if autherrors.Is(err, autherrors.ErrConflict) {
			return &PollResult{Status: PollExpired}, nil
		}
		return nil, errors.Wrap(err, "device.Poll consume")
	}
	pair, err := s.tokens.IssueTokenPair(ctx, dc.UserID, dc.Scopes)
	if err != nil {
		return nil, errors.Wrap(err, "device.Poll IssueTokenPair")
	}
	return &PollResult{Status: PollSuccess, Tokens: pair}, nil
}

func (s *Service) throttle(ctx context.Context, dc *DeviceCode, now time.Time) (*PollResult, error) {
	interval := dc.Interval
	if interval <= 0 {
		interval = s.interval
	}
	if dc.LastPolledAt != nil && now.Sub(*dc.LastPolledAt) < interval-s.pollLeeway {
		return &PollResult{Status: PollSlowDown}, nil
	}
	if err := s.repo.TouchPoll(ctx, dc.ID, dc.LastPolledAt, now); err != nil {
		if autherrors.Is(err, autherrors.ErrConflict) {
			// Another poll or an authorize landed in between.
			return &PollResult{Status: PollSlowDown}, nil
		}
		return nil, errors.Wrap(err, "device.Poll TouchPoll")
	}
	return &PollResult{Status: PollPending}, nil
}

// expire lazily records expiry. Losing the race to another writer is fine.
func (s *Service) expire(ctx context.Context, dc *DeviceCode) {
	err := s.repo.Transition(ctx, dc.ID, dc.Status, StatusExpired, "")
	if err != nil && !autherrors.Is(err, autherrors.ErrConflict) {
		log.Warn().Err(err).Str("device_code_id", dc.ID).Msg("failed to mark device code expired")
	}
}

func trimClientInfo(ci ClientInfo) ClientInfo {
	return ClientInfo{
		OS:       truncate(ci.OS),
		Hostname: truncate(ci.Hostname),
		Version:  truncate(ci.Version),
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxClientInfoFieldLen {
		return s[:maxClientInfoFieldLen]
	}
	return s
}
