package token

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	TokenTypeBearer = "Bearer"

	defaultAccessTokenExpiry  = time.Hour
	defaultRefreshTokenExpiry = 30 * 24 * time.Hour
	defaultRotationFraction   = 1.0 / 3.0
	maxTokenNameLength        = 100
)

type NowTimeFunc func() time.Time

// Pair is returned by IssueTokenPair. Raw values are only ever visible here.
type Pair struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
}

// RefreshResult carries a new access token, plus a new refresh token when the
// presented one was rotated.
type RefreshResult struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope"`
}

func (r *RefreshResult) Rotated() bool {
	return r.RefreshToken != ""
}

// IssuedAPIToken is a newly created personal token with its raw secret.
type IssuedAPIToken struct {
	Token string    `json:"token"`
	Info  *APIToken `json:"info"`
}

// ReplayHandler decides what happens when an already used refresh token is redeemed again.
type ReplayHandler func(ctx context.Context, m *Manager, replayed *RefreshToken) error

// RevokeUserRefreshTokens is the default replay policy: every refresh token of the user is revoked.
func RevokeUserRefreshTokens(ctx context.Context, m *Manager, replayed *RefreshToken) error {
	n, err := m.refreshRepo.RevokeAllByUser(ctx, replayed.UserID, m.nowFunc())
	if err != nil {
		return errors.Wrap(err, "RevokeUserRefreshTokens RevokeAllByUser")
	}
	log.Warn().Str("user_id", replayed.UserID).Int64("revoked", n).Msg("refresh token family revoked after replay")
	return nil
}

type Manager struct {
	apiRepo            APITokenRepo
	refreshRepo        RefreshTokenRepo
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	rotationFraction   float64
	replayHandler      ReplayHandler
	replayObservers    []func(ctx context.Context, replayed *RefreshToken)
	nowFunc            NowTimeFunc
}

type ManagerOption func(*Manager)

func WithTokenExpiry(accessTokenExpiry, refreshTokenExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = accessTokenExpiry
		m.refreshTokenExpiry = refreshTokenExpiry
	}
}

// WithRotationFraction sets the share of a refresh token's lifetime below which it is rotated.
func WithRotationFraction(fraction float64) ManagerOption {
	return func(m *Manager) {
		m.rotationFraction = fraction
	}
}

func WithReplayHandler(h ReplayHandler) ManagerOption {
	return func(m *Manager) {
		m.replayHandler = h
	}
}

// WithReplayObserver registers a callback run after the replay handler, e.g. for metrics.
func WithReplayObserver(observer func(ctx context.Context, replayed *RefreshToken)) ManagerOption {
	return func(m *Manager) {
		m.replayObservers = append(m.replayObservers, observer)
	}
}

func WithNowFunc(now NowTimeFunc) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(apiRepo APITokenRepo, refreshRepo RefreshTokenRepo, options ...ManagerOption) (*Manager, error) {
	if apiRepo == nil {
		return nil, errors.New("[NewManager] api token repo is required")
	}
	if refreshRepo == nil {
		return nil, errors.New("[NewManager] refresh token repo is required")
	}
	m := &Manager{
		apiRepo:     apiRepo,
		refreshRepo: refreshRepo,
	}
	for _, opt := range options {
		opt(m)
	}

	if m.accessTokenExpiry <= 0 {
		m.accessTokenExpiry = defaultAccessTokenExpiry
	}
	if m.refreshTokenExpiry <= 0 {
		m.refreshTokenExpiry = defaultRefreshTokenExpiry
	}
	if m.rotationFraction <= 0 || m.rotationFraction > 1 {
		m.rotationFraction = defaultRotationFraction
	}
	if m.replayHandler == nil {
		m.replayHandler = RevokeUserRefreshTokens
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m, nil
}

func (m *Manager) AccessTokenExpiry() time.Duration {
	return m.accessTokenExpiry
}

// IssueTokenPair mints an access token and a refresh token for userID. An empty
// scope list grants every scope.
func (m *Manager) IssueTokenPair(ctx context.Context, userID string, scopes []scope.Scope) (*Pair, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "Manager.IssueTokenPair user id is required")
	}
	scopes = scope.OrAll(scopes)

	access, err := m.issueAccessToken(ctx, userID, scopes)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.IssueTokenPair")
	}
	refresh, err := m.issueRefreshToken(ctx, userID, scopes, "")
	if err != nil {
		return nil, errors.Wrap(err, "Manager.IssueTokenPair")
	}

	return &Pair{
		AccessToken:      access,
		TokenType:        TokenTypeBearer,
		ExpiresIn:        int(m.accessTokenExpiry.Seconds()),
		RefreshToken:     refresh,
		RefreshExpiresIn: int(m.refreshTokenExpiry.Seconds()),
		Scope:            scope.Join(scopes),
	}, nil
}

// RefreshAccessToken redeems a refresh token exactly once. A new refresh token is
// only returned when the presented one is in the final part of its lifetime.
func (m *Manager) RefreshAccessToken(ctx context.Context, rawRefreshToken string) (*RefreshResult, error) {
	if !strings.HasPrefix(rawRefreshToken, RefreshTokenPrefix) {
		return nil, autherrors.ErrInvalidToken
	}

	rt, err := m.refreshRepo.GetByHash(ctx, Hash(rawRefreshToken))
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return nil, autherrors.ErrInvalidToken
		}
		return nil, errors.Wrap(err, "Manager.RefreshAccessToken GetByHash")
	}
	if rt.RevokedAt != nil {
		return nil, autherrors.ErrInvalidToken
	}
	if rt.Used() {
		m.handleReplay(ctx, rt)
		return nil, autherrors.ErrInvalidToken
	}

	now := m.nowFunc()
	if now.After(rt.ExpiresAt) {
		return nil, autherrors.ErrTokenExpired
	}

	if err := m.refreshRepo.MarkUsed(ctx, rt.ID, now); err != nil {
		if autherrors.Is(err, autherrors.ErrConflict) {
			// A concurrent redemption won.
			return nil, autherrors.ErrInvalidToken
		}
		return nil, errors.Wrap(err, "Manager.RefreshAccessToken MarkUsed")
	}

	scopes := scope.OrAll(rt.Scopes)
	access, err := m.issueAccessToken(ctx, rt.UserID, scopes)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.RefreshAccessToken")
	}
	result := &RefreshResult{
		AccessToken: access,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int(m.accessTokenExpiry.Seconds()),
		Scope:       scope.Join(scopes),
	}

	if m.shouldRotate(rt, now) {
		refresh, err := m.issueRefreshToken(ctx, rt.UserID, scopes, rt.ID)
		if err != nil {
			return nil, errors.Wrap(err, "Manager.RefreshAccessToken rotate")
		}
		result.RefreshToken = refresh
		result.RefreshExpiresIn = int(m.refreshTokenExpiry.Seconds())
	}
	return result, nil
}

func (m *Manager) shouldRotate(rt *RefreshToken, now time.Time) bool {
	threshold := time.Duration(float64(rt.Lifetime()) * m.rotationFraction)
	return rt.ExpiresAt.Sub(now) < threshold
}

func (m *Manager) handleReplay(ctx context.Context, rt *RefreshToken) {
	log.Warn().Str("user_id", rt.UserID).Str("refresh_token_id", rt.ID).Msg("used refresh token presented again")
	if err := m.replayHandler(ctx, m, rt); err != nil {
		log.Error().Err(err).Str("user_id", rt.UserID).Msg("refresh token replay handler failed")
	}
	for _, observe := range m.replayObservers {
		observe(ctx, rt)
	}
}

// Authenticate resolves a raw bearer token to its usable APIToken row.
func (m *Manager) Authenticate(ctx context.Context, rawToken string) (*APIToken, error) {
	if !strings.HasPrefix(rawToken, AccessTokenPrefix) && !strings.HasPrefix(rawToken, PersonalTokenPrefix) {
		return nil, autherrors.ErrInvalidToken
	}
	t, err := m.apiRepo.GetByHash(ctx, Hash(rawToken))
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return nil, autherrors.ErrInvalidToken
		}
		return nil, errors.Wrap(err, "Manager.Authenticate GetByHash")
	}
	if !t.Usable(m.nowFunc()) {
		return nil, autherrors.ErrInvalidToken
	}
	return t, nil
}

// IssueAPIToken creates a named personal token. A ttl of zero never expires.
func (m *Manager) IssueAPIToken(ctx context.Context, ownerUserID, name string, scopes []scope.Scope, ttl time.Duration) (*IssuedAPIToken, error) {
	name = strings.TrimSpace(name)
	switch {
	case strings.TrimSpace(ownerUserID) == "":
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "Manager.IssueAPIToken owner is required")
	case name == "" || len(name) > maxTokenNameLength:
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "Manager.IssueAPIToken name must be 1-%d characters", maxTokenNameLength)
	case len(scopes) == 0:
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "Manager.IssueAPIToken at least one scope is required")
	case ttl < 0:
		return nil, autherrors.Wrapf(autherrors.ErrInvalidInput, "Manager.IssueAPIToken negative ttl")
	}

	raw, hash, err := NewOpaque(PersonalTokenPrefix)
	if err != nil {
		return nil, err
	}
	now := m.nowFunc()
	t := &APIToken{
		ID:          uuid.NewString(),
		OwnerUserID: ownerUserID,
		TokenHash:   hash,
		Prefix:      DisplayPrefix(raw),
		Name:        name,
		Kind:        KindPersonal,
		Scopes:      scope.Normalize(scopes),
		CreatedAt:   now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		t.ExpiresAt = &exp
	}
	if err := m.apiRepo.Create(ctx, t); err != nil {
		return nil, errors.Wrap(err, "Manager.IssueAPIToken Create")
	}
	return &IssuedAPIToken{Token: raw, Info: t}, nil
}

func (m *Manager) ListAPITokens(ctx context.Context, ownerUserID string) ([]*APIToken, error) {
	tokens, err := m.apiRepo.ListByOwner(ctx, ownerUserID, KindPersonal)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.ListAPITokens")
	}
	return tokens, nil
}

// RevokeAPIToken revokes a token owned by ownerUserID. Other users' tokens are
// reported as not found. Revoking twice is not an error.
func (m *Manager) RevokeAPIToken(ctx context.Context, ownerUserID, tokenID string) error {
	t, err := m.apiRepo.Get(ctx, tokenID)
	if err != nil {
		return errors.Wrap(err, "Manager.RevokeAPIToken Get")
	}
	if t.OwnerUserID != ownerUserID {
		return autherrors.Wrapf(autherrors.ErrNotFound, "Manager.RevokeAPIToken %s", tokenID)
	}
	if err := m.apiRepo.Revoke(ctx, tokenID, m.nowFunc()); err != nil && !autherrors.Is(err, autherrors.ErrConflict) {
		return errors.Wrap(err, "Manager.RevokeAPIToken Revoke")
	}
	return nil
}

// RevokeAllForUser is the cascade hook for account deletion.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) error {
	now := m.nowFunc()
	if _, err := m.apiRepo.RevokeAllByOwner(ctx, userID, now); err != nil {
		return errors.Wrap(err, "Manager.RevokeAllForUser api tokens")
	}
	if _, err := m.refreshRepo.RevokeAllByUser(ctx, userID, now); err != nil {
		return errors.Wrap(err, "Manager.RevokeAllForUser refresh tokens")
	}
	return nil
}

func (m *Manager) issueAccessToken(ctx context.Context, userID string, scopes []scope.Scope) (string, error) {
	raw, hash, err := NewOpaque(AccessTokenPrefix)
	if err != nil {
		return "", err
	}
	now := m.nowFunc()
	exp := now.Add(m.accessTokenExpiry)
	if err := m.apiRepo.Create(ctx, &APIToken{
		ID:          uuid.NewString(),
		OwnerUserID: userID,
		TokenHash:   hash,
		Prefix:      DisplayPrefix(raw),
		Kind:        KindAccess,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   &exp,
	}); err != nil {
		return "", errors.Wrap(err, "issueAccessToken Create")
	}
	return raw, nil
}

func (m *Manager) issueRefreshToken(ctx context.Context, userID string, scopes []scope.Scope, rotatedFrom string) (string, error) {
	raw, hash, err := NewOpaque(RefreshTokenPrefix)
	if err != nil {
		return "", err
	}
	now := m.nowFunc()
	if err := m.refreshRepo.Create(ctx, &RefreshToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenHash:   hash,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.refreshTokenExpiry),
		RotatedFrom: rotatedFrom,
	}); err != nil {
		return "", errors.Wrap(err, "issueRefreshToken Create")
	}
	return raw, nil
}
