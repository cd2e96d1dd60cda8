package clisession

import (
	"context"
	"time"

	"github.com/jrsteele09/skills-auth/scope"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
	StatusConsumed Status = "consumed"
)

// Session is a browser approved CLI login that redirects to a loopback listener.
type Session struct {
	ID               string        `json:"id"`
	State            string        `json:"-"`
	ConfirmationCode string        `json:"code"`
	AuthCodeHash     string        `json:"-"`
	Status           Status        `json:"status"`
	UserID           string        `json:"-"`
	RedirectTarget   string        `json:"redirect_target"`
	Scopes           []scope.Scope `json:"scopes"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
}

// StatusChange is a conditional update keyed by ID and the expected current status.
// Empty fields are left unchanged.
type StatusChange struct {
	ID           string
	From         Status
	To           Status
	UserID       string
	AuthCodeHash string
	ExpiresAt    time.Time
}

type Repo interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	GetByAuthCodeHash(ctx context.Context, hash string) (*Session, error)
	// Transition returns ErrConflict when the session is no longer in change.From.
	Transition(ctx context.Context, change StatusChange) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
