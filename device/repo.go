package device

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
	// StatusConsumed marks the code whose tokens were handed out by a poll.
	StatusConsumed Status = "consumed"
)

type ClientInfo struct {
	OS       string `json:"os,omitempty" yaml:"os,omitempty"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
}

// DeviceCode is a pending CLI login. Only the hash of the device code is stored.
type DeviceCode struct {
	ID             string
	DeviceCodeHash string
	UserCode       string
	Status         Status
	UserID         string
	Scopes         []scope.Scope
	ClientInfo     ClientInfo
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastPolledAt   *time.Time
	Interval       time.Duration
}

type Repo interface {
	// Create returns ErrDuplicate when the user code collides with a pending row.
	Create(ctx context.Context, dc *DeviceCode) error
	GetByDeviceCodeHash(ctx context.Context, hash string) (*DeviceCode, error)
	GetPendingByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)
	// Transition moves a row from one status to another, binding userID when it is
	// not empty. ErrConflict when the current status is no longer from.
	Transition(ctx context.Context, id string, from, to Status, userID string) error
	// TouchPoll records a poll while the row is pending and last_polled_at still
	// equals prev. ErrConflict otherwise.
	TouchPoll(ctx context.Context, id string, prev *time.Time, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
