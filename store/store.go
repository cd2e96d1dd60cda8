// Package store groups the persistence adapters of the authorization core.
package store

import (
	"context"
	"time"

	"github.com/jrsteele09/skills-auth/clisession"
	"github.com/jrsteele09/skills-auth/device"
	"github.com/jrsteele09/skills-auth/token"
)

// Repos holds one repository per record family.
type Repos struct {
	DeviceCodes   device.Repo
	CliSessions   clisession.Repo
	APITokens     token.APITokenRepo
	RefreshTokens token.RefreshTokenRepo
}

// Sweeper deletes rows that expired before a cutoff.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Sweepers returns the repos keyed by family name, for the reaper.
func (r Repos) Sweepers() map[string]Sweeper {
	return map[string]Sweeper{
		"device_codes":   r.DeviceCodes,
		"cli_sessions":   r.CliSessions,
		"api_tokens":     r.APITokens,
		"refresh_tokens": r.RefreshTokens,
	}
}
