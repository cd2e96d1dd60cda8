// Package memory is an in-process store for tests and single instance development.
// Every conditional write is checked and applied under one lock, so it gives the
// same compare-and-swap guarantees as the SQL adapter within one process.
package memory

import (
	"github.com/jrsteele09/skills-auth/store"
)

func New() store.Repos {
	return store.Repos{
		DeviceCodes:   NewDeviceCodeRepo(),
		CliSessions:   NewCliSessionRepo(),
		APITokens:     NewAPITokenRepo(),
		RefreshTokens: NewRefreshTokenRepo(),
	}
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
