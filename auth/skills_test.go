package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/skills-auth/auth"
	"github.com/jrsteele09/skills-auth/identity"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforcer_CheckSkill(t *testing.T) {
	dir := identity.NewDirectory()
	dir.SetOwner("skill-1", "owner")
	dir.Grant("skill-1", "reader", identity.PermissionRead, nil)
	dir.Grant("skill-1", "writer", identity.PermissionWrite, nil)
	past := time.Now().Add(-time.Hour)
	dir.Grant("skill-1", "lapsed", identity.PermissionWrite, &past)

	e, err := auth.NewEnforcer(dir)
	require.NoError(t, err)

	session := func(user string) auth.Context {
		return auth.Context{UserID: user, Method: auth.MethodSession, Scopes: scope.All()}
	}
	readToken := auth.Context{UserID: "owner", Method: auth.MethodToken, Scopes: []scope.Scope{scope.Read}}

	tests := []struct {
		name    string
		ac      auth.Context
		perm    identity.Permission
		wantErr error
	}{
		{"owner write", session("owner"), identity.PermissionWrite, nil},
		{"reader read", session("reader"), identity.PermissionRead, nil},
		{"reader write is forbidden", session("reader"), identity.PermissionWrite, autherrors.ErrForbidden},
		{"writer read", session("writer"), identity.PermissionRead, nil},
		{"writer write", session("writer"), identity.PermissionWrite, nil},
		{"stranger is masked", session("stranger"), identity.PermissionRead, autherrors.ErrNotFound},
		{"expired grant is masked", session("lapsed"), identity.PermissionRead, autherrors.ErrNotFound},
		{"anonymous is masked", auth.Anonymous(), identity.PermissionRead, autherrors.ErrNotFound},
		{"owner token lacking write scope", readToken, identity.PermissionWrite, autherrors.ErrForbidden},
		{"owner token with read scope", readToken, identity.PermissionRead, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.CheckSkill(context.Background(), tt.ac, "skill-1", tt.perm)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewEnforcer_RequiresChecker(t *testing.T) {
	_, err := auth.NewEnforcer(nil)
	assert.Error(t, err)
}
