package auth

import (
	"context"

	"github.com/jrsteele09/skills-auth/identity"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/pkg/errors"
)

// RequireScope fails with ErrUnauthorized for anonymous callers and ErrForbidden
// when the identity lacks s.
func RequireScope(ac Context, s scope.Scope) error {
	if !ac.Authenticated() {
		return autherrors.ErrUnauthorized
	}
	if !ac.HasScope(s) {
		return autherrors.Wrapf(autherrors.ErrForbidden, "missing scope %s", s)
	}
	return nil
}

// RequireSession only admits interactive logins, for actions a token must never
// perform on its own (approving logins, minting tokens).
func RequireSession(ac Context) error {
	if !ac.Authenticated() {
		return autherrors.ErrUnauthorized
	}
	if ac.Method != MethodSession {
		return autherrors.Wrapf(autherrors.ErrForbidden, "session login required")
	}
	return nil
}

// Enforcer combines scopes with skill ownership and grants.
type Enforcer struct {
	perms identity.PermissionChecker
}

func NewEnforcer(perms identity.PermissionChecker) (*Enforcer, error) {
	if perms == nil {
		return nil, errors.New("[NewEnforcer] permission checker is required")
	}
	return &Enforcer{perms: perms}, nil
}

// CheckSkill authorizes perm on a private skill. Callers that may not even see
// the skill get ErrNotFound so its existence is not revealed.
func (e *Enforcer) CheckSkill(ctx context.Context, ac Context, skillID string, perm identity.Permission) error {
	required := scope.Read
	if perm == identity.PermissionWrite {
		required = scope.Write
	}
	if err := RequireScope(ac, required); err != nil {
		if !ac.Authenticated() {
			return autherrors.Wrapf(autherrors.ErrNotFound, "skill %s", skillID)
		}
		return err
	}

	owner, err := e.perms.IsOwner(ctx, skillID, ac.UserID)
	if err != nil {
		return autherrors.Unavailable("Enforcer.CheckSkill IsOwner", err)
	}
	if owner {
		return nil
	}
	allowed, err := e.perms.HasAccess(ctx, skillID, ac.UserID, perm)
	if err != nil {
		return autherrors.Unavailable("Enforcer.CheckSkill HasAccess", err)
	}
	if allowed {
		return nil
	}
	if perm == identity.PermissionWrite {
		canRead, err := e.perms.HasAccess(ctx, skillID, ac.UserID, identity.PermissionRead)
		if err != nil {
			return autherrors.Unavailable("Enforcer.CheckSkill HasAccess", err)
		}
		if canRead {
			return autherrors.Wrapf(autherrors.ErrForbidden, "skill %s is read only", skillID)
		}
	}
	return autherrors.Wrapf(autherrors.ErrNotFound, "skill %s", skillID)
}
