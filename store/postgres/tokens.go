package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/skills-auth/scope"
	"github.com/jrsteele09/skills-auth/token"
)

var (
	_ token.APITokenRepo     = (*APITokenRepo)(nil)
	_ token.RefreshTokenRepo = (*RefreshTokenRepo)(nil)
)

const apiTokenColumns = `id, owner_user_id, token_hash, prefix, name, kind, scopes, created_at, expires_at, revoked_at`

type APITokenRepo struct {
	db *sql.DB
}

func (r *APITokenRepo) Create(ctx context.Context, t *token.APIToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_tokens (`+apiTokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.OwnerUserID, t.TokenHash, t.Prefix, t.Name, string(t.Kind), scope.Join(t.Scopes),
		t.CreatedAt, ptrToNull(t.ExpiresAt), ptrToNull(t.RevokedAt))
	return classify("APITokenRepo.Create", err)
}

func (r *APITokenRepo) Get(ctx context.Context, id string) (*token.APIToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+apiTokenColumns+` FROM api_tokens WHERE id = $1`, id)
	return scanAPIToken("APITokenRepo.Get", row)
}

func (r *APITokenRepo) GetByHash(ctx context.Context, hash string) (*token.APIToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+apiTokenColumns+` FROM api_tokens WHERE token_hash = $1`, hash)
	return scanAPIToken("APITokenRepo.GetByHash", row)
}

func (r *APITokenRepo) ListByOwner(ctx context.Context, ownerUserID string, kind token.Kind) ([]*token.APIToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+apiTokenColumns+` FROM api_tokens
		WHERE owner_user_id = $1 AND kind = $2
		ORDER BY created_at DESC`, ownerUserID, string(kind))
	if err != nil {
		return nil, classify("APITokenRepo.ListByOwner", err)
	}
	defer rows.Close()

	out := make([]*token.APIToken, 0)
	for rows.Next() {
		t, err := scanAPIToken("APITokenRepo.ListByOwner", rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("APITokenRepo.ListByOwner", err)
	}
	return out, nil
}

func (r *APITokenRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return expectOne("APITokenRepo.Revoke", res, err)
}

func (r *APITokenRepo) RevokeAllByOwner(ctx context.Context, ownerUserID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET revoked_at = $2 WHERE owner_user_id = $1 AND revoked_at IS NULL`, ownerUserID, at)
	return affected("APITokenRepo.RevokeAllByOwner", res, err)
}

func (r *APITokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM api_tokens
		WHERE (expires_at IS NOT NULL AND expires_at < $1)
		   OR (revoked_at IS NOT NULL AND revoked_at < $1)`, before)
	return affected("APITokenRepo.DeleteExpired", res, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAPIToken(op string, row scanner) (*token.APIToken, error) {
	var (
		t                    token.APIToken
		kind, scopes         string
		expiresAt, revokedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.OwnerUserID, &t.TokenHash, &t.Prefix, &t.Name, &kind, &scopes,
		&t.CreatedAt, &expiresAt, &revokedAt)
	if err != nil {
		return nil, classify(op, err)
	}
	t.Kind = token.Kind(kind)
	t.Scopes = parseScopes(scopes)
	t.ExpiresAt = timePtr(expiresAt)
	t.RevokedAt = timePtr(revokedAt)
	return &t, nil
}

const refreshTokenColumns = `id, user_id, token_hash, scopes, created_at, expires_at, rotated_from, used_at, revoked_at`

type RefreshTokenRepo struct {
	db *sql.DB
}

func (r *RefreshTokenRepo) Create(ctx context.Context, t *token.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.UserID, t.TokenHash, scope.Join(t.Scopes), t.CreatedAt, t.ExpiresAt,
		nullString(t.RotatedFrom), ptrToNull(t.UsedAt), ptrToNull(t.RevokedAt))
	return classify("RefreshTokenRepo.Create", err)
}

func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (*token.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, hash)
	var (
		t                 token.RefreshToken
		scopes            string
		rotatedFrom       sql.NullString
		usedAt, revokedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &scopes, &t.CreatedAt, &t.ExpiresAt,
		&rotatedFrom, &usedAt, &revokedAt)
	if err != nil {
		return nil, classify("RefreshTokenRepo.GetByHash", err)
	}
	t.Scopes = parseScopes(scopes)
	t.RotatedFrom = rotatedFrom.String
	t.UsedAt = timePtr(usedAt)
	t.RevokedAt = timePtr(revokedAt)
	return &t, nil
}

func (r *RefreshTokenRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL`, id, at)
	return expectOne("RefreshTokenRepo.MarkUsed", res, err)
}

func (r *RefreshTokenRepo) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE user_id = $1 AND used_at IS NULL AND revoked_at IS NULL`, userID, at)
	return affected("RefreshTokenRepo.RevokeAllByUser", res, err)
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	return affected("RefreshTokenRepo.DeleteExpired", res, err)
}
