package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/skills-auth/clisession"
	"github.com/jrsteele09/skills-auth/scope"
)

var _ clisession.Repo = (*CliSessionRepo)(nil)

const cliSessionColumns = `id, state, confirmation_code, auth_code_hash, status, user_id,
	redirect_target, scopes, created_at, expires_at`

type CliSessionRepo struct {
	db *sql.DB
}

func (r *CliSessionRepo) Create(ctx context.Context, s *clisession.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cli_sessions (`+cliSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.State, s.ConfirmationCode, nullString(s.AuthCodeHash), string(s.Status),
		nullString(s.UserID), s.RedirectTarget, scope.Join(s.Scopes), s.CreatedAt, s.ExpiresAt)
	return classify("CliSessionRepo.Create", err)
}

func (r *CliSessionRepo) Get(ctx context.Context, id string) (*clisession.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cliSessionColumns+` FROM cli_sessions WHERE id = $1`, id)
	return scanCliSession("CliSessionRepo.Get", row)
}

func (r *CliSessionRepo) GetByAuthCodeHash(ctx context.Context, hash string) (*clisession.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cliSessionColumns+` FROM cli_sessions WHERE auth_code_hash = $1`, hash)
	return scanCliSession("CliSessionRepo.GetByAuthCodeHash", row)
}

func (r *CliSessionRepo) Transition(ctx context.Context, change clisession.StatusChange) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cli_sessions SET
			status = $3,
			user_id = COALESCE($4, user_id),
			auth_code_hash = COALESCE($5, auth_code_hash),
			expires_at = COALESCE($6, expires_at)
		WHERE id = $1 AND status = $2`,
		change.ID, string(change.From), string(change.To), nullString(change.UserID),
		nullString(change.AuthCodeHash), nullTime(change.ExpiresAt))
	return expectOne("CliSessionRepo.Transition", res, err)
}

func (r *CliSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cli_sessions WHERE expires_at < $1`, before)
	return affected("CliSessionRepo.DeleteExpired", res, err)
}

func scanCliSession(op string, row *sql.Row) (*clisession.Session, error) {
	var (
		s                    clisession.Session
		authCodeHash, userID sql.NullString
		status, scopes       string
	)
	err := row.Scan(&s.ID, &s.State, &s.ConfirmationCode, &authCodeHash, &status, &userID,
		&s.RedirectTarget, &scopes, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, classify(op, err)
	}
	s.AuthCodeHash = authCodeHash.String
	s.Status = clisession.Status(status)
	s.UserID = userID.String
	s.Scopes = parseScopes(scopes)
	return &s, nil
}
