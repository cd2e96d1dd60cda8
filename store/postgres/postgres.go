// Package postgres stores the authorization core in PostgreSQL through the pgx
// database/sql driver. One time transitions are single conditional UPDATEs whose
// affected row count decides the winner.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/jrsteele09/skills-auth/store"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02" // malformed uuid key
)

type Store struct {
	db *sql.DB
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres.Open")
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, autherrors.Unavailable("postgres.Open ping", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates tables and indexes that do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return autherrors.Unavailable("postgres.Migrate", err)
	}
	return nil
}

func (s *Store) Repos() store.Repos {
	return store.Repos{
		DeviceCodes:   &DeviceCodeRepo{db: s.db},
		CliSessions:   &CliSessionRepo{db: s.db},
		APITokens:     &APITokenRepo{db: s.db},
		RefreshTokens: &RefreshTokenRepo{db: s.db},
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// classify maps driver errors onto the core taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return autherrors.Wrapf(autherrors.ErrNotFound, "%s", op)
	}
	var pgErr *pgconn.PgError
	if autherrors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return autherrors.Wrapf(autherrors.ErrDuplicate, "%s %s", op, pgErr.ConstraintName)
		case invalidTextRepresentation:
			return autherrors.Wrapf(autherrors.ErrNotFound, "%s malformed key", op)
		}
	}
	return autherrors.Unavailable(op, err)
}

// expectOne turns a zero row conditional update into ErrConflict.
func expectOne(op string, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return autherrors.Unavailable(op, err)
	}
	if n == 0 {
		return autherrors.Wrapf(autherrors.ErrConflict, "%s", op)
	}
	return nil
}

func affected(op string, res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, autherrors.Unavailable(op, err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func ptrToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Scopes are stored space separated; unknown names are dropped on read.
func parseScopes(raw string) []scope.Scope {
	fields := strings.Fields(raw)
	scopes := make([]scope.Scope, len(fields))
	for i, f := range fields {
		scopes[i] = scope.Scope(f)
	}
	return scope.Normalize(scopes)
}
