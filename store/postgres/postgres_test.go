package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jrsteele09/skills-auth/clisession"
	"github.com/jrsteele09/skills-auth/device"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/jrsteele09/skills-auth/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestStoreMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS device_codes").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceCodeRepoCreate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	dc := &device.DeviceCode{
		ID:             "0b5c6f4e-6c1f-4d0e-9b4e-1f0f7f3a9c11",
		DeviceCodeHash: "hash",
		UserCode:       "ABCD-EFGH",
		Status:         device.StatusPending,
		Scopes:         []scope.Scope{scope.Read},
		ClientInfo:     device.ClientInfo{OS: "linux"},
		CreatedAt:      now,
		ExpiresAt:      now.Add(device.DefaultExpiry),
		Interval:       device.DefaultInterval,
	}

	t.Run("inserts row", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO device_codes").
			WithArgs(dc.ID, "hash", "ABCD-EFGH", "pending", sqlmock.AnyArg(), "read", `{"os":"linux"}`,
				now, dc.ExpiresAt, sqlmock.AnyArg(), 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Repos().DeviceCodes.Create(ctx, dc))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending user code collision", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO device_codes").
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "device_codes_pending_user_code"})

		err := s.Repos().DeviceCodes.Create(ctx, dc)
		require.ErrorIs(t, err, autherrors.ErrDuplicate)
	})

	t.Run("connection failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO device_codes").WillReturnError(errors.New("connection reset"))

		err := s.Repos().DeviceCodes.Create(ctx, dc)
		require.ErrorIs(t, err, autherrors.ErrStorageUnavailable)
	})
}

func TestDeviceCodeRepoGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	columns := []string{"id", "device_code_hash", "user_code", "status", "user_id", "scopes", "client_info",
		"created_at", "expires_at", "last_polled_at", "interval_seconds"}

	t.Run("found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM device_codes WHERE device_code_hash = $1")).
			WithArgs("hash").
			WillReturnRows(sqlmock.NewRows(columns).AddRow(
				"id-1", "hash", "ABCD-EFGH", "approved", "user-1", "read write", []byte(`{"hostname":"box"}`),
				now, now.Add(time.Minute), now, 5))

		dc, err := s.Repos().DeviceCodes.GetByDeviceCodeHash(ctx, "hash")
		require.NoError(t, err)
		assert.Equal(t, device.StatusApproved, dc.Status)
		assert.Equal(t, "user-1", dc.UserID)
		assert.Equal(t, []scope.Scope{scope.Read, scope.Write}, dc.Scopes)
		assert.Equal(t, "box", dc.ClientInfo.Hostname)
		require.NotNil(t, dc.LastPolledAt)
		assert.Equal(t, 5*time.Second, dc.Interval)
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE user_code = $1 AND status = 'pending'")).
			WillReturnError(sql.ErrNoRows)

		_, err := s.Repos().DeviceCodes.GetPendingByUserCode(ctx, "ABCD-EFGH")
		require.ErrorIs(t, err, autherrors.ErrNotFound)
	})
}

func TestDeviceCodeRepoConditionalWrites(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("transition wins", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE device_codes SET status = $3")).
			WithArgs("id-1", "pending", "approved", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Repos().DeviceCodes.Transition(ctx, "id-1", device.StatusPending, device.StatusApproved, "user-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transition loses", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE device_codes SET status = $3")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.Repos().DeviceCodes.Transition(ctx, "id-1", device.StatusApproved, device.StatusConsumed, "")
		require.ErrorIs(t, err, autherrors.ErrConflict)
	})

	t.Run("touch poll compares previous timestamp", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("last_polled_at IS NOT DISTINCT FROM $2")).
			WithArgs("id-1", sqlmock.AnyArg(), now).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.Repos().DeviceCodes.TouchPoll(ctx, "id-1", nil, now)
		require.ErrorIs(t, err, autherrors.ErrConflict)
	})

	t.Run("delete expired", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM device_codes WHERE expires_at < $1")).
			WithArgs(now).
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := s.Repos().DeviceCodes.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}

func TestRefreshTokenRepo(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("mark used only once", func(t *testing.T) {
		s, mock := newMockStore(t)
		repo := s.Repos().RefreshTokens
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL")).
			WithArgs("rt-1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL")).
			WithArgs("rt-1", now).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, repo.MarkUsed(ctx, "rt-1", now))
		require.ErrorIs(t, repo.MarkUsed(ctx, "rt-1", now), autherrors.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get by hash", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash = $1")).
			WithArgs("hash").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "scopes", "created_at",
				"expires_at", "rotated_from", "used_at", "revoked_at"}).
				AddRow("rt-2", "user-1", "hash", "publish", now, now.Add(time.Hour), "rt-1", now, nil))

		rt, err := s.Repos().RefreshTokens.GetByHash(ctx, "hash")
		require.NoError(t, err)
		assert.Equal(t, "rt-1", rt.RotatedFrom)
		assert.True(t, rt.Used())
		assert.Nil(t, rt.RevokedAt)
		assert.Equal(t, []scope.Scope{scope.Publish}, rt.Scopes)
	})

	t.Run("revoke family", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at = $2")).
			WithArgs("user-1", now).
			WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := s.Repos().RefreshTokens.RevokeAllByUser(ctx, "user-1", now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestAPITokenRepoListByOwner(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "owner_user_id", "token_hash", "prefix", "name", "kind", "scopes",
		"created_at", "expires_at", "revoked_at"}).
		AddRow("t-1", "user-1", "h1", "skl_pat_abcd", "ci", "personal", "read", now, nil, nil).
		AddRow("t-2", "user-1", "h2", "skl_pat_efgh", "old", "personal", "read write", now.Add(-time.Hour), nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE owner_user_id = $1 AND kind = $2")).
		WithArgs("user-1", "personal").
		WillReturnRows(rows)

	tokens, err := s.Repos().APITokens.ListByOwner(ctx, "user-1", token.KindPersonal)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.True(t, tokens[0].Usable(now))
	assert.False(t, tokens[1].Usable(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCliSessionRepoTransition(t *testing.T) {
	s, mock := newMockStore(t)
	exp := time.Now().UTC().Add(time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("auth_code_hash = COALESCE($5, auth_code_hash)")).
		WithArgs("s-1", "pending", "approved", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Repos().CliSessions.Transition(context.Background(), clisession.StatusChange{
		ID:           "s-1",
		From:         clisession.StatusPending,
		To:           clisession.StatusApproved,
		UserID:       "user-1",
		AuthCodeHash: "code-hash",
		ExpiresAt:    exp,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMalformedIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	malformed := &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}

	t.Run("cli session get", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM cli_sessions WHERE id = $1")).
			WithArgs("abc").
			WillReturnError(malformed)

		_, err := s.Repos().CliSessions.Get(ctx, "abc")
		require.ErrorIs(t, err, autherrors.ErrNotFound)
		assert.False(t, autherrors.Is(err, autherrors.ErrStorageUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("api token revoke", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE api_tokens SET revoked_at = $2 WHERE id = $1")).
			WithArgs("abc", sqlmock.AnyArg()).
			WillReturnError(malformed)

		err := s.Repos().APITokens.Revoke(ctx, "abc", time.Now())
		require.ErrorIs(t, err, autherrors.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other driver errors stay unavailable", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM cli_sessions WHERE id = $1")).
			WithArgs("abc").
			WillReturnError(&pgconn.PgError{Code: "57P01"})

		_, err := s.Repos().CliSessions.Get(ctx, "abc")
		require.ErrorIs(t, err, autherrors.ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
