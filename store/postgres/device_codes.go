package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jrsteele09/skills-auth/device"
	"github.com/jrsteele09/skills-auth/scope"
	"github.com/pkg/errors"
)

var _ device.Repo = (*DeviceCodeRepo)(nil)

const deviceCodeColumns = `id, device_code_hash, user_code, status, user_id, scopes, client_info,
	created_at, expires_at, last_polled_at, interval_seconds`

type DeviceCodeRepo struct {
	db *sql.DB
}

func (r *DeviceCodeRepo) Create(ctx context.Context, dc *device.DeviceCode) error {
	clientInfo, err := json.Marshal(dc.ClientInfo)
	if err != nil {
		return errors.Wrap(err, "DeviceCodeRepo.Create marshal client info")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_codes (`+deviceCodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11)`,
		dc.ID, dc.DeviceCodeHash, dc.UserCode, string(dc.Status), nullString(dc.UserID),
		scope.Join(dc.Scopes), string(clientInfo), dc.CreatedAt, dc.ExpiresAt,
		ptrToNull(dc.LastPolledAt), int(dc.Interval.Seconds()))
	return classify("DeviceCodeRepo.Create", err)
}

func (r *DeviceCodeRepo) GetByDeviceCodeHash(ctx context.Context, hash string) (*device.DeviceCode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceCodeColumns+` FROM device_codes WHERE device_code_hash = $1`, hash)
	return scanDeviceCode("DeviceCodeRepo.GetByDeviceCodeHash", row)
}

func (r *DeviceCodeRepo) GetPendingByUserCode(ctx context.Context, userCode string) (*device.DeviceCode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceCodeColumns+` FROM device_codes WHERE user_code = $1 AND status = 'pending'`, userCode)
	return scanDeviceCode("DeviceCodeRepo.GetPendingByUserCode", row)
}

func (r *DeviceCodeRepo) Transition(ctx context.Context, id string, from, to device.Status, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_codes SET status = $3, user_id = COALESCE($4, user_id)
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), nullString(userID))
	return expectOne("DeviceCodeRepo.Transition", res, err)
}

func (r *DeviceCodeRepo) TouchPoll(ctx context.Context, id string, prev *time.Time, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_codes SET last_polled_at = $3
		WHERE id = $1 AND status = 'pending' AND last_polled_at IS NOT DISTINCT FROM $2`,
		id, ptrToNull(prev), at)
	return expectOne("DeviceCodeRepo.TouchPoll", res, err)
}

func (r *DeviceCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM device_codes WHERE expires_at < $1`, before)
	return affected("DeviceCodeRepo.DeleteExpired", res, err)
}

func scanDeviceCode(op string, row *sql.Row) (*device.DeviceCode, error) {
	var (
		dc              device.DeviceCode
		status, scopes  string
		userID          sql.NullString
		clientInfo      []byte
		lastPolledAt    sql.NullTime
		intervalSeconds int
	)
	err := row.Scan(&dc.ID, &dc.DeviceCodeHash, &dc.UserCode, &status, &userID, &scopes, &clientInfo,
		&dc.CreatedAt, &dc.ExpiresAt, &lastPolledAt, &intervalSeconds)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(clientInfo) > 0 {
		if err := json.Unmarshal(clientInfo, &dc.ClientInfo); err != nil {
			return nil, errors.Wrapf(err, "%s client info", op)
		}
	}
	dc.Status = device.Status(status)
	dc.UserID = userID.String
	dc.Scopes = parseScopes(scopes)
	dc.LastPolledAt = timePtr(lastPolledAt)
	dc.Interval = time.Duration(intervalSeconds) * time.Second
	return &dc, nil
}
