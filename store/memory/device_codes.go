package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jrsteele09/skills-auth/device"
	autherrors "github.com/jrsteele09/skills-auth/internal/errors"
)

var _ device.Repo = (*DeviceCodeRepo)(nil)

type DeviceCodeRepo struct {
	codes map[string]*device.DeviceCode
	mu    sync.RWMutex
}

func NewDeviceCodeRepo() *DeviceCodeRepo {
	return &DeviceCodeRepo{codes: make(map[string]*device.DeviceCode)}
}

func (r *DeviceCodeRepo) Create(_ context.Context, dc *device.DeviceCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.codes {
		if existing.DeviceCodeHash == dc.DeviceCodeHash {
			return autherrors.Wrapf(autherrors.ErrDuplicate, "device code hash")
		}
		if existing.Status == device.StatusPending && existing.UserCode == dc.UserCode {
			return autherrors.Wrapf(autherrors.ErrDuplicate, "pending user code %s", dc.UserCode)
		}
	}
	r.codes[dc.ID] = copyDeviceCode(dc)
	return nil
}

func (r *DeviceCodeRepo) GetByDeviceCodeHash(_ context.Context, hash string) (*device.DeviceCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dc := range r.codes {
		if dc.DeviceCodeHash == hash {
			return copyDeviceCode(dc), nil
		}
	}
	return nil, autherrors.Wrapf(autherrors.ErrNotFound, "device code")
}

func (r *DeviceCodeRepo) GetPendingByUserCode(_ context.Context, userCode string) (*device.DeviceCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dc := range r.codes {
		if dc.Status == device.StatusPending && dc.UserCode == userCode {
			return copyDeviceCode(dc), nil
		}
	}
	return nil, autherrors.Wrapf(autherrors.ErrNotFound, "pending user code %s", userCode)
}

func (r *DeviceCodeRepo) Transition(_ context.Context, id string, from, to device.Status, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc, ok := r.codes[id]
	if !ok {
		return autherrors.Wrapf(autherrors.ErrNotFound, "device code %s", id)
	}
	if dc.Status != from {
		return autherrors.Wrapf(autherrors.ErrConflict, "device code %s is %s", id, dc.Status)
	}
	dc.Status = to
	if userID != "" {
		dc.UserID = userID
	}
	return nil
}

func (r *DeviceCodeRepo) TouchPoll(_ context.Context, id string, prev *time.Time, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc, ok := r.codes[id]
	if !ok {
		return autherrors.Wrapf(autherrors.ErrNotFound, "device code %s", id)
	}
	if dc.Status != device.StatusPending || !sameTime(dc.LastPolledAt, prev) {
		return autherrors.Wrapf(autherrors.ErrConflict, "device code %s poll", id)
	}
	dc.LastPolledAt = &at
	return nil
}

func (r *DeviceCodeRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, dc := range r.codes {
		if dc.ExpiresAt.Before(before) {
			delete(r.codes, id)
			n++
		}
	}
	return n, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func copyDeviceCode(dc *device.DeviceCode) *device.DeviceCode {
	c := *dc
	c.Scopes = slices.Clone(dc.Scopes)
	c.LastPolledAt = clonePtr(dc.LastPolledAt)
	return &c
}
