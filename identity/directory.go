package identity

import (
	"context"
	"sync"
	"time"
)

var (
	_ PermissionChecker = (*Directory)(nil)
	_ UserDirectory     = (*Directory)(nil)
)

type grant struct {
	perm      Permission
	expiresAt *time.Time
}

// Directory is an in-memory user and skill permission source for development
// and tests. Production deployments plug in the marketplace's own tables.
type Directory struct {
	users   map[string]struct{}
	owners  map[string]string           // skill id -> owner user id
	grants  map[string]map[string]grant // skill id -> user id -> grant
	nowFunc func() time.Time
	lock    sync.RWMutex
}

func NewDirectory() *Directory {
	return &Directory{
		users:   make(map[string]struct{}),
		owners:  make(map[string]string),
		grants:  make(map[string]map[string]grant),
		nowFunc: time.Now,
	}
}

func (d *Directory) AddUser(userID string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.users[userID] = struct{}{}
}

func (d *Directory) RemoveUser(userID string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.users, userID)
}

func (d *Directory) SetOwner(skillID, userID string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.owners[skillID] = userID
}

// Grant gives userID perm on skillID. A nil expiresAt never expires.
func (d *Directory) Grant(skillID, userID string, perm Permission, expiresAt *time.Time) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.grants[skillID] == nil {
		d.grants[skillID] = make(map[string]grant)
	}
	d.grants[skillID][userID] = grant{perm: perm, expiresAt: expiresAt}
}

func (d *Directory) Exists(_ context.Context, userID string) (bool, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	_, ok := d.users[userID]
	return ok, nil
}

func (d *Directory) IsOwner(_ context.Context, skillID, userID string) (bool, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	owner, ok := d.owners[skillID]
	return ok && owner == userID, nil
}

func (d *Directory) HasAccess(_ context.Context, skillID, userID string, perm Permission) (bool, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	g, ok := d.grants[skillID][userID]
	if !ok {
		return false, nil
	}
	if g.expiresAt != nil && !d.nowFunc().Before(*g.expiresAt) {
		return false, nil
	}
	// write implies read
	return g.perm == perm || g.perm == PermissionWrite, nil
}
