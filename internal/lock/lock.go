// Package lock serialises change activity per device. Exactly one change may
// own a device at a time; everything else fails fast instead of queueing.
package lock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeviceBusy is returned when another change already holds the device.
var ErrDeviceBusy = errors.New("device busy")

// Info describes the current holder of a device lock.
type Info struct {
	ChangeID  string    `json:"change_id"`
	Actor     string    `json:"actor,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Held      bool      `json:"held"`
	ExpiresAt time.Time `json:"expires_at"`
}

type entry struct {
	changeID string
	actor    string
	reason   string
	// held marks a lock pinned for manual intervention; the TTL sweep
	// leaves held locks alone.
	held    bool
	expires time.Time
}

// Manager is the in-process device lock table.
type Manager struct {
	mu    sync.Mutex
	ttl   time.Duration
	locks map[string]*entry

	// now is swappable for tests.
	now func() time.Time
}

func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		ttl:   ttl,
		locks: make(map[string]*entry),
		now:   time.Now,
	}
}

// Acquire takes the device lock for a change. Re-acquiring with the same
// change ID refreshes the TTL; any other holder yields ErrDeviceBusy.
func (m *Manager) Acquire(deviceID, changeID, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.locks[deviceID]; ok && (e.held || e.expires.After(now)) {
		if e.changeID == changeID {
			e.expires = now.Add(m.ttl)
			return nil
		}
		return fmt.Errorf("%w: locked by change %s", ErrDeviceBusy, e.changeID)
	}

	m.locks[deviceID] = &entry{
		changeID: changeID,
		actor:    actor,
		expires:  now.Add(m.ttl),
	}
	return nil
}

// Release drops the lock if the change still owns it.
func (m *Manager) Release(deviceID, changeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.locks[deviceID]; ok && e.changeID == changeID {
		delete(m.locks, deviceID)
	}
}

// Hold pins the lock open for manual intervention. A held lock never expires
// and survives the sweep until an operator force-releases it.
func (m *Manager) Hold(deviceID, changeID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.locks[deviceID]; ok && e.changeID == changeID {
		e.held = true
		e.reason = reason
	}
}

// ForceRelease drops the lock regardless of holder. It reports whether a
// lock existed.
func (m *Manager) ForceRelease(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.locks[deviceID]; !ok {
		return false
	}
	delete(m.locks, deviceID)
	return true
}

// Holder returns the current lock info for a device.
func (m *Manager) Holder(deviceID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[deviceID]
	if !ok || (!e.held && !e.expires.After(m.now())) {
		return Info{}, false
	}
	return Info{
		ChangeID:  e.changeID,
		Actor:     e.actor,
		Reason:    e.reason,
		Held:      e.held,
		ExpiresAt: e.expires,
	}, true
}

// SweepExpired removes expired locks and returns how many were dropped.
// Held locks are skipped.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, e := range m.locks {
		if !e.held && !e.expires.After(now) {
			delete(m.locks, id)
			removed++
		}
	}
	return removed
}
