// Package estate tracks the synthesised lifecycle state of xRegistry
// entities: a per-path epoch counter and createdat/modifiedat timestamps.
//
// Entities here are projections of upstream state, so the usual "row
// version" bookkeeping is inverted: state is materialised lazily on first
// read and mutated only when the catalog engine observes an upstream change.
package estate

import (
	"hash/fnv"
	"sync"
	"time"
)

const stripes = 64

type entry struct {
	epoch    uint64
	created  time.Time
	modified time.Time
}

// Manager assigns stable epochs and timestamps to entity paths.
//
// All methods are safe for concurrent use. The zero value is not usable; use
// [New].
type Manager struct {
	clock func() time.Time
	mu    [stripes]sync.Mutex
	m     [stripes]map[string]*entry
}

// New returns a ready Manager.
func New() *Manager {
	return NewWithClock(time.Now)
}

// NewWithClock returns a Manager using the provided clock. Tests use this to
// pin timestamps.
func NewWithClock(clock func() time.Time) *Manager {
	m := &Manager{clock: clock}
	for i := range m.m {
		m.m[i] = make(map[string]*entry)
	}
	return m
}

func (m *Manager) stripe(p string) int {
	h := fnv.New32a()
	h.Write([]byte(p))
	return int(h.Sum32() % stripes)
}

// get returns the entry for p, materialising it at the current time if
// needed. Callers must hold the stripe lock.
func (m *Manager) get(p string, i int) *entry {
	e, ok := m.m[i][p]
	if !ok {
		now := m.clock()
		e = &entry{epoch: 1, created: now, modified: now}
		m.m[i][p] = e
	}
	return e
}

// now returns the current time, clamped so the modified timestamp for an
// entry never goes backwards.
func (e *entry) now(clock func() time.Time) time.Time {
	now := clock()
	if now.Before(e.modified) {
		return e.modified
	}
	return now
}

// Epoch returns the current epoch for p, materialising state on first read.
func (m *Manager) Epoch(p string) uint64 {
	i := m.stripe(p)
	m.mu[i].Lock()
	defer m.mu[i].Unlock()
	return m.get(p, i).epoch
}

// Increment bumps the epoch for p, advances its modified timestamp, and
// returns the new epoch.
func (m *Manager) Increment(p string) uint64 {
	i := m.stripe(p)
	m.mu[i].Lock()
	defer m.mu[i].Unlock()
	e := m.get(p, i)
	e.epoch++
	e.modified = e.now(m.clock)
	return e.epoch
}

// CreatedAt returns the immutable creation timestamp for p.
func (m *Manager) CreatedAt(p string) time.Time {
	i := m.stripe(p)
	m.mu[i].Lock()
	defer m.mu[i].Unlock()
	return m.get(p, i).created
}

// ModifiedAt returns the last-modified timestamp for p.
func (m *Manager) ModifiedAt(p string) time.Time {
	i := m.stripe(p)
	m.mu[i].Lock()
	defer m.mu[i].Unlock()
	return m.get(p, i).modified
}

// Touch advances the modified timestamp for p without changing its epoch.
func (m *Manager) Touch(p string) {
	i := m.stripe(p)
	m.mu[i].Lock()
	defer m.mu[i].Unlock()
	e := m.get(p, i)
	e.modified = e.now(m.clock)
}
