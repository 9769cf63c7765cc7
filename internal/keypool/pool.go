// Package keypool owns credential rotation: a single process-lifetime cursor
// shared by every selection call, manual per-key locks, and scope rules that
// decide which credentials a caller may rotate through.
package keypool

import (
	"sync"

	"transcriptor-pro/internal/config"
	"transcriptor-pro/internal/types"
)

// Scope identifies the caller of a selection. Agents rotate through their own
// keys only; the admin rotates through admin-owned keys, or through the
// explicitly marked test subset when one is active.
type Scope struct {
	Admin   bool
	AgentID string
}

// LockView exposes the persisted manual lock state for one key.
type LockView interface {
	Locked(key string) bool
}

// RosterSource provides immutable roster snapshots. The pool re-reads it on
// every call, so key lists may shrink or grow between selections.
type RosterSource interface {
	Snapshot() (config.Roster, error)
}

// KeyStatus describes one key for display.
type KeyStatus struct {
	Key      string `json:"key"`
	Owner    string `json:"owner"`
	VisualID int    `json:"id"`
	Locked   bool   `json:"locked"`
	Testing  bool   `json:"testing,omitempty"`
}

type entry struct {
	key   string
	owner string
}

// Pool selects credentials round-robin. The cursor grows without bound and is
// reduced modulo the current pool size only at use time, so the rotation
// tolerates the key list changing between calls.
type Pool struct {
	mu       sync.Mutex
	cursor   int
	source   RosterSource
	locks    LockView
	testKeys map[string]bool
}

func New(source RosterSource, locks LockView) *Pool {
	return &Pool{
		source:   source,
		locks:    locks,
		testKeys: make(map[string]bool),
	}
}

// master builds the scoped key list in roster insertion order. This is the
// "full key list" for the scope: admin narrowing to the admin-owned pool
// happens later and does not shrink this list.
func (p *Pool) master(scope Scope) ([]entry, error) {
	roster, err := p.source.Snapshot()
	if err != nil {
		return nil, err
	}

	var out []entry
	if scope.Admin {
		for _, a := range roster.Agents {
			for _, k := range a.KeyList() {
				out = append(out, entry{key: k, owner: a.Name})
			}
		}
		return out, nil
	}

	a, ok := roster.ByID(scope.AgentID)
	if !ok {
		return nil, nil
	}
	for _, k := range a.KeyList() {
		out = append(out, entry{key: k, owner: a.Name})
	}
	return out, nil
}

// candidates narrows the master list to the rotation pool. Filtering keeps
// master order, which is exactly the sort-by-master-index the rotation needs
// for a stable visual ordering.
func (p *Pool) candidates(scope Scope, master []entry) []entry {
	if !scope.Admin {
		return master
	}

	var testing []entry
	for _, e := range master {
		if p.testKeys[e.key] {
			testing = append(testing, e)
		}
	}
	if len(testing) > 0 {
		return testing
	}

	var own []entry
	for _, e := range master {
		if e.owner == config.AdminID {
			own = append(own, e)
		}
	}
	return own
}

// SelectNext returns the next unlocked credential for the scope, advancing
// the shared cursor past the chosen key. It returns nil when the pool is
// empty or every candidate is locked; the cursor does not move in that case.
// The scan and cursor advance run under one lock so concurrent callers never
// observe the same pre-advance cursor.
func (p *Pool) SelectNext(scope Scope) (*types.KeyAssignment, error) {
	master, err := p.master(scope)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pool := p.candidates(scope, master)
	if len(pool) == 0 {
		return nil, nil
	}

	offset := p.cursor % len(pool)
	for i := 0; i < len(pool); i++ {
		e := pool[(offset+i)%len(pool)]
		if p.locks.Locked(e.key) {
			continue
		}
		p.cursor = offset + i + 1
		return &types.KeyAssignment{
			Key:      e.key,
			VisualID: visualID(master, e),
			Owner:    e.owner,
		}, nil
	}
	return nil, nil
}

// visualID is the key's 1-based position among its owner's keys in the
// master list. Display only; never used for selection.
func visualID(master []entry, chosen entry) int {
	n := 0
	for _, e := range master {
		if e.owner != chosen.owner {
			continue
		}
		n++
		if e.key == chosen.key {
			return n
		}
	}
	return 0
}

// ListSize returns the size of the caller's full scoped key list. The retry
// controller derives its attempt cap from this, not from the narrowed pool.
func (p *Pool) ListSize(scope Scope) (int, error) {
	master, err := p.master(scope)
	if err != nil {
		return 0, err
	}
	return len(master), nil
}

// Keys reports every key visible to the scope with lock and test flags.
func (p *Pool) Keys(scope Scope) ([]KeyStatus, error) {
	master, err := p.master(scope)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]KeyStatus, 0, len(master))
	for _, e := range master {
		out = append(out, KeyStatus{
			Key:      e.key,
			Owner:    e.owner,
			VisualID: visualID(master, e),
			Locked:   p.locks.Locked(e.key),
			Testing:  p.testKeys[e.key],
		})
	}
	return out, nil
}

// ToggleTestKey flips a key in the admin test subset. A non-empty subset
// replaces the admin rotation pool. Process-lifetime state, reset on restart.
func (p *Pool) ToggleTestKey(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.testKeys[key] = !p.testKeys[key]
	if !p.testKeys[key] {
		delete(p.testKeys, key)
	}
	return p.testKeys[key]
}

// ClearTestKeys empties the admin test subset.
func (p *Pool) ClearTestKeys() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.testKeys = make(map[string]bool)
}
