// Package failover provides an ordered endpoint rotor shared by the swap
// router and ledger RPC clients. The rotor is sticky: it stays on the last
// endpoint that worked until that endpoint fails with a transport-class
// error, then advances to the next fallback.
package failover

import (
	"errors"
	"sync"
)

// ErrNoEndpoints is returned when a rotor is created without endpoints.
var ErrNoEndpoints = errors.New("no endpoints configured")

// Rotor cycles through an ordered endpoint list. Safe for concurrent use by
// every strategy's evaluation task.
type Rotor struct {
	mu        sync.Mutex
	endpoints []string
	current   int
	switches  uint64
	onSwitch  func()
}

// NewRotor creates a rotor over endpoints, primary first.
func NewRotor(endpoints []string) (*Rotor, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	cp := make([]string, len(endpoints))
	copy(cp, endpoints)
	return &Rotor{endpoints: cp}, nil
}

// Current returns the endpoint calls should use now.
func (r *Rotor) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints[r.current]
}

// Advance rotates to the next endpoint, but only if failed is still the
// current one. Concurrent callers that observed the same failure therefore
// rotate once, not once each.
func (r *Rotor) Advance(failed string) string {
	r.mu.Lock()
	var fired func()
	if r.endpoints[r.current] == failed && len(r.endpoints) > 1 {
		r.current = (r.current + 1) % len(r.endpoints)
		r.switches++
		fired = r.onSwitch
	}
	next := r.endpoints[r.current]
	r.mu.Unlock()
	if fired != nil {
		fired()
	}
	return next
}

// SetOnSwitch installs a hook invoked once per actual rotation, outside the
// rotor's lock. Set during wiring, before concurrent use.
func (r *Rotor) SetOnSwitch(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSwitch = fn
}

// Len returns the number of configured endpoints.
func (r *Rotor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}

// Switches returns how many times the rotor has advanced.
func (r *Rotor) Switches() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.switches
}
