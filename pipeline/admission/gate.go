/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package admission bounds how many agent executions run at once. It is a
// counting gate, not a queue: rejected requests are not held, they rely on
// the webhook transport's own redelivery.
package admission

import "sync"

// Gate limits concurrent heavy executions to a fixed number of slots.
type Gate struct {
	mu     sync.Mutex
	active int
	limit  int
}

// NewGate constructs a Gate with the given slot limit. A limit below one is
// treated as one.
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{limit: limit}
}

// TryAdmit claims a slot if one is free. Callers that are admitted must call
// Release exactly once; rejected callers must not.
func (g *Gate) TryAdmit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active >= g.limit {
		return false
	}
	g.active++
	return true
}

// Release returns a previously admitted slot. The counter never goes below
// zero, even if Release is called without a matching TryAdmit.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

// Active returns the number of executions currently holding a slot.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Limit returns the configured slot limit.
func (g *Gate) Limit() int {
	return g.limit
}
