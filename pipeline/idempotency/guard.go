/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package idempotency suppresses duplicate webhook deliveries. It layers a
// synchronous in-process reservation table (closes races between concurrent
// deliveries sharing an identifier) over a durable check against the comment
// thread (survives process restarts).
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
)

// MarkerFinder checks externally visible state for evidence that a delivery
// was already handled. Implemented by tracking.Tracker.
type MarkerFinder interface {
	HasDeliveryMarker(ctx context.Context, owner, repo string, number int, deliveryID string) (bool, error)
}

// Guard decides whether a delivery has already been claimed.
type Guard struct {
	finder    MarkerFinder
	retention time.Duration
	now       func() time.Time

	mu       sync.Mutex
	reserved map[string]time.Time
}

// NewGuard constructs a Guard. Reservations are swept once they are older
// than the retention window; within that window a reserved delivery
// identifier is skipped without any remote call.
func NewGuard(finder MarkerFinder, retention time.Duration) *Guard {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Guard{
		finder:    finder,
		retention: retention,
		now:       time.Now,
		reserved:  make(map[string]time.Time),
	}
}

// ShouldSkip reports whether the delivery has already been claimed, claiming
// it as a side effect when it has not. The reservation is inserted before
// the durable check runs, so two deliveries sharing an identifier cannot
// interleave between check and claim.
//
// A durable-check failure is propagated: defaulting to "proceed" would risk
// duplicate work, and defaulting to "skip" would starve every future retry.
// The reservation is dropped on that path so a later redelivery gets a fresh
// durable check.
func (g *Guard) ShouldSkip(ctx context.Context, owner, repo string, number int, deliveryID string) (bool, error) {
	log := clog.FromContext(ctx)

	g.mu.Lock()
	if _, ok := g.reserved[deliveryID]; ok {
		g.mu.Unlock()
		log.With("delivery", deliveryID).Info("Delivery already reserved in-process, skipping")
		return true, nil
	}
	g.reserved[deliveryID] = g.now()
	g.mu.Unlock()

	found, err := g.finder.HasDeliveryMarker(ctx, owner, repo, number, deliveryID)
	if err != nil {
		g.mu.Lock()
		delete(g.reserved, deliveryID)
		g.mu.Unlock()
		return false, fmt.Errorf("checking thread for delivery marker: %w", err)
	}
	if found {
		// The reservation stays in place: a redelivery within the retention
		// window is caught by the fast path without another remote call.
		log.With("delivery", deliveryID).Info("Delivery marker already present on thread, skipping")
		return true, nil
	}

	return false, nil
}

// StartSweeping removes expired reservations on a ticker until ctx is done.
func (g *Guard) StartSweeping(ctx context.Context) {
	interval := g.retention / 4
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sweepOnce(g.now())
			}
		}
	}()
}

func (g *Guard) sweepOnce(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, at := range g.reserved {
		if now.Sub(at) > g.retention {
			delete(g.reserved, id)
		}
	}
}

func (g *Guard) reservedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reserved)
}
