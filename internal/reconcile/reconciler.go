// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package reconcile periodically pulls authoritative aggregates from the
// store and merges them into live tenant state. The merge is monotonic:
// it can correct live counters upward after missed push events, but a
// stale snapshot never regresses what the push stream already delivered.
package reconcile

import (
	"context"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/metrics"
	"github.com/ticketpulse/ticketpulse/internal/store"
)

// Reconciler is a registry TenantRunner: one reconcile loop per live
// tenant.
type Reconciler struct {
	source store.SnapshotSource
	cfg    config.EngineConfig
}

// NewReconciler creates a reconciler over the given snapshot source.
func NewReconciler(source store.SnapshotSource, cfg config.EngineConfig) *Reconciler {
	return &Reconciler{source: source, cfg: cfg}
}

// RunTenant reconciles immediately (so a fresh actor starts from the
// authoritative picture rather than zero), then on every tick until the
// context is canceled. Fetch failures are logged and skipped; live state
// is never touched on error.
func (r *Reconciler) RunTenant(ctx context.Context, actor *aggregator.Actor) error {
	backfilled, err := r.reconcileOnce(ctx, actor, true)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ok, err := r.reconcileOnce(ctx, actor, !backfilled)
			if err != nil {
				return err
			}
			backfilled = backfilled || ok
		}
	}
}

// reconcileOnce runs a single fetch-and-merge cycle. The bool reports
// whether a snapshot was merged. Returns an error only when the actor or
// context is gone; store failures are absorbed.
func (r *Reconciler) reconcileOnce(ctx context.Context, actor *aggregator.Actor, backfillActivity bool) (bool, error) {
	orgID := actor.OrgID()
	start := time.Now()

	snap, err := r.source.FetchSnapshot(ctx, orgID, time.Now())
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		metrics.ReconcileRuns.WithLabelValues(orgID, "error").Inc()
		logging.Err(err).Str("org", orgID).Msg("snapshot reconcile failed, keeping live state")
		return false, nil
	}

	if err := actor.SubmitReconcile(ctx, snap, backfillActivity); err != nil {
		return false, err
	}

	metrics.ReconcileRuns.WithLabelValues(orgID, "ok").Inc()
	metrics.ReconcileDuration.WithLabelValues(orgID).Observe(time.Since(start).Seconds())
	return true, nil
}
