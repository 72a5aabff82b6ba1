// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/metrics"
	"github.com/ticketpulse/ticketpulse/internal/models"
)

// TenantRunner is a per-tenant background task started alongside an actor
// and canceled with it. The change-feed ingestor and the reconciler both
// implement it.
type TenantRunner interface {
	RunTenant(ctx context.Context, actor *Actor) error
}

// Registry manages tenant actor lifecycles: actors are created on first
// interest in an org, and torn down (with their runners, timers, and feed
// subscriptions) after the last subscriber disconnects and the grace
// period passes with no new interest.
type Registry struct {
	cfg     *config.Config
	loc     *time.Location
	runners []TenantRunner

	mu      sync.Mutex
	tenants map[string]*tenant
	ctx     context.Context // set by Run; parent of every tenant context
	started bool
	closed  bool
}

type tenant struct {
	actor  *Actor
	cancel context.CancelFunc
	refs   int
	grace  *time.Timer
}

// NewRegistry creates a registry. Runners are started once per tenant,
// each on its own goroutine, under the tenant's context.
func NewRegistry(cfg *config.Config, runners ...TenantRunner) *Registry {
	return &Registry{
		cfg:     cfg,
		loc:     cfg.Location(),
		runners: runners,
		tenants: make(map[string]*tenant),
	}
}

// Run serves the registry until the context is canceled, then tears down
// every tenant.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.started = true
	r.closed = false
	r.mu.Unlock()

	logging.Info().Msg("tenant registry started")
	<-ctx.Done()

	r.mu.Lock()
	r.closed = true
	for org, t := range r.tenants {
		if t.grace != nil {
			t.grace.Stop()
		}
		t.cancel()
		delete(r.tenants, org)
	}
	r.mu.Unlock()

	metrics.ActiveTenants.Set(0)
	logging.Info().Msg("tenant registry stopped")
	return ctx.Err()
}

// Subscribe returns a snapshot stream for the org, creating its actor and
// background tasks if needed. The handle's first value is the current
// snapshot, delivered synchronously. Invalid org ids are rejected here,
// the engine's only hard failure.
func (r *Registry) Subscribe(ctx context.Context, orgID string) (*Subscription, error) {
	if !validOrgID(orgID) {
		return nil, ErrInvalidOrg
	}

	t, err := r.acquire(orgID)
	if err != nil {
		return nil, err
	}

	sub, err := t.actor.Subscribe(ctx, r.cfg.Engine.SubscriberBuffer)
	if err != nil {
		r.release(orgID)
		return nil, err
	}
	sub.onClose = func() { r.release(orgID) }
	return sub, nil
}

// CurrentSnapshot serves one-shot polling consumers. It creates the
// actor on demand like Subscribe, but holds no reference: the tenant is
// reaped after the grace period unless streaming interest arrives.
func (r *Registry) CurrentSnapshot(ctx context.Context, orgID string) (models.DashboardSnapshot, error) {
	if !validOrgID(orgID) {
		return models.DashboardSnapshot{}, ErrInvalidOrg
	}

	t, err := r.acquire(orgID)
	if err != nil {
		return models.DashboardSnapshot{}, err
	}
	defer r.release(orgID)

	return t.actor.CurrentSnapshot(ctx)
}

// acquire returns the org's tenant, creating it if absent, and takes a
// reference that must be released.
func (r *Registry) acquire(orgID string) (*tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.closed {
		return nil, ErrRegistryClosed
	}

	t, ok := r.tenants[orgID]
	if !ok {
		tctx, cancel := context.WithCancel(r.ctx)
		actor := NewActor(orgID, r.cfg.Engine, r.loc)
		t = &tenant{actor: actor, cancel: cancel}
		r.tenants[orgID] = t
		metrics.ActiveTenants.Set(float64(len(r.tenants)))

		go func() {
			if err := actor.Run(tctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Err(err).Str("org", orgID).Msg("tenant aggregator exited")
			}
		}()
		for _, runner := range r.runners {
			go func(run TenantRunner) {
				if err := run.RunTenant(tctx, actor); err != nil && !errors.Is(err, context.Canceled) {
					logging.Err(err).Str("org", orgID).Msg("tenant runner exited")
				}
			}(runner)
		}

		logging.Info().Str("org", orgID).Msg("tenant created")
	}

	if t.grace != nil {
		t.grace.Stop()
		t.grace = nil
	}
	t.refs++
	return t, nil
}

// release drops a reference; the last one arms the grace timer.
func (r *Registry) release(orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[orgID]
	if !ok {
		return
	}
	t.refs--
	if t.refs > 0 || r.closed {
		return
	}

	grace := r.cfg.Engine.TenantGrace
	t.grace = time.AfterFunc(grace, func() { r.reap(orgID) })
}

// reap tears a tenant down if it is still unreferenced.
func (r *Registry) reap(orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[orgID]
	if !ok || t.refs > 0 {
		return
	}
	t.cancel()
	delete(r.tenants, orgID)
	metrics.ActiveTenants.Set(float64(len(r.tenants)))
	logging.Info().Str("org", orgID).Msg("tenant reaped after grace period")
}

// TenantCount returns the number of live tenants. Used by tests and the
// health endpoint.
func (r *Registry) TenantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants)
}

// String implements fmt.Stringer for supervisor logging.
func (r *Registry) String() string { return "tenant-registry" }

// validOrgID accepts non-empty ids of at most 64 chars drawn from
// [a-zA-Z0-9_-], matching what the ticketing platform issues.
func validOrgID(orgID string) bool {
	if orgID == "" || len(orgID) > 64 {
		return false
	}
	for _, c := range orgID {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
