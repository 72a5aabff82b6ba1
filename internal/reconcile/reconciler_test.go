// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package reconcile

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// seqSource returns scripted results per call, repeating the last one.
type seqSource struct {
	mu      sync.Mutex
	results []func() (models.StoreSnapshot, error)
	calls   int
}

func (s *seqSource) FetchSnapshot(ctx context.Context, orgID string, now time.Time) (models.StoreSnapshot, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	fn := s.results[idx]
	s.mu.Unlock()
	return fn()
}

func (s *seqSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func snapResult(snap models.StoreSnapshot) func() (models.StoreSnapshot, error) {
	return func() (models.StoreSnapshot, error) { return snap, nil }
}

func errResult() func() (models.StoreSnapshot, error) {
	return func() (models.StoreSnapshot, error) {
		return models.StoreSnapshot{}, errors.New("store down")
	}
}

func reconcileEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		VisitorWindow:     5 * time.Minute,
		CartWindow:        15 * time.Minute,
		CheckoutWindow:    10 * time.Minute,
		PurchasedTTL:      15 * time.Minute,
		SweepInterval:     time.Hour,
		PublishInterval:   10 * time.Millisecond,
		ReconcileInterval: 15 * time.Millisecond,
		ActivityFeedSize:  30,
		SubscriberBuffer:  8,
		InboxSize:         64,
		Timezone:          "Europe/London",
		CurrencySymbol:    "£",
	}
}

func startReconcileActor(t *testing.T) (*aggregator.Actor, context.Context) {
	t.Helper()
	loc, _ := time.LoadLocation("Europe/London")
	actor := aggregator.NewActor("org-1", reconcileEngineConfig(), loc)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = actor.Run(ctx) }()
	t.Cleanup(cancel)
	return actor, ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconcilerMergesInitialSnapshot(t *testing.T) {
	actor, ctx := startReconcileActor(t)
	src := &seqSource{results: []func() (models.StoreSnapshot, error){
		snapResult(models.StoreSnapshot{
			FunnelToday: models.FunnelCounts{Landing: 12, Purchase: 3},
			TodayTotals: models.DayTotals{Revenue: 480, Orders: 3, TicketsIssued: 7},
			RecentActivity: []models.ActivityItem{
				{ID: "a1", Kind: models.KindPurchase, Title: "Purchased Tee", Timestamp: time.Now()},
			},
			FetchedAt: time.Now(),
		}),
	}}

	rec := NewReconciler(src, reconcileEngineConfig())
	go func() { _ = rec.RunTenant(ctx, actor) }()

	waitFor(t, "initial merge", func() bool {
		snap, err := actor.CurrentSnapshot(ctx)
		return err == nil && snap.Today.Landing == 12 && snap.TodayTotals.Orders == 3 && len(snap.Activity) == 1
	})
}

func TestReconcilerSurvivesStoreFailures(t *testing.T) {
	actor, ctx := startReconcileActor(t)

	// First two fetches fail; the third succeeds and backfills.
	src := &seqSource{results: []func() (models.StoreSnapshot, error){
		errResult(),
		errResult(),
		snapResult(models.StoreSnapshot{
			FunnelToday: models.FunnelCounts{Landing: 5},
			RecentActivity: []models.ActivityItem{
				{ID: "a1", Kind: models.KindLanding, Title: "New visitor landed", Timestamp: time.Now()},
			},
			FetchedAt: time.Now(),
		}),
	}}

	rec := NewReconciler(src, reconcileEngineConfig())
	go func() { _ = rec.RunTenant(ctx, actor) }()

	waitFor(t, "merge after failures", func() bool {
		snap, err := actor.CurrentSnapshot(ctx)
		return err == nil && snap.Today.Landing == 5
	})

	// The activity backfill still happened even though the first
	// successful fetch was not the first attempt.
	snap, err := actor.CurrentSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Activity) != 1 {
		t.Errorf("activity len = %d, want 1 (backfill on first success)", len(snap.Activity))
	}
}

func TestReconcilerNeverRegressesLiveCounters(t *testing.T) {
	actor, ctx := startReconcileActor(t)

	// Live state is ahead of the store.
	for i := 0; i < 4; i++ {
		ev := models.RawEvent{
			Kind:      models.KindLanding,
			SessionID: "s" + string(rune('a'+i)),
			OrgID:     "org-1",
			Timestamp: time.Now(),
		}
		if err := actor.Submit(ctx, ev); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	src := &seqSource{results: []func() (models.StoreSnapshot, error){
		snapResult(models.StoreSnapshot{
			FunnelToday: models.FunnelCounts{Landing: 2},
			FetchedAt:   time.Now(),
		}),
	}}
	rec := NewReconciler(src, reconcileEngineConfig())
	go func() { _ = rec.RunTenant(ctx, actor) }()

	waitFor(t, "a few reconcile rounds", func() bool { return src.callCount() >= 3 })

	snap, err := actor.CurrentSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Today.Landing != 4 {
		t.Errorf("Landing = %d, want 4 (stale store must not regress)", snap.Today.Landing)
	}
}

func TestReconcilerStopsWithContext(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/London")
	actor := aggregator.NewActor("org-1", reconcileEngineConfig(), loc)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = actor.Run(ctx) }()

	src := &seqSource{results: []func() (models.StoreSnapshot, error){
		snapResult(models.StoreSnapshot{FetchedAt: time.Now()}),
	}}
	rec := NewReconciler(src, reconcileEngineConfig())

	done := make(chan error, 1)
	go func() { done <- rec.RunTenant(ctx, actor) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) && !errors.Is(err, aggregator.ErrActorStopped) {
			t.Errorf("RunTenant returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop with context")
	}
}
