// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/activity"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/funnel"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/metrics"
	"github.com/ticketpulse/ticketpulse/internal/models"
	"github.com/ticketpulse/ticketpulse/internal/presence"
)

// message is the sealed set of inbox messages an actor processes.
type message interface{ isMessage() }

type eventMsg struct{ ev models.RawEvent }

type reconcileMsg struct {
	snap models.StoreSnapshot
	// backfillActivity is set on the first successful reconcile so the
	// feed starts populated; later reconciles never touch the feed, to
	// avoid flooding it once push events are flowing.
	backfillActivity bool
}

type degradedMsg struct{ degraded bool }

type subscribeMsg struct {
	sub   *Subscription
	reply chan struct{}
}

type unsubscribeMsg struct{ sub *Subscription }

type snapshotReq struct{ reply chan models.DashboardSnapshot }

func (eventMsg) isMessage()     {}
func (reconcileMsg) isMessage() {}
func (degradedMsg) isMessage()  {}
func (subscribeMsg) isMessage() {}
func (unsubscribeMsg) isMessage() {}
func (snapshotReq) isMessage()  {}

// Actor owns all live dashboard state for one org. All mutation happens
// on the Run goroutine; other goroutines reach it only through the inbox.
type Actor struct {
	orgID string
	cfg   config.EngineConfig
	inbox chan message
	clock func() time.Time

	// State below is touched only by the Run goroutine.
	tracker    *presence.Tracker
	book       *funnel.Book
	feed       *activity.Feed
	subs       map[*Subscription]struct{}
	degraded   bool
	dirty      bool
	backfilled bool

	// done is closed when Run returns, so late Close/Submit calls from
	// other goroutines cannot hang on a dead inbox.
	done chan struct{}
}

// NewActor creates an actor for the given org. The caller is responsible
// for running it (normally via the registry).
func NewActor(orgID string, cfg config.EngineConfig, loc *time.Location) *Actor {
	now := time.Now()
	return &Actor{
		orgID: orgID,
		cfg:   cfg,
		inbox: make(chan message, cfg.InboxSize),
		clock: time.Now,
		tracker: presence.NewTracker(presence.Windows{
			Visitor:      cfg.VisitorWindow,
			Cart:         cfg.CartWindow,
			Checkout:     cfg.CheckoutWindow,
			PurchasedTTL: cfg.PurchasedTTL,
		}),
		book: funnel.NewBook(loc, now),
		feed: activity.NewFeed(cfg.ActivityFeedSize),
		subs: make(map[*Subscription]struct{}),
		done: make(chan struct{}),
	}
}

// OrgID returns the tenant this actor aggregates for.
func (a *Actor) OrgID() string { return a.orgID }

// Submit queues a normalized event for processing. Blocks while the inbox
// is full, which backpressures the ingestor rather than dropping data.
func (a *Actor) Submit(ctx context.Context, ev models.RawEvent) error {
	select {
	case a.inbox <- eventMsg{ev: ev}:
		metrics.InboxDepth.WithLabelValues(a.orgID).Set(float64(len(a.inbox)))
		return nil
	case <-a.done:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitReconcile queues an authoritative snapshot for merging.
func (a *Actor) SubmitReconcile(ctx context.Context, snap models.StoreSnapshot, backfillActivity bool) error {
	select {
	case a.inbox <- reconcileMsg{snap: snap, backfillActivity: backfillActivity}:
		return nil
	case <-a.done:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetDegraded flags whether the change feed is currently disconnected.
func (a *Actor) SetDegraded(ctx context.Context, degraded bool) error {
	select {
	case a.inbox <- degradedMsg{degraded: degraded}:
		return nil
	case <-a.done:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber and synchronously delivers the current
// snapshot as its first value.
func (a *Actor) Subscribe(ctx context.Context, buffer int) (*Subscription, error) {
	sub := newSubscription(a, buffer)
	reply := make(chan struct{})
	select {
	case a.inbox <- subscribeMsg{sub: sub, reply: reply}:
	case <-a.done:
		return nil, ErrActorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-reply:
		return sub, nil
	case <-a.done:
		return nil, ErrActorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CurrentSnapshot computes a snapshot on the actor goroutine and returns it.
func (a *Actor) CurrentSnapshot(ctx context.Context) (models.DashboardSnapshot, error) {
	reply := make(chan models.DashboardSnapshot, 1)
	select {
	case a.inbox <- snapshotReq{reply: reply}:
	case <-a.done:
		return models.DashboardSnapshot{}, ErrActorStopped
	case <-ctx.Done():
		return models.DashboardSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-a.done:
		return models.DashboardSnapshot{}, ErrActorStopped
	case <-ctx.Done():
		return models.DashboardSnapshot{}, ctx.Err()
	}
}

// Run processes the inbox until the context is canceled. Mutations mark
// the state dirty; the publish ticker fans a snapshot out when it is.
// A slower sweep ticker bounds presence memory under low read traffic.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	publishTicker := time.NewTicker(a.cfg.PublishInterval)
	defer publishTicker.Stop()
	sweepTicker := time.NewTicker(a.cfg.SweepInterval)
	defer sweepTicker.Stop()

	logging.Info().Str("org", a.orgID).Msg("tenant aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.closeAllSubscribers()
			logging.Info().Str("org", a.orgID).Msg("tenant aggregator stopped")
			return ctx.Err()

		case msg := <-a.inbox:
			a.process(msg)
			metrics.InboxDepth.WithLabelValues(a.orgID).Set(float64(len(a.inbox)))

		case <-publishTicker.C:
			if a.dirty {
				a.publish(a.clock())
			}

		case <-sweepTicker.C:
			if removed := a.tracker.Sweep(a.clock()); removed > 0 {
				logging.Debug().Str("org", a.orgID).Int("removed", removed).Msg("presence sweep")
			}
		}
	}
}

// process dispatches one inbox message. Runs only on the Run goroutine.
func (a *Actor) process(msg message) {
	switch m := msg.(type) {
	case eventMsg:
		a.apply(m.ev)
	case reconcileMsg:
		a.applyReconcile(m.snap, m.backfillActivity)
	case degradedMsg:
		if a.degraded != m.degraded {
			a.degraded = m.degraded
			a.dirty = true
		}
	case subscribeMsg:
		a.subs[m.sub] = struct{}{}
		metrics.Subscribers.WithLabelValues(a.orgID).Set(float64(len(a.subs)))
		// First value: the current snapshot, delivered before any
		// published one can race ahead of it.
		m.sub.deliver(a.buildSnapshot(a.clock()))
		close(m.reply)
	case unsubscribeMsg:
		if _, ok := a.subs[m.sub]; ok {
			delete(a.subs, m.sub)
			close(m.sub.ch)
			metrics.Subscribers.WithLabelValues(a.orgID).Set(float64(len(a.subs)))
		}
	case snapshotReq:
		m.reply <- a.buildSnapshot(a.clock())
	}
}

// apply routes one normalized event into the tracker, book, and feed.
func (a *Actor) apply(ev models.RawEvent) {
	metrics.EventsIngested.WithLabelValues(a.orgID, string(ev.Kind)).Inc()

	switch ev.Kind {
	case models.KindOrderCompleted:
		if ev.Payload != nil {
			a.book.AddOrder(ev.Payload.OrderTotal, ev.Timestamp)
			if ev.Payload.TicketCount > 0 {
				a.book.AddTickets(ev.Payload.TicketCount, ev.Timestamp)
			}
		}
	case models.KindTicketIssued:
		n := 1
		if ev.Payload != nil && ev.Payload.TicketCount > 0 {
			n = ev.Payload.TicketCount
		}
		a.book.AddTickets(n, ev.Timestamp)
	default:
		if stage, ok := models.StageForKind(ev.Kind); ok {
			a.book.Increment(stage, ev.Timestamp)
		}
		if cat, ok := models.CategoryForKind(ev.Kind); ok {
			a.tracker.Record(ev.SessionID, cat, ev.Timestamp)
			// Any category activity also counts as visitor activity.
			if cat != models.CategoryVisitor {
				a.tracker.Record(ev.SessionID, models.CategoryVisitor, ev.Timestamp)
			}
		}
		if ev.Kind == models.KindPurchase {
			a.tracker.MarkPurchased(ev.SessionID, ev.Timestamp)
		}
		if ev.Kind == models.KindCustom && ev.Payload != nil {
			a.book.RecordEventName(ev.Payload.EventName, ev.Timestamp)
		}
	}

	if item, ok := activity.Describe(ev, a.cfg.CurrencySymbol); ok {
		a.feed.Push(item)
	}
	a.dirty = true
}

// applyReconcile merges an authoritative snapshot into live state.
// Counters take max(live, snapshot); presence is union-merged through
// Record, whose max semantics keep freshness monotonic; the feed is only
// backfilled once, at startup.
func (a *Actor) applyReconcile(snap models.StoreSnapshot, backfillActivity bool) {
	at := snap.FetchedAt
	if at.IsZero() {
		at = a.clock()
	}

	a.book.MergeCounts(snap.FunnelToday, snap.FunnelYesterday, at)
	a.book.MergeTotals(snap.TodayTotals, snap.YesterdayTotals, at)
	a.book.MergeTopEvents(snap.TopEvents, at)

	for cat, sessions := range snap.ActiveSessions {
		for _, s := range sessions {
			a.tracker.Record(s.SessionID, cat, s.LastSeen)
		}
	}

	if backfillActivity && !a.backfilled {
		for _, item := range snap.RecentActivity {
			a.feed.Push(item)
		}
		a.backfilled = true
	}

	a.dirty = true
}

// buildSnapshot derives an immutable view of the current state.
func (a *Actor) buildSnapshot(now time.Time) models.DashboardSnapshot {
	today, yesterday, todayTotals, yesterdayTotals := a.book.Snapshot(now)

	return models.DashboardSnapshot{
		OrgID:           a.orgID,
		GeneratedAt:     now,
		ActiveVisitors:  a.tracker.ActiveCount(models.CategoryVisitor, now),
		ActiveCarts:     a.tracker.ActiveCount(models.CategoryCart, now),
		InCheckout:      a.tracker.ActiveCount(models.CategoryCheckout, now),
		Today:           today,
		Yesterday:       yesterday,
		TodayTotals:     todayTotals,
		YesterdayTotals: yesterdayTotals,
		TopEvents:       a.book.TopEvents(5),
		Activity:        a.feed.Items(),
		Degraded:        a.degraded,
	}
}

// publish fans the current snapshot out to every subscriber. Best-effort:
// deliver never blocks the actor.
func (a *Actor) publish(now time.Time) {
	snap := a.buildSnapshot(now)
	for sub := range a.subs {
		sub.deliver(snap)
	}
	a.dirty = false
	metrics.SnapshotsPublished.WithLabelValues(a.orgID).Inc()
}

func (a *Actor) closeAllSubscribers() {
	for sub := range a.subs {
		delete(a.subs, sub)
		close(sub.ch)
	}
	metrics.Subscribers.WithLabelValues(a.orgID).Set(0)
}

// String implements fmt.Stringer for supervisor logging.
func (a *Actor) String() string {
	return fmt.Sprintf("aggregator-%s", a.orgID)
}
