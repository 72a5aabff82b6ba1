// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package changefeed

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// fakeFeed hands out scripted subscription channels, failing the first
// failSubscribes attempts.
type fakeFeed struct {
	mu             sync.Mutex
	failSubscribes int
	subscribes     int
	current        chan *message.Message
}

func (f *fakeFeed) Subscribe(ctx context.Context, orgID string) (<-chan *message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribes <= f.failSubscribes {
		return nil, context.DeadlineExceeded
	}
	f.current = make(chan *message.Message, 16)
	return f.current, nil
}

func (f *fakeFeed) push(t *testing.T, payload string) {
	t.Helper()
	f.mu.Lock()
	ch := f.current
	f.mu.Unlock()
	if ch == nil {
		t.Fatal("push before subscribe")
	}
	ch <- message.NewMessage("test", []byte(payload))
}

func (f *fakeFeed) closeCurrent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		close(f.current)
		f.current = nil
	}
}

func (f *fakeFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func ingestorEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		VisitorWindow:    5 * time.Minute,
		CartWindow:       15 * time.Minute,
		CheckoutWindow:   10 * time.Minute,
		PurchasedTTL:     15 * time.Minute,
		SweepInterval:    time.Hour,
		PublishInterval:  10 * time.Millisecond,
		FeedBackoffMin:   5 * time.Millisecond,
		FeedBackoffMax:   20 * time.Millisecond,
		ActivityFeedSize: 30,
		SubscriberBuffer: 8,
		InboxSize:        64,
		Timezone:         "Europe/London",
		CurrencySymbol:   "£",
	}
}

func startIngestorActor(t *testing.T) (*aggregator.Actor, context.Context) {
	t.Helper()
	loc, _ := time.LoadLocation("Europe/London")
	actor := aggregator.NewActor("org-1", ingestorEngineConfig(), loc)
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

func TestIngestorDeliversRows(t *testing.T) {
	actor, ctx := startIngestorActor(t)
	feed := &fakeFeed{}
	ing := NewIngestor(feed, ingestorEngineConfig())
	go func() { _ = ing.RunTenant(ctx, actor) }()

	waitFor(t, "subscribe", func() bool { return feed.subscribeCount() >= 1 })

	feed.push(t, `{
		"table": "traffic_events",
		"org_id": "org-1",
		"kind": "landing",
		"session_id": "s1",
		"occurred_at": "2026-03-14T12:00:00Z"
	}`)

	waitFor(t, "event applied", func() bool {
		snap, err := actor.CurrentSnapshot(ctx)
		return err == nil && snap.Today.Landing == 1
	})
}

func TestIngestorSkipsMalformedAndMisroutedRows(t *testing.T) {
	actor, ctx := startIngestorActor(t)
	feed := &fakeFeed{}
	ing := NewIngestor(feed, ingestorEngineConfig())
	go func() { _ = ing.RunTenant(ctx, actor) }()

	waitFor(t, "subscribe", func() bool { return feed.subscribeCount() >= 1 })

	feed.push(t, `{not json`)
	feed.push(t, `{"table":"traffic_events","org_id":"other-org","kind":"landing","session_id":"s9","occurred_at":"2026-03-14T12:00:00Z"}`)
	feed.push(t, `{"table":"refunds","org_id":"org-1","occurred_at":"2026-03-14T12:00:00Z"}`)
	feed.push(t, `{"table":"traffic_events","org_id":"org-1","kind":"landing","session_id":"s1","occurred_at":"2026-03-14T12:00:00Z"}`)

	waitFor(t, "good row applied", func() bool {
		snap, err := actor.CurrentSnapshot(ctx)
		return err == nil && snap.Today.Landing == 1
	})

	// Only the valid, correctly routed row made it through.
	snap, err := actor.CurrentSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Today.Landing != 1 {
		t.Errorf("Landing = %d, want 1", snap.Today.Landing)
	}
}

func TestIngestorDegradedUntilSubscribed(t *testing.T) {
	actor, ctx := startIngestorActor(t)
	feed := &fakeFeed{failSubscribes: 20}
	ing := NewIngestor(feed, ingestorEngineConfig())
	go func() { _ = ing.RunTenant(ctx, actor) }()

	// While subscribes fail, the snapshot must carry the degraded flag.
	waitFor(t, "degraded flag", func() bool {
		snap, err := actor.CurrentSnapshot(ctx)
		return err == nil && snap.Degraded
	})

	// Once the third attempt succeeds, it clears.
	waitFor(t, "degraded cleared", func() bool {
		snap, err := actor.CurrentSnapshot(ctx)
		return err == nil && !snap.Degraded
	})
	if got := feed.subscribeCount(); got < 21 {
		t.Errorf("subscribe attempts = %d, want > 20", got)
	}
}

func TestIngestorResubscribesOnChannelClose(t *testing.T) {
	actor, ctx := startIngestorActor(t)
	feed := &fakeFeed{}
	ing := NewIngestor(feed, ingestorEngineConfig())
	go func() { _ = ing.RunTenant(ctx, actor) }()

	waitFor(t, "first subscribe", func() bool { return feed.subscribeCount() >= 1 })
	feed.closeCurrent()
	waitFor(t, "resubscribe", func() bool { return feed.subscribeCount() >= 2 })

	// The feed is healthy again; rows flow and the flag is clear.
	feed.push(t, `{"table":"traffic_events","org_id":"org-1","kind":"landing","session_id":"s1","occurred_at":"2026-03-14T12:00:00Z"}`)
	waitFor(t, "row applied after resubscribe", func() bool {
		snap, err := actor.CurrentSnapshot(ctx)
		return err == nil && snap.Today.Landing == 1 && !snap.Degraded
	})
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		cur, max, want time.Duration
	}{
		{500 * time.Millisecond, 30 * time.Second, time.Second},
		{16 * time.Second, 30 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.cur, tt.max); got != tt.want {
			t.Errorf("nextBackoff(%s, %s) = %s, want %s", tt.cur, tt.max, got, tt.want)
		}
	}
}
