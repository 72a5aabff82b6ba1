// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// fakeEngine serves canned snapshots backed by one real actor so that
// Subscribe hands out genuine subscriptions.
type fakeEngine struct {
	actor *aggregator.Actor
}

func newFakeEngine(t *testing.T) (*fakeEngine, context.CancelFunc) {
	t.Helper()
	loc, _ := time.LoadLocation("Europe/London")
	cfg := config.EngineConfig{
		VisitorWindow:    5 * time.Minute,
		CartWindow:       15 * time.Minute,
		CheckoutWindow:   10 * time.Minute,
		PurchasedTTL:     15 * time.Minute,
		SweepInterval:    time.Hour,
		PublishInterval:  10 * time.Millisecond,
		ActivityFeedSize: 30,
		SubscriberBuffer: 8,
		InboxSize:        64,
		Timezone:         "Europe/London",
		CurrencySymbol:   "£",
	}
	actor := aggregator.NewActor("org-1", cfg, loc)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = actor.Run(ctx) }()
	t.Cleanup(cancel)
	return &fakeEngine{actor: actor}, cancel
}

func (e *fakeEngine) Subscribe(ctx context.Context, orgID string) (*aggregator.Subscription, error) {
	if orgID != "org-1" {
		return nil, aggregator.ErrInvalidOrg
	}
	return e.actor.Subscribe(ctx, 8)
}

func (e *fakeEngine) CurrentSnapshot(ctx context.Context, orgID string) (models.DashboardSnapshot, error) {
	if orgID != "org-1" {
		return models.DashboardSnapshot{}, aggregator.ErrInvalidOrg
	}
	return e.actor.CurrentSnapshot(ctx)
}

func (e *fakeEngine) TenantCount() int { return 1 }

func serverConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			Timeout:         10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeEngine) {
	t.Helper()
	engine, _ := newFakeEngine(t)
	router := NewRouter(engine, serverConfig())
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv, engine
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, engine := newTestServer(t)

	ev := models.RawEvent{
		Kind:      models.KindLanding,
		SessionID: "s1",
		OrgID:     "org-1",
		Timestamp: time.Now(),
	}
	if err := engine.actor.Submit(context.Background(), ev); err != nil {
		t.Fatalf("submit: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/dashboard/org-1/snapshot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var snap models.DashboardSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.OrgID != "org-1" {
		t.Errorf("OrgID = %q, want org-1", snap.OrgID)
	}
	if snap.Today.Landing != 1 {
		t.Errorf("Landing = %d, want 1", snap.Today.Landing)
	}
}

func TestSnapshotEndpoint_UnknownOrg(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/dashboard/nope/snapshot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == "" {
		t.Error("error body empty")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ticketpulse_") {
		t.Error("metrics output missing ticketpulse_ collectors")
	}
}

func TestStreamEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/dashboard/org-1"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "snapshot" {
		t.Errorf("first frame type = %q, want snapshot", msg.Type)
	}
	var snap models.DashboardSnapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.OrgID != "org-1" {
		t.Errorf("OrgID = %q", snap.OrgID)
	}
}

func TestStreamEndpoint_UnknownOrg(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws/dashboard/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
