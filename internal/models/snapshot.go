// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package models

import "time"

// FunnelCounts holds the cumulative per-stage counters for one local day.
// Counters are monotonically non-decreasing within a day.
type FunnelCounts struct {
	Landing   int `json:"landing"`
	Tickets   int `json:"tickets"`
	AddToCart int `json:"add_to_cart"`
	Checkout  int `json:"checkout"`
	Purchase  int `json:"purchase"`
}

// Get returns the counter for the given stage.
func (f FunnelCounts) Get(stage Stage) int {
	switch stage {
	case StageLanding:
		return f.Landing
	case StageTickets:
		return f.Tickets
	case StageAddToCart:
		return f.AddToCart
	case StageCheckout:
		return f.Checkout
	case StagePurchase:
		return f.Purchase
	}
	return 0
}

// Add increments the counter for the given stage by delta.
func (f *FunnelCounts) Add(stage Stage, delta int) {
	switch stage {
	case StageLanding:
		f.Landing += delta
	case StageTickets:
		f.Tickets += delta
	case StageAddToCart:
		f.AddToCart += delta
	case StageCheckout:
		f.Checkout += delta
	case StagePurchase:
		f.Purchase += delta
	}
}

// MergeMax raises each counter to the maximum of the two sets.
// This is the reconciliation merge rule: a stale snapshot can never
// regress a counter the push stream already advanced.
func (f *FunnelCounts) MergeMax(other FunnelCounts) {
	f.Landing = maxInt(f.Landing, other.Landing)
	f.Tickets = maxInt(f.Tickets, other.Tickets)
	f.AddToCart = maxInt(f.AddToCart, other.AddToCart)
	f.Checkout = maxInt(f.Checkout, other.Checkout)
	f.Purchase = maxInt(f.Purchase, other.Purchase)
}

// DayTotals holds the order-side KPIs for one local day. These come from
// the orders/tickets tables and are deliberately independent of the
// funnel's purchase counter (different tables, different session semantics).
type DayTotals struct {
	Revenue       float64 `json:"revenue"`
	Orders        int     `json:"orders"`
	TicketsIssued int     `json:"tickets_issued"`
}

// MergeMax raises each total to the maximum of the two sets.
func (t *DayTotals) MergeMax(other DayTotals) {
	if other.Revenue > t.Revenue {
		t.Revenue = other.Revenue
	}
	t.Orders = maxInt(t.Orders, other.Orders)
	t.TicketsIssued = maxInt(t.TicketsIssued, other.TicketsIssued)
}

// EventCount is one entry of the top-events leaderboard.
type EventCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ActivityItem is one entry of the scrolling activity feed. Immutable
// after construction; purely cosmetic state that never feeds counters.
type ActivityItem struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Title     string    `json:"title"`
	Amount    string    `json:"amount,omitempty"`
	EventName string    `json:"event_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DashboardSnapshot is the immutable, fully-computed view published to
// subscribers. Produced copy-on-publish; never mutated after construction.
type DashboardSnapshot struct {
	OrgID       string    `json:"org_id"`
	GeneratedAt time.Time `json:"generated_at"`

	ActiveVisitors int `json:"active_visitors"`
	ActiveCarts    int `json:"active_carts"`
	InCheckout     int `json:"in_checkout"`

	Today     FunnelCounts `json:"today"`
	Yesterday FunnelCounts `json:"yesterday"`

	TodayTotals     DayTotals `json:"today_totals"`
	YesterdayTotals DayTotals `json:"yesterday_totals"`

	TopEvents []EventCount   `json:"top_events"`
	Activity  []ActivityItem `json:"activity_feed"`

	// Degraded is set while the change feed is reconnecting and the
	// picture leans on reconciliation alone.
	Degraded bool `json:"degraded"`
}

// SessionSeen is one active session row from the authoritative store.
type SessionSeen struct {
	SessionID string    `json:"session_id"`
	LastSeen  time.Time `json:"last_seen"`
}

// StoreSnapshot is the authoritative aggregate fetched by the reconciler.
// It is merged into live state, never copied over it.
type StoreSnapshot struct {
	FunnelToday     FunnelCounts               `json:"funnel_today"`
	FunnelYesterday FunnelCounts               `json:"funnel_yesterday"`
	ActiveSessions  map[Category][]SessionSeen `json:"active_sessions"`
	RecentActivity  []ActivityItem             `json:"recent_activity"`
	TopEvents       []EventCount               `json:"top_events"`
	TodayTotals     DayTotals                  `json:"today_totals"`
	YesterdayTotals DayTotals                  `json:"yesterday_totals"`
	FetchedAt       time.Time                  `json:"fetched_at"`
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
