// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package presence maintains the per-category sliding presence windows that
// answer "how many sessions are active right now". State is owned
// exclusively by one tenant's aggregator actor; the tracker itself is not
// safe for concurrent use.
package presence

import (
	"time"

	"github.com/ticketpulse/ticketpulse/internal/models"
)

// Windows holds the active-membership window per category plus the
// purchased-set TTL. The purchased TTL must cover the longest window so a
// purchase keeps suppressing cart/checkout presence for as long as those
// windows could report the session.
type Windows struct {
	Visitor      time.Duration
	Cart         time.Duration
	Checkout     time.Duration
	PurchasedTTL time.Duration
}

// DefaultWindows returns the product-defined windows.
func DefaultWindows() Windows {
	return Windows{
		Visitor:      5 * time.Minute,
		Cart:         15 * time.Minute,
		Checkout:     10 * time.Minute,
		PurchasedTTL: 15 * time.Minute,
	}
}

// Window returns the duration for the given category.
func (w Windows) Window(cat models.Category) time.Duration {
	switch cat {
	case models.CategoryVisitor:
		return w.Visitor
	case models.CategoryCart:
		return w.Cart
	case models.CategoryCheckout:
		return w.Checkout
	}
	return 0
}

// Tracker maintains last-seen timestamps per (category, session) and a
// time-bounded purchased set. Eviction is lazy: expired entries are removed
// when a category is read or when Sweep runs, so no timer is required for
// correctness; the periodic sweep only bounds memory under low read traffic.
type Tracker struct {
	windows   Windows
	lastSeen  map[models.Category]map[string]time.Time
	purchased map[string]time.Time // session id -> suppression expiry
}

// NewTracker creates a tracker with the given windows.
func NewTracker(w Windows) *Tracker {
	t := &Tracker{
		windows:   w,
		lastSeen:  make(map[models.Category]map[string]time.Time, len(models.Categories)),
		purchased: make(map[string]time.Time),
	}
	for _, cat := range models.Categories {
		t.lastSeen[cat] = make(map[string]time.Time)
	}
	return t
}

// Record sets last_seen[cat][session] = max(existing, at). Idempotent and
// commutative: duplicate or out-of-order delivery can never regress a
// session's freshness, which is the sole ordering guarantee the push
// stream needs.
func (t *Tracker) Record(sessionID string, cat models.Category, at time.Time) {
	seen, ok := t.lastSeen[cat]
	if !ok {
		return
	}
	if existing, ok := seen[sessionID]; !ok || at.After(existing) {
		seen[sessionID] = at
	}
}

// MarkPurchased adds the session to the purchased set until at+TTL.
// Membership suppresses cart/checkout presence regardless of recency:
// a completed purchase always wins over a stale "in cart" signal.
func (t *Tracker) MarkPurchased(sessionID string, at time.Time) {
	expiry := at.Add(t.windows.PurchasedTTL)
	if existing, ok := t.purchased[sessionID]; !ok || expiry.After(existing) {
		t.purchased[sessionID] = expiry
	}
}

// ActiveCount counts sessions seen within the category's window as of now.
// Entries older than the window are deleted during the count, and for
// cart/checkout the purchased set is subtracted.
func (t *Tracker) ActiveCount(cat models.Category, now time.Time) int {
	seen, ok := t.lastSeen[cat]
	if !ok {
		return 0
	}
	window := t.windows.Window(cat)
	suppress := cat == models.CategoryCart || cat == models.CategoryCheckout

	count := 0
	for session, last := range seen {
		if now.Sub(last) > window {
			delete(seen, session)
			continue
		}
		if suppress && t.isPurchased(session, now) {
			continue
		}
		count++
	}
	return count
}

// Sweep evicts every expired presence entry and purchased-set entry.
// Returns the number of entries removed. Run periodically by the actor to
// bound memory growth when no one is reading counts.
func (t *Tracker) Sweep(now time.Time) int {
	removed := 0
	for cat, seen := range t.lastSeen {
		window := t.windows.Window(cat)
		for session, last := range seen {
			if now.Sub(last) > window {
				delete(seen, session)
				removed++
			}
		}
	}
	for session, expiry := range t.purchased {
		if now.After(expiry) {
			delete(t.purchased, session)
			removed++
		}
	}
	return removed
}

// Sessions returns the ids currently tracked in a category, without
// evaluating window membership. Used by tests and diagnostics.
func (t *Tracker) Sessions(cat models.Category) int {
	return len(t.lastSeen[cat])
}

func (t *Tracker) isPurchased(sessionID string, now time.Time) bool {
	expiry, ok := t.purchased[sessionID]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(t.purchased, sessionID)
		return false
	}
	return true
}
