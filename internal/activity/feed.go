// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package activity keeps the bounded, timestamp-descending feed of recent
// human-readable events shown on the dashboard. Purely cosmetic state: it
// never participates in counting, so a display glitch can never corrupt
// metrics. Not safe for concurrent use; owned by one tenant's actor.
package activity

import (
	"github.com/ticketpulse/ticketpulse/internal/models"
)

// DefaultCapacity is the number of items the dashboard shows.
const DefaultCapacity = 30

// Feed is a bounded buffer of ActivityItems kept in timestamp-descending
// order. Items are immutable and never reordered after insertion besides
// truncation of the tail.
type Feed struct {
	items []models.ActivityItem
	cap   int
}

// NewFeed creates a feed holding at most capacity items.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		items: make([]models.ActivityItem, 0, capacity),
		cap:   capacity,
	}
}

// Push inserts the item at its timestamp position (newest first) and
// truncates the tail to capacity. Items with an ID already present are
// skipped, so reconciliation backfill cannot duplicate live entries.
func (f *Feed) Push(item models.ActivityItem) {
	if item.ID != "" {
		for _, existing := range f.items {
			if existing.ID == item.ID {
				return
			}
		}
	}

	// Most pushes are the newest item; find the insertion point from the head.
	pos := 0
	for pos < len(f.items) && f.items[pos].Timestamp.After(item.Timestamp) {
		pos++
	}
	if pos >= f.cap {
		return // older than everything in a full feed
	}

	f.items = append(f.items, models.ActivityItem{})
	copy(f.items[pos+1:], f.items[pos:])
	f.items[pos] = item

	if len(f.items) > f.cap {
		f.items = f.items[:f.cap]
	}
}

// Items returns a copy of the feed, newest first.
func (f *Feed) Items() []models.ActivityItem {
	out := make([]models.ActivityItem, len(f.items))
	copy(out, f.items)
	return out
}

// Len returns the number of items currently held.
func (f *Feed) Len() int {
	return len(f.items)
}
