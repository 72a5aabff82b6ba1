// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package funnel maintains the per-day cumulative dashboard counters: the
// landing→purchase funnel stages, the order-side KPI totals, and the
// top-events leaderboard. All counters roll over at local midnight; the
// pre-rollover "today" becomes the read-only "yesterday" baseline.
//
// Funnel stages and KPI totals are two independently-reconciled counter
// families: stages count traffic events, totals count order/ticket rows.
// They can diverge and are never forced consistent.
//
// Not safe for concurrent use; owned by one tenant's aggregator actor.
package funnel

import (
	"sort"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/models"
)

// Book holds today's and yesterday's counters for one tenant.
type Book struct {
	loc *time.Location
	day time.Time // local midnight opening the current day

	today     models.FunnelCounts
	yesterday models.FunnelCounts

	todayTotals     models.DayTotals
	yesterdayTotals models.DayTotals

	todayEvents map[string]int // custom event name -> count
}

// NewBook creates a book whose days begin at local midnight in loc.
func NewBook(loc *time.Location, now time.Time) *Book {
	return &Book{
		loc:         loc,
		day:         dayStart(now, loc),
		todayEvents: make(map[string]int),
	}
}

// Increment adds 1 to the stage bucket for the local day that at falls in.
// A timestamp in a later day rotates the book first; a timestamp in the
// previous day lands in the yesterday baseline; anything older is dropped
// since it can no longer affect a displayed bucket.
func (b *Book) Increment(stage models.Stage, at time.Time) {
	switch b.rollTo(at) {
	case bucketToday:
		b.today.Add(stage, 1)
	case bucketYesterday:
		b.yesterday.Add(stage, 1)
	}
}

// AddOrder records a completed order's total in today's KPIs.
func (b *Book) AddOrder(total float64, at time.Time) {
	switch b.rollTo(at) {
	case bucketToday:
		b.todayTotals.Revenue += total
		b.todayTotals.Orders++
	case bucketYesterday:
		b.yesterdayTotals.Revenue += total
		b.yesterdayTotals.Orders++
	}
}

// AddTickets records issued tickets in today's KPIs.
func (b *Book) AddTickets(n int, at time.Time) {
	switch b.rollTo(at) {
	case bucketToday:
		b.todayTotals.TicketsIssued += n
	case bucketYesterday:
		b.yesterdayTotals.TicketsIssued += n
	}
}

// RecordEventName counts one occurrence of a custom event name today.
// Yesterday's leaderboard is not retained; the feed shows today only.
func (b *Book) RecordEventName(name string, at time.Time) {
	if name == "" {
		return
	}
	if b.rollTo(at) == bucketToday {
		b.todayEvents[name]++
	}
}

// MergeCounts applies the reconciliation rule per stage per day:
// every counter takes max(live, authoritative). A stale snapshot can
// never lower a counter; an under-counted push stream is corrected
// upward. The snapshot's day buckets are aligned to the book's by its
// fetch timestamp: a snapshot fetched before local midnight but merged
// after the book rolled over carries the previous day's "today", which
// must land in the yesterday baseline, never in the fresh day.
func (b *Book) MergeCounts(today, yesterday models.FunnelCounts, at time.Time) {
	switch b.rollTo(at) {
	case bucketToday:
		b.today.MergeMax(today)
		b.yesterday.MergeMax(yesterday)
	case bucketYesterday:
		// The snapshot's yesterday predates every displayed bucket.
		b.yesterday.MergeMax(today)
	}
}

// MergeTotals max-merges the order-side KPIs, day-aligned like MergeCounts.
func (b *Book) MergeTotals(today, yesterday models.DayTotals, at time.Time) {
	switch b.rollTo(at) {
	case bucketToday:
		b.todayTotals.MergeMax(today)
		b.yesterdayTotals.MergeMax(yesterday)
	case bucketYesterday:
		b.yesterdayTotals.MergeMax(today)
	}
}

// MergeTopEvents raises live event counts to the authoritative ones.
// The leaderboard covers today only, so a snapshot from an earlier day
// has nothing to contribute.
func (b *Book) MergeTopEvents(events []models.EventCount, at time.Time) {
	if b.rollTo(at) != bucketToday {
		return
	}
	for _, ec := range events {
		if ec.Count > b.todayEvents[ec.Name] {
			b.todayEvents[ec.Name] = ec.Count
		}
	}
}

// TopEvents returns up to n event names by descending count, ties broken
// by name for stable output.
func (b *Book) TopEvents(n int) []models.EventCount {
	out := make([]models.EventCount, 0, len(b.todayEvents))
	for name, count := range b.todayEvents {
		out = append(out, models.EventCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Snapshot rolls the book to now and returns read-only copies of both
// day buckets.
func (b *Book) Snapshot(now time.Time) (today, yesterday models.FunnelCounts, todayTotals, yesterdayTotals models.DayTotals) {
	b.rollTo(now)
	return b.today, b.yesterday, b.todayTotals, b.yesterdayTotals
}

type bucket int

const (
	bucketDropped bucket = iota
	bucketToday
	bucketYesterday
)

// rollTo advances the book so that the day containing at (if newer) is
// "today", then reports which bucket at belongs to.
func (b *Book) rollTo(at time.Time) bucket {
	day := dayStart(at, b.loc)

	switch {
	case day.After(b.day):
		if day.Sub(b.day) > 24*time.Hour+2*time.Hour { // > one day, DST slack
			// A gap of more than one day: nothing carried forward.
			b.yesterday = models.FunnelCounts{}
			b.yesterdayTotals = models.DayTotals{}
		} else {
			b.yesterday = b.today
			b.yesterdayTotals = b.todayTotals
		}
		b.today = models.FunnelCounts{}
		b.todayTotals = models.DayTotals{}
		b.todayEvents = make(map[string]int)
		b.day = day
		return bucketToday
	case day.Equal(b.day):
		return bucketToday
	case b.day.Sub(day) <= 24*time.Hour+2*time.Hour:
		return bucketYesterday
	default:
		return bucketDropped
	}
}

// dayStart returns local midnight of the day containing t.
func dayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
