// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package aggregator hosts the per-tenant actor that owns all live
// dashboard state, and the registry that manages actor lifecycles.
//
// One actor per org owns the presence tracker, funnel book, and activity
// feed exclusively. Everything else (the change-feed ingestor, the
// reconciler, HTTP handlers) communicates with it through a bounded
// inbox, so all mutation is serialized and no locks are needed on the
// hot state. Message processing is FIFO by arrival, not by event
// timestamp; correctness relies on the tracker's max-merge semantics and
// the funnel's monotonic merge rather than on temporal ordering, because
// the push stream offers none.
//
// The actor publishes immutable DashboardSnapshot values to subscribers
// on a coalescing timer: mutations mark the state dirty, and the next
// tick (default 200ms) fans a fresh snapshot out to every subscriber.
// Delivery is best-effort per subscriber: a full subscriber queue drops
// its oldest pending snapshot rather than stalling the actor.
//
// The registry creates actors on first Subscribe/CurrentSnapshot for an
// org, starts the tenant's background tasks (ingestor, reconciler)
// alongside it, and tears everything down after the last subscriber
// disconnects and a grace period passes with no new interest.
package aggregator
