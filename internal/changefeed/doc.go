// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package changefeed consumes the ticketing platform's database change
// feed over NATS JetStream and turns raw rows into normalized events for
// the per-tenant aggregators.
//
// Rows arrive on subjects of the form <prefix>.<org>.<table>, one subject
// per source table (traffic_events, orders, tickets). The per-tenant
// Ingestor subscribes with a table wildcard, normalizes each row, and
// submits it to the tenant's actor. Feed loss is survivable: the ingestor
// flags the actor degraded, reconnects with exponential backoff, and
// clears the flag once rows flow again; the reconciler closes any gap
// against the authoritative store.
package changefeed
