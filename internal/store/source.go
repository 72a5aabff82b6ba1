// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package store reads authoritative aggregates from the ticketing
// platform's Postgres database. It is strictly read-only: the engine
// never writes back. Fetches are wrapped in a circuit breaker so a slow
// or down database degrades reconciliation instead of piling up queries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/models"
)

// ErrSnapshotFetch wraps any failure to read an authoritative snapshot.
// Callers treat it as transient and keep serving live state.
var ErrSnapshotFetch = errors.New("snapshot fetch failed")

// SnapshotSource produces authoritative per-org snapshots for
// reconciliation.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, orgID string, now time.Time) (models.StoreSnapshot, error)
}
