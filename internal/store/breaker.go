// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/models"
)

// BreakerSource wraps a SnapshotSource with a circuit breaker. When the
// database fails repeatedly, the breaker opens and fetches fail fast for
// the open window instead of stacking queries on a struggling store.
type BreakerSource struct {
	source SnapshotSource
	cb     *gobreaker.CircuitBreaker[models.StoreSnapshot]
}

// NewBreakerSource wraps source. The breaker opens after the configured
// number of consecutive failures and stays open for the configured
// window; one probe request is allowed through in half-open state.
func NewBreakerSource(source SnapshotSource, cfg config.StoreConfig) *BreakerSource {
	cb := gobreaker.NewCircuitBreaker[models.StoreSnapshot](gobreaker.Settings{
		Name:        "snapshot-store",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("snapshot store breaker state change")
		},
	})

	return &BreakerSource{source: source, cb: cb}
}

// FetchSnapshot delegates through the breaker. An open breaker surfaces
// as ErrSnapshotFetch like any other transient store failure.
func (b *BreakerSource) FetchSnapshot(ctx context.Context, orgID string, now time.Time) (models.StoreSnapshot, error) {
	snap, err := b.cb.Execute(func() (models.StoreSnapshot, error) {
		return b.source.FetchSnapshot(ctx, orgID, now)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return models.StoreSnapshot{}, fmt.Errorf("%w: breaker open", ErrSnapshotFetch)
		}
		if errors.Is(err, ErrSnapshotFetch) {
			return models.StoreSnapshot{}, err
		}
		return models.StoreSnapshot{}, fmt.Errorf("%w: %v", ErrSnapshotFetch, err)
	}
	return snap, nil
}
