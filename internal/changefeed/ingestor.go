// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package changefeed

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/metrics"
)

// Ingestor drives one tenant's change-feed rows into its aggregator
// actor. It is a registry TenantRunner: one RunTenant loop per live
// tenant, canceled with the tenant.
type Ingestor struct {
	feed Feed
	cfg  config.EngineConfig
}

// NewIngestor creates an ingestor over the given feed.
func NewIngestor(feed Feed, cfg config.EngineConfig) *Ingestor {
	return &Ingestor{feed: feed, cfg: cfg}
}

// RunTenant consumes the org's feed until the context is canceled. On
// subscription failure or channel close, the actor is flagged degraded
// and the loop resubscribes with exponential backoff; the flag clears as
// soon as a subscription is established again.
func (i *Ingestor) RunTenant(ctx context.Context, actor *aggregator.Actor) error {
	orgID := actor.OrgID()
	backoff := i.cfg.FeedBackoffMin

	for {
		msgs, err := i.feed.Subscribe(ctx, orgID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Err(err).Str("org", orgID).Dur("backoff", backoff).Msg("change-feed subscribe failed")
			if derr := actor.SetDegraded(ctx, true); derr != nil {
				return derr
			}
			metrics.FeedDegraded.WithLabelValues(orgID).Set(1)
			metrics.FeedReconnects.WithLabelValues(orgID).Inc()

			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, i.cfg.FeedBackoffMax)
			continue
		}

		if err := actor.SetDegraded(ctx, false); err != nil {
			return err
		}
		metrics.FeedDegraded.WithLabelValues(orgID).Set(0)
		backoff = i.cfg.FeedBackoffMin

		if err := i.consume(ctx, actor, msgs); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Channel closed under us: the transport dropped the
		// subscription. Flag degraded and go around.
		logging.Warn().Str("org", orgID).Msg("change-feed subscription closed, resubscribing")
		if err := actor.SetDegraded(ctx, true); err != nil {
			return err
		}
		metrics.FeedDegraded.WithLabelValues(orgID).Set(1)
		metrics.FeedReconnects.WithLabelValues(orgID).Inc()

		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, i.cfg.FeedBackoffMax)
	}
}

// consume processes messages until the channel closes or the context is
// canceled. Returns nil on channel close so the caller resubscribes.
func (i *Ingestor) consume(ctx context.Context, actor *aggregator.Actor, msgs <-chan *message.Message) error {
	orgID := actor.OrgID()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}

			row, err := DecodeRow(msg.Payload)
			if err != nil {
				// Poison rows are acked, not redelivered.
				logging.Err(err).Str("org", orgID).Str("message_uuid", msg.UUID).Msg("malformed change-feed row")
				metrics.MalformedEvents.WithLabelValues(orgID, "unknown").Inc()
				msg.Ack()
				continue
			}
			if row.OrgID != orgID {
				// Misrouted row; drop it rather than pollute another
				// tenant's state.
				logging.Warn().Str("org", orgID).Str("row_org", row.OrgID).Msg("change-feed row for wrong org")
				msg.Ack()
				continue
			}

			ev, err := row.Normalize()
			if err != nil {
				logging.Err(err).Str("org", orgID).Str("table", row.Table).Msg("unnormalizable change-feed row")
				metrics.MalformedEvents.WithLabelValues(orgID, row.Table).Inc()
				msg.Ack()
				continue
			}

			if err := actor.Submit(ctx, ev); err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// sleep waits for d or context cancellation; false means canceled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
