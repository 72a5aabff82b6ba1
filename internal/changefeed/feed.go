// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package changefeed

import (
	"context"
	"fmt"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
)

// Feed delivers change-feed messages for one org. The returned channel
// closes when the context is canceled or the underlying connection drops;
// the caller is expected to resubscribe.
type Feed interface {
	Subscribe(ctx context.Context, orgID string) (<-chan *message.Message, error)
}

// NATSFeed consumes the platform change feed from NATS JetStream through
// a durable, queue-grouped Watermill subscriber.
type NATSFeed struct {
	subscriber message.Subscriber
	cfg        config.NATSConfig
}

// NewNATSFeed connects a durable JetStream subscriber. Connection loss is
// retried by the NATS client itself; subscription-level failures surface
// through Subscribe and are handled by the ingestor's backoff loop.
func NewNATSFeed(cfg config.NATSConfig) (*NATSFeed, error) {
	wmLogger := newWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Err(err).Msg("change-feed connection lost")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("change-feed reconnected")
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.AckWait(cfg.AckWaitTimeout),
		// Live dashboards only need rows from now on; the reconciler
		// covers history.
		natsgo.DeliverNew(),
	}

	// Per-org topics are table wildcards, so the stream cannot be
	// auto-provisioned from the topic name; bind to the configured one.
	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    autoProvision,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create change-feed subscriber: %w", err)
	}

	return &NATSFeed{subscriber: sub, cfg: cfg}, nil
}

// Subscribe opens the per-org wildcard subscription covering every source
// table.
func (f *NATSFeed) Subscribe(ctx context.Context, orgID string) (<-chan *message.Message, error) {
	topic := fmt.Sprintf("%s.%s.>", f.cfg.SubjectPrefix, orgID)
	msgs, err := f.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return msgs, nil
}

// Close shuts the subscriber down, closing all org subscriptions.
func (f *NATSFeed) Close() error {
	return f.subscriber.Close()
}
