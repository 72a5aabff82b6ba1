// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/changefeed"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
)

// NATSService runs the embedded change-feed server for single-instance
// deployments. When the config points at an external NATS cluster this
// service is simply not added to the tree.
type NATSService struct {
	cfg config.NATSConfig
}

// NewNATSService wraps the embedded server lifecycle.
func NewNATSService(cfg config.NATSConfig) *NATSService {
	return &NATSService{cfg: cfg}
}

// Serve implements suture.Service: starts the server, waits for
// cancellation, shuts down.
func (s *NATSService) Serve(ctx context.Context) error {
	srv, err := changefeed.NewEmbeddedServer(s.cfg)
	if err != nil {
		return fmt.Errorf("embedded nats: %w", err)
	}
	logging.Info().Str("url", srv.ClientURL()).Msg("embedded change-feed server ready")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("embedded nats shutdown: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *NATSService) String() string { return "embedded-nats" }
