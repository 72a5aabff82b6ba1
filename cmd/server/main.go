// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package main is the entry point for the TicketPulse aggregation server.
//
// TicketPulse turns a change feed of storefront events into live dashboard
// snapshots: active visitors, carts and checkouts, daily funnel counters,
// revenue totals and a recent-activity feed, per tenant.
//
// # Application Architecture
//
// The server wires components in the following order:
//
//  1. Configuration: layered load via Koanf v2 (defaults, config.yaml, TP_* env)
//  2. Snapshot store: PostgreSQL read path behind a circuit breaker
//  3. Change feed: NATS JetStream subscriber (embedded server optional)
//  4. Tenant registry: per-tenant aggregation actors, created on demand
//  5. HTTP server: REST snapshot endpoint plus the dashboard WebSocket
//
// Everything long-running sits under a suture supervisor tree so a crashed
// layer restarts without taking the process down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (TP_ prefix, e.g. TP_SERVER_PORT=8710)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// Minimum viable setup points TP_STORE_DSN at the storefront database and
// TP_NATS_URL at the change-feed cluster. For single-box deployments set
// TP_NATS_EMBEDDED_SERVER=true to run JetStream in-process.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// drains in-flight requests, tenant actors close their subscribers, and the
// change-feed connections are torn down.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/api"
	"github.com/ticketpulse/ticketpulse/internal/changefeed"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/reconcile"
	"github.com/ticketpulse/ticketpulse/internal/store"
	"github.com/ticketpulse/ticketpulse/internal/supervisor"
	"github.com/ticketpulse/ticketpulse/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("timezone", cfg.Engine.Timezone).
		Str("nats_url", cfg.NATS.URL).
		Bool("embedded_nats", cfg.NATS.EmbeddedServer).
		Msg("Starting TicketPulse")

	// Snapshot store: PostgreSQL read path behind a circuit breaker so a
	// struggling database degrades reconciliation instead of hammering it.
	pg, err := store.NewPostgres(cfg.Store, cfg.Engine, cfg.Location())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to snapshot store")
	}
	defer func() {
		if err := pg.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing snapshot store")
		}
	}()
	source := store.NewBreakerSource(pg, cfg.Store)
	logging.Info().Msg("Snapshot store connected")

	// Change-feed subscriber. With RetryOnFailedConnect the feed comes up
	// even when NATS (embedded or external) is still starting.
	feed, err := changefeed.NewNATSFeed(cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create change-feed subscriber")
	}
	defer func() {
		if err := feed.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing change-feed subscriber")
		}
	}()

	// Per-tenant runners: the ingestor streams live rows into the actor,
	// the reconciler periodically folds in store truth.
	ingestor := changefeed.NewIngestor(feed, cfg.Engine)
	reconciler := reconcile.NewReconciler(source, cfg.Engine)
	registry := aggregator.NewRegistry(cfg, ingestor, reconciler)

	router := api.NewRouter(registry, cfg)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// zerolog bridged to slog for sutureslog lifecycle events.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if cfg.NATS.EmbeddedServer {
		tree.AddMessagingService(services.NewNATSService(cfg.NATS))
		logging.Info().Msg("Embedded change-feed server added to supervisor tree")
	}
	tree.AddEngineService(services.NewEngineService("tenant-registry", registry))
	tree.AddAPIService(services.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop cleanly")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
