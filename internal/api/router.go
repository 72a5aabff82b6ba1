// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package api exposes the engine over HTTP: a one-shot snapshot endpoint,
// the websocket dashboard stream, health, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/models"
)

// Engine is the surface the API needs from the tenant registry.
type Engine interface {
	Subscribe(ctx context.Context, orgID string) (*aggregator.Subscription, error)
	CurrentSnapshot(ctx context.Context, orgID string) (models.DashboardSnapshot, error)
	TenantCount() int
}

// Router builds the HTTP handler tree.
type Router struct {
	engine  Engine
	cfg     *config.Config
	handler *Handler
}

// NewRouter creates a router over the given engine.
func NewRouter(engine Engine, cfg *config.Config) *Router {
	return &Router{
		engine:  engine,
		cfg:     cfg,
		handler: NewHandler(engine),
	}
}

// Setup configures all routes and middleware.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.cfg.Server.RateLimitReqs, rateWindow(router.cfg)))
		r.Use(prometheusMetrics)

		r.Get("/dashboard/{orgID}/snapshot", router.handler.Snapshot)
	})

	// The websocket stream sits outside the rate limiter: connections are
	// long-lived and counting them against the per-IP request budget
	// would lock dashboards out after reconnect storms.
	r.Get("/ws/dashboard/{orgID}", router.handler.Stream)

	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func rateWindow(cfg *config.Config) time.Duration {
	if cfg.Server.RateLimitWindow > 0 {
		return cfg.Server.RateLimitWindow
	}
	return time.Minute
}
