// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package metrics exposes Prometheus collectors for the aggregation engine:
// change-feed ingestion, reconciliation, tenant actors, and snapshot fan-out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Change-feed ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpulse_events_ingested_total",
			Help: "Total number of change-feed events ingested, by kind",
		},
		[]string{"org", "kind"},
	)

	MalformedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpulse_events_malformed_total",
			Help: "Total number of change-feed rows dropped as unparseable",
		},
		[]string{"org", "table"},
	)

	FeedReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpulse_feed_reconnects_total",
			Help: "Total number of change-feed reconnect attempts",
		},
		[]string{"org"},
	)

	FeedDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ticketpulse_feed_degraded",
			Help: "1 while the change feed for an org is disconnected",
		},
		[]string{"org"},
	)

	// Reconciliation metrics
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpulse_reconcile_runs_total",
			Help: "Total number of snapshot reconciliation attempts",
		},
		[]string{"org", "result"}, // "ok", "error"
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketpulse_reconcile_duration_seconds",
			Help:    "Duration of authoritative snapshot fetch and merge",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"org"},
	)

	// Tenant actor metrics
	ActiveTenants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketpulse_active_tenants",
			Help: "Current number of live tenant aggregator actors",
		},
	)

	InboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ticketpulse_actor_inbox_depth",
			Help: "Current depth of a tenant actor's message inbox",
		},
		[]string{"org"},
	)

	// Publisher metrics
	SnapshotsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpulse_snapshots_published_total",
			Help: "Total number of dashboard snapshots fanned out",
		},
		[]string{"org"},
	)

	Subscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ticketpulse_subscribers",
			Help: "Current number of dashboard subscribers",
		},
		[]string{"org"},
	)

	DroppedSnapshots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpulse_subscriber_dropped_snapshots_total",
			Help: "Snapshots dropped for slow subscribers (lossy-newest-wins)",
		},
		[]string{"org"},
	)

	// HTTP metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketpulse_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketpulse_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)
)
