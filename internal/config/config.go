// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package config loads and validates TicketPulse configuration via Koanf v2
// with layered sources: built-in defaults, an optional YAML config file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the aggregation engine.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	NATS    NATSConfig    `koanf:"nats"`
	Store   StoreConfig   `koanf:"store"`
	Engine  EngineConfig  `koanf:"engine"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// NATSConfig configures the change-feed transport.
type NATSConfig struct {
	URL            string        `koanf:"url" validate:"required"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	StreamName     string        `koanf:"stream_name"`
	SubjectPrefix  string        `koanf:"subject_prefix"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`
}

// StoreConfig configures the read-only authoritative snapshot source.
type StoreConfig struct {
	DSN          string        `koanf:"dsn" validate:"required"`
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"min=100ms"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`

	// Circuit breaker around FetchSnapshot.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenFor     time.Duration `koanf:"breaker_open_for"`
}

// EngineConfig holds the aggregation tunables. The defaults are the
// product-defined values; changing them changes what "active" means.
type EngineConfig struct {
	VisitorWindow  time.Duration `koanf:"visitor_window" validate:"min=1s"`
	CartWindow     time.Duration `koanf:"cart_window" validate:"min=1s"`
	CheckoutWindow time.Duration `koanf:"checkout_window" validate:"min=1s"`
	PurchasedTTL   time.Duration `koanf:"purchased_ttl" validate:"min=1s"`

	SweepInterval     time.Duration `koanf:"sweep_interval" validate:"min=1s"`
	PublishInterval   time.Duration `koanf:"publish_interval" validate:"min=10ms"`
	ReconcileInterval time.Duration `koanf:"reconcile_interval" validate:"min=1s"`

	FeedBackoffMin time.Duration `koanf:"feed_backoff_min"`
	FeedBackoffMax time.Duration `koanf:"feed_backoff_max"`

	ActivityFeedSize int           `koanf:"activity_feed_size" validate:"min=1"`
	SubscriberBuffer int           `koanf:"subscriber_buffer" validate:"min=1"`
	InboxSize        int           `koanf:"inbox_size" validate:"min=1"`
	TenantGrace      time.Duration `koanf:"tenant_grace"`

	// Timezone is the IANA zone used for local-midnight day rollover.
	Timezone string `koanf:"timezone" validate:"required"`

	// CurrencySymbol prefixes formatted activity amounts.
	CurrencySymbol string `koanf:"currency_symbol"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8710,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			StreamName:     "CHANGEFEED",
			SubjectPrefix:  "changefeed",
			DurableName:    "funnel-aggregator",
			QueueGroup:     "aggregators",
			MaxReconnects:  -1, // retry forever; the ingestor handles degraded state
			ReconnectWait:  2 * time.Second,
			AckWaitTimeout: 30 * time.Second,
			CloseTimeout:   30 * time.Second,
		},
		Store: StoreConfig{
			DSN:                "",
			QueryTimeout:       5 * time.Second,
			MaxOpenConns:       4,
			MaxIdleConns:       2,
			BreakerMaxFailures: 3,
			BreakerOpenFor:     30 * time.Second,
		},
		Engine: EngineConfig{
			VisitorWindow:     5 * time.Minute,
			CartWindow:        15 * time.Minute,
			CheckoutWindow:    10 * time.Minute,
			PurchasedTTL:      15 * time.Minute,
			SweepInterval:     30 * time.Second,
			PublishInterval:   200 * time.Millisecond,
			ReconcileInterval: 15 * time.Second,
			FeedBackoffMin:    500 * time.Millisecond,
			FeedBackoffMax:    30 * time.Second,
			ActivityFeedSize:  30,
			SubscriberBuffer:  8,
			InboxSize:         1024,
			TenantGrace:       60 * time.Second,
			Timezone:          "Europe/London",
			CurrencySymbol:    "£",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration. Struct tags cover ranges and enums;
// semantic rules that tags cannot express are checked by hand.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("ENGINE_TIMEZONE %q is not a valid IANA zone: %w", c.Engine.Timezone, err)
	}

	// The purchased set must cover the longest presence window, otherwise a
	// purchase could stop suppressing a cart that is still inside its window.
	if c.Engine.PurchasedTTL < c.Engine.CartWindow {
		return fmt.Errorf("ENGINE_PURCHASED_TTL (%s) must be >= ENGINE_CART_WINDOW (%s)",
			c.Engine.PurchasedTTL, c.Engine.CartWindow)
	}

	if c.Engine.FeedBackoffMin > c.Engine.FeedBackoffMax {
		return fmt.Errorf("ENGINE_FEED_BACKOFF_MIN (%s) must be <= ENGINE_FEED_BACKOFF_MAX (%s)",
			c.Engine.FeedBackoffMin, c.Engine.FeedBackoffMax)
	}

	return nil
}

// Location returns the engine's day-rollover timezone. Validate must have
// succeeded before calling.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
