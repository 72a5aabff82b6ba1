// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ticketpulse/ticketpulse/internal/activity"
	"github.com/ticketpulse/ticketpulse/internal/config"
	"github.com/ticketpulse/ticketpulse/internal/logging"
	"github.com/ticketpulse/ticketpulse/internal/models"
)

// activityBackfillSize bounds the recent-activity query; matches the
// dashboard feed capacity.
const activityBackfillSize = 30

// maxSessionRows bounds the active-session queries. An org with more
// concurrently active sessions than this gets a slightly undercounted
// reconcile; the push stream still carries the true picture.
const maxSessionRows = 10000

// Postgres reads authoritative aggregates from the platform database.
type Postgres struct {
	db  *sql.DB
	cfg config.StoreConfig
	eng config.EngineConfig
	loc *time.Location
}

// NewPostgres opens a read-only connection pool and verifies it with a
// ping.
func NewPostgres(cfg config.StoreConfig, eng config.EngineConfig, loc *time.Location) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logging.Info().Msg("authoritative store connected")
	return &Postgres{db: db, cfg: cfg, eng: eng, loc: loc}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// FetchSnapshot assembles the full authoritative aggregate for one org.
// All queries share a single deadline; any failure aborts the fetch and
// wraps ErrSnapshotFetch so the reconciler can treat it as transient.
func (p *Postgres) FetchSnapshot(ctx context.Context, orgID string, now time.Time) (models.StoreSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	todayStart := dayStart(now, p.loc)
	yesterdayStart := todayStart.AddDate(0, 0, -1)
	tomorrowStart := todayStart.AddDate(0, 0, 1)

	snap := models.StoreSnapshot{
		ActiveSessions: make(map[models.Category][]models.SessionSeen),
		FetchedAt:      now,
	}

	var err error
	if snap.FunnelToday, err = p.funnelCounts(ctx, orgID, todayStart, tomorrowStart); err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: funnel today: %v", ErrSnapshotFetch, err)
	}
	if snap.FunnelYesterday, err = p.funnelCounts(ctx, orgID, yesterdayStart, todayStart); err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: funnel yesterday: %v", ErrSnapshotFetch, err)
	}

	for cat, window := range map[models.Category]time.Duration{
		models.CategoryVisitor:  p.eng.VisitorWindow,
		models.CategoryCart:     p.eng.CartWindow,
		models.CategoryCheckout: p.eng.CheckoutWindow,
	} {
		sessions, serr := p.activeSessions(ctx, orgID, cat, now.Add(-window))
		if serr != nil {
			return models.StoreSnapshot{}, fmt.Errorf("%w: %s sessions: %v", ErrSnapshotFetch, cat, serr)
		}
		snap.ActiveSessions[cat] = sessions
	}

	if snap.TodayTotals, err = p.dayTotals(ctx, orgID, todayStart, tomorrowStart); err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: totals today: %v", ErrSnapshotFetch, err)
	}
	if snap.YesterdayTotals, err = p.dayTotals(ctx, orgID, yesterdayStart, todayStart); err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: totals yesterday: %v", ErrSnapshotFetch, err)
	}

	if snap.TopEvents, err = p.topEvents(ctx, orgID, todayStart, tomorrowStart); err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: top events: %v", ErrSnapshotFetch, err)
	}
	if snap.RecentActivity, err = p.recentActivity(ctx, orgID); err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: recent activity: %v", ErrSnapshotFetch, err)
	}

	return snap, nil
}

func (p *Postgres) funnelCounts(ctx context.Context, orgID string, from, to time.Time) (models.FunnelCounts, error) {
	const q = `
		SELECT kind, COUNT(*)
		FROM traffic_events
		WHERE org_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY kind`

	rows, err := p.db.QueryContext(ctx, q, orgID, from, to)
	if err != nil {
		return models.FunnelCounts{}, err
	}
	defer rows.Close()

	var counts models.FunnelCounts
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return models.FunnelCounts{}, err
		}
		if stage, ok := models.StageForKind(models.EventKind(kind)); ok {
			counts.Add(stage, n)
		}
	}
	return counts, rows.Err()
}

func (p *Postgres) activeSessions(ctx context.Context, orgID string, cat models.Category, since time.Time) ([]models.SessionSeen, error) {
	const q = `
		SELECT session_id, MAX(occurred_at)
		FROM traffic_events
		WHERE org_id = $1 AND kind = ANY($2) AND occurred_at > $3
		GROUP BY session_id
		LIMIT $4`

	rows, err := p.db.QueryContext(ctx, q, orgID, kindsForCategory(cat), since, maxSessionRows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.SessionSeen
	for rows.Next() {
		var s models.SessionSeen
		if err := rows.Scan(&s.SessionID, &s.LastSeen); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (p *Postgres) dayTotals(ctx context.Context, orgID string, from, to time.Time) (models.DayTotals, error) {
	const orderQ = `
		SELECT COALESCE(SUM(total), 0), COUNT(*)
		FROM orders
		WHERE org_id = $1 AND completed_at >= $2 AND completed_at < $3`

	var totals models.DayTotals
	if err := p.db.QueryRowContext(ctx, orderQ, orgID, from, to).Scan(&totals.Revenue, &totals.Orders); err != nil {
		return models.DayTotals{}, err
	}

	const ticketQ = `
		SELECT COUNT(*)
		FROM tickets
		WHERE org_id = $1 AND issued_at >= $2 AND issued_at < $3`

	if err := p.db.QueryRowContext(ctx, ticketQ, orgID, from, to).Scan(&totals.TicketsIssued); err != nil {
		return models.DayTotals{}, err
	}
	return totals, nil
}

func (p *Postgres) topEvents(ctx context.Context, orgID string, from, to time.Time) ([]models.EventCount, error) {
	const q = `
		SELECT event_name, COUNT(*)
		FROM traffic_events
		WHERE org_id = $1 AND kind = 'custom' AND event_name <> ''
		  AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY event_name
		ORDER BY COUNT(*) DESC, event_name ASC
		LIMIT 20`

	rows, err := p.db.QueryContext(ctx, q, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []models.EventCount
	for rows.Next() {
		var ec models.EventCount
		if err := rows.Scan(&ec.Name, &ec.Count); err != nil {
			return nil, err
		}
		top = append(top, ec)
	}
	return top, rows.Err()
}

func (p *Postgres) recentActivity(ctx context.Context, orgID string) ([]models.ActivityItem, error) {
	const q = `
		SELECT id, kind, session_id, occurred_at,
		       COALESCE(event_name, ''), COALESCE(product_name, ''),
		       COALESCE(product_price, 0), COALESCE(order_total, 0)
		FROM traffic_events
		WHERE org_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, q, orgID, activityBackfillSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ActivityItem
	for rows.Next() {
		var (
			id, kind, sessionID string
			at                  time.Time
			payload             models.EventPayload
		)
		if err := rows.Scan(&id, &kind, &sessionID, &at,
			&payload.EventName, &payload.ProductName,
			&payload.ProductPrice, &payload.OrderTotal); err != nil {
			return nil, err
		}

		ev := models.RawEvent{
			Kind:      models.EventKind(kind),
			SessionID: sessionID,
			OrgID:     orgID,
			Timestamp: at,
			Payload:   &payload,
		}
		item, ok := activity.Describe(ev, p.eng.CurrencySymbol)
		if !ok {
			continue
		}
		// Stable ID from the source row; the feed dedupes on it.
		item.ID = id
		items = append(items, item)
	}
	return items, rows.Err()
}

// kindsForCategory returns the event kinds whose rows refresh a presence
// category, as a Postgres text array literal.
func kindsForCategory(cat models.Category) interface{} {
	switch cat {
	case models.CategoryCart:
		return "{add_to_cart}"
	case models.CategoryCheckout:
		return "{checkout_start}"
	default:
		return "{landing,tickets_view,custom,purchase,add_to_cart,checkout_start}"
	}
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
