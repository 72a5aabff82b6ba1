// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package changefeed

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ticketpulse/ticketpulse/internal/models"
)

// Source tables the feed carries rows from.
const (
	TableTraffic = "traffic_events"
	TableOrders  = "orders"
	TableTickets = "tickets"
)

// Row is one change-feed row as published by the platform's CDC pipeline.
// Traffic rows carry a kind and session; order and ticket rows carry only
// payload fields, their kind is implied by the table.
type Row struct {
	Table      string               `json:"table"`
	OrgID      string               `json:"org_id"`
	Kind       string               `json:"kind,omitempty"`
	SessionID  string               `json:"session_id,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
	Payload    *models.EventPayload `json:"payload,omitempty"`
}

// DecodeRow parses a feed message payload.
func DecodeRow(data []byte) (Row, error) {
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return Row{}, fmt.Errorf("decode change-feed row: %w", err)
	}
	return row, nil
}

// Normalize converts a row into the canonical event the aggregator
// consumes. Rows from unknown tables or failing validation are rejected;
// the caller drops them and counts them as malformed.
func (r Row) Normalize() (models.RawEvent, error) {
	ev := models.RawEvent{
		OrgID:     r.OrgID,
		SessionID: r.SessionID,
		Timestamp: r.OccurredAt,
		Payload:   r.Payload,
	}

	switch r.Table {
	case TableTraffic:
		ev.Kind = models.EventKind(r.Kind)
	case TableOrders:
		ev.Kind = models.KindOrderCompleted
		if r.Payload == nil {
			return models.RawEvent{}, fmt.Errorf("order row missing payload")
		}
	case TableTickets:
		ev.Kind = models.KindTicketIssued
	default:
		return models.RawEvent{}, fmt.Errorf("unknown change-feed table %q", r.Table)
	}

	if err := ev.Validate(); err != nil {
		return models.RawEvent{}, err
	}
	return ev, nil
}
