// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package changefeed

import (
	"testing"
	"time"

	"github.com/ticketpulse/ticketpulse/internal/models"
)

func TestDecodeRow(t *testing.T) {
	data := []byte(`{
		"table": "traffic_events",
		"org_id": "org-1",
		"kind": "add_to_cart",
		"session_id": "s1",
		"occurred_at": "2026-03-14T12:00:00Z",
		"payload": {"product_name": "Tee", "product_price": 25}
	}`)

	row, err := DecodeRow(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if row.Table != TableTraffic || row.Kind != "add_to_cart" || row.SessionID != "s1" {
		t.Errorf("row = %+v", row)
	}
	if row.Payload == nil || row.Payload.ProductName != "Tee" || row.Payload.ProductPrice != 25 {
		t.Errorf("payload = %+v", row.Payload)
	}
}

func TestDecodeRow_Malformed(t *testing.T) {
	if _, err := DecodeRow([]byte(`{"table": `)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestNormalize(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		row      Row
		wantKind models.EventKind
		wantErr  bool
	}{
		{
			name:     "traffic landing",
			row:      Row{Table: TableTraffic, OrgID: "org-1", Kind: "landing", SessionID: "s1", OccurredAt: at},
			wantKind: models.KindLanding,
		},
		{
			name:     "traffic purchase",
			row:      Row{Table: TableTraffic, OrgID: "org-1", Kind: "purchase", SessionID: "s1", OccurredAt: at},
			wantKind: models.KindPurchase,
		},
		{
			name: "order row implies order_completed",
			row: Row{Table: TableOrders, OrgID: "org-1", OccurredAt: at,
				Payload: &models.EventPayload{OrderTotal: 120, OrderNumber: "TP-1001"}},
			wantKind: models.KindOrderCompleted,
		},
		{
			name:     "ticket row implies ticket_issued",
			row:      Row{Table: TableTickets, OrgID: "org-1", OccurredAt: at, Payload: &models.EventPayload{TicketCount: 2}},
			wantKind: models.KindTicketIssued,
		},
		{
			name:    "unknown table",
			row:     Row{Table: "refunds", OrgID: "org-1", OccurredAt: at},
			wantErr: true,
		},
		{
			name:    "traffic row with unknown kind",
			row:     Row{Table: TableTraffic, OrgID: "org-1", Kind: "teleport", SessionID: "s1", OccurredAt: at},
			wantErr: true,
		},
		{
			name:    "traffic row without session",
			row:     Row{Table: TableTraffic, OrgID: "org-1", Kind: "landing", OccurredAt: at},
			wantErr: true,
		},
		{
			name:    "order row without payload",
			row:     Row{Table: TableOrders, OrgID: "org-1", OccurredAt: at},
			wantErr: true,
		},
		{
			name:    "missing org",
			row:     Row{Table: TableTraffic, Kind: "landing", SessionID: "s1", OccurredAt: at},
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			row:     Row{Table: TableTraffic, OrgID: "org-1", Kind: "landing", SessionID: "s1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := tt.row.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize() = %+v, want error", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error: %v", err)
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", ev.Kind, tt.wantKind)
			}
			if ev.OrgID != tt.row.OrgID || !ev.Timestamp.Equal(at) {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}
