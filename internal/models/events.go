// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package models

import (
	"fmt"
	"time"
)

// EventKind identifies the type of a normalized change-feed event.
type EventKind string

const (
	KindLanding        EventKind = "landing"
	KindTicketsView    EventKind = "tickets_view"
	KindAddToCart      EventKind = "add_to_cart"
	KindCheckoutStart  EventKind = "checkout_start"
	KindPurchase       EventKind = "purchase"
	KindOrderCompleted EventKind = "order_completed"
	KindTicketIssued   EventKind = "ticket_issued"
	KindCustom         EventKind = "custom"
)

// Category is a presence window category. A session is "active" in a
// category while it has been seen within that category's window.
type Category string

const (
	CategoryVisitor  Category = "visitor"
	CategoryCart     Category = "cart"
	CategoryCheckout Category = "checkout"
)

// Categories lists all presence categories in display order.
var Categories = []Category{CategoryVisitor, CategoryCart, CategoryCheckout}

// Stage is a cumulative daily funnel stage.
type Stage string

const (
	StageLanding   Stage = "landing"
	StageTickets   Stage = "tickets"
	StageAddToCart Stage = "add_to_cart"
	StageCheckout  Stage = "checkout"
	StagePurchase  Stage = "purchase"
)

// Stages lists all funnel stages in funnel order.
var Stages = []Stage{StageLanding, StageTickets, StageAddToCart, StageCheckout, StagePurchase}

// EventPayload carries the optional human-facing fields of an event.
type EventPayload struct {
	EventName    string  `json:"event_name,omitempty"`
	ProductName  string  `json:"product_name,omitempty"`
	ProductPrice float64 `json:"product_price,omitempty"`
	OrderTotal   float64 `json:"order_total,omitempty"`
	OrderNumber  string  `json:"order_number,omitempty"`
	TicketCount  int     `json:"ticket_count,omitempty"`
}

// RawEvent is the canonical normalized event flowing from the ingestor
// and the reconciler into a tenant's aggregator. Immutable once created.
type RawEvent struct {
	Kind      EventKind     `json:"kind"`
	SessionID string        `json:"session_id"`
	OrgID     string        `json:"org_id"`
	Timestamp time.Time     `json:"timestamp"`
	Payload   *EventPayload `json:"payload,omitempty"`
}

// Validate checks required fields and returns an error if validation fails.
func (e *RawEvent) Validate() error {
	if e.OrgID == "" {
		return fmt.Errorf("raw event missing org_id")
	}
	if e.Kind == "" {
		return fmt.Errorf("raw event missing kind")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("raw event missing timestamp")
	}
	switch e.Kind {
	case KindLanding, KindTicketsView, KindAddToCart, KindCheckoutStart, KindPurchase, KindCustom:
		if e.SessionID == "" {
			return fmt.Errorf("traffic event %q missing session_id", e.Kind)
		}
	case KindOrderCompleted, KindTicketIssued:
		// Order-side events have no session semantics.
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// StageForKind maps a traffic event kind to its funnel stage.
// The dashboard conflates "checkout" and "checkout_start" into one stage.
// Returns false for kinds that do not advance the funnel.
func StageForKind(kind EventKind) (Stage, bool) {
	switch kind {
	case KindLanding:
		return StageLanding, true
	case KindTicketsView:
		return StageTickets, true
	case KindAddToCart:
		return StageAddToCart, true
	case KindCheckoutStart:
		return StageCheckout, true
	case KindPurchase:
		return StagePurchase, true
	default:
		return "", false
	}
}

// CategoryForKind maps a traffic event kind to the presence category it
// refreshes. Returns false for kinds with no presence semantics.
func CategoryForKind(kind EventKind) (Category, bool) {
	switch kind {
	case KindLanding, KindTicketsView, KindCustom:
		return CategoryVisitor, true
	case KindAddToCart:
		return CategoryCart, true
	case KindCheckoutStart:
		return CategoryCheckout, true
	case KindPurchase:
		// A purchase is still visitor activity; cart/checkout presence is
		// suppressed separately via the purchased set.
		return CategoryVisitor, true
	default:
		return "", false
	}
}
