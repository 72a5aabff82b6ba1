// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package activity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ticketpulse/ticketpulse/internal/models"
)

// Describe turns a normalized event into the human-readable activity
// item the dashboard feed shows. Returns false for kinds with no feed
// representation.
func Describe(ev models.RawEvent, currencySymbol string) (models.ActivityItem, bool) {
	item := models.ActivityItem{
		ID:        uuid.New().String(),
		Kind:      ev.Kind,
		Timestamp: ev.Timestamp,
	}

	p := ev.Payload
	switch ev.Kind {
	case models.KindLanding:
		item.Title = "New visitor landed"
	case models.KindTicketsView:
		item.Title = "Viewed tickets"
	case models.KindAddToCart:
		item.Title = "Added to cart"
		if p != nil && p.ProductName != "" {
			item.Title = fmt.Sprintf("Added %s to cart", p.ProductName)
		}
		if p != nil && p.ProductPrice > 0 {
			item.Amount = FormatAmount(currencySymbol, p.ProductPrice)
		}
	case models.KindCheckoutStart:
		item.Title = "Started checkout"
	case models.KindPurchase:
		item.Title = "Completed a purchase"
		if p != nil && p.ProductName != "" {
			item.Title = fmt.Sprintf("Purchased %s", p.ProductName)
		}
		if p != nil && p.OrderTotal > 0 {
			item.Amount = FormatAmount(currencySymbol, p.OrderTotal)
		} else if p != nil && p.ProductPrice > 0 {
			item.Amount = FormatAmount(currencySymbol, p.ProductPrice)
		}
	case models.KindOrderCompleted:
		item.Title = "Order completed"
		if p != nil && p.OrderNumber != "" {
			item.Title = fmt.Sprintf("Order %s completed", p.OrderNumber)
		}
		if p != nil && p.OrderTotal > 0 {
			item.Amount = FormatAmount(currencySymbol, p.OrderTotal)
		}
	case models.KindTicketIssued:
		item.Title = "Ticket issued"
		if p != nil && p.TicketCount > 1 {
			item.Title = fmt.Sprintf("%d tickets issued", p.TicketCount)
		}
	case models.KindCustom:
		if p == nil || p.EventName == "" {
			return models.ActivityItem{}, false
		}
		item.Title = p.EventName
		item.EventName = p.EventName
	default:
		return models.ActivityItem{}, false
	}

	return item, true
}

// FormatAmount renders a monetary value for the feed, e.g. "£25.00".
func FormatAmount(symbol string, v float64) string {
	if symbol == "" {
		symbol = "£"
	}
	return fmt.Sprintf("%s%.2f", symbol, v)
}
