// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package aggregator

import "errors"

var (
	// ErrInvalidOrg is returned synchronously at Subscribe time for an
	// org id the engine refuses to build an actor for. The only
	// unrecoverable condition in the engine.
	ErrInvalidOrg = errors.New("invalid org id")

	// ErrActorStopped is returned when a tenant actor has shut down.
	ErrActorStopped = errors.New("tenant aggregator stopped")

	// ErrRegistryClosed is returned after the registry itself shut down.
	ErrRegistryClosed = errors.New("tenant registry closed")
)
