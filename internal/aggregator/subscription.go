// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

package aggregator

import (
	"github.com/ticketpulse/ticketpulse/internal/metrics"
	"github.com/ticketpulse/ticketpulse/internal/models"
)

// Subscription is one dashboard client's handle onto an actor's snapshot
// stream. The first value on Updates is the snapshot current at subscribe
// time; subsequent values follow every publish. The channel is closed on
// Close or actor shutdown.
type Subscription struct {
	actor *Actor
	ch    chan models.DashboardSnapshot

	// onClose is set by the registry so tenant refcounts track
	// subscription lifetimes; may be nil.
	onClose func()
}

func newSubscription(a *Actor, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscription{
		actor: a,
		ch:    make(chan models.DashboardSnapshot, buffer),
	}
}

// Updates returns the snapshot stream, newest last. A consumer that falls
// behind loses its oldest pending snapshots, never the newest.
func (s *Subscription) Updates() <-chan models.DashboardSnapshot {
	return s.ch
}

// Close unregisters the subscription. Safe to call after actor shutdown;
// the channel is closed by whichever side wins.
func (s *Subscription) Close() {
	select {
	case s.actor.inbox <- unsubscribeMsg{sub: s}:
	case <-s.actor.done:
	}
	if s.onClose != nil {
		s.onClose()
		s.onClose = nil
	}
}

// deliver enqueues a snapshot without ever blocking the actor: when the
// subscriber's queue is full, its oldest pending snapshot is dropped to
// make room (lossy-newest-wins). Called only from the actor goroutine.
func (s *Subscription) deliver(snap models.DashboardSnapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
			metrics.DroppedSnapshots.WithLabelValues(s.actor.orgID).Inc()
		default:
			// Consumer drained it concurrently; retry the send.
		}
	}
}
