// TicketPulse - Real-Time Funnel and Presence Aggregation
// Copyright 2026 TicketPulse Ltd.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ticketpulse/ticketpulse

// Package websocket streams dashboard snapshots to browser clients. Each
// connection is bound to one tenant subscription; slow consumers shed
// stale snapshots upstream in the subscription rather than stalling the
// engine.
package websocket

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/ticketpulse/ticketpulse/internal/aggregator"
	"github.com/ticketpulse/ticketpulse/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 // clients only send pings
)

// Message types sent over the wire.
const (
	MessageTypeSnapshot = "snapshot"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the wire envelope for dashboard traffic.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client bridges one websocket connection onto one tenant subscription.
type Client struct {
	orgID string
	conn  *websocket.Conn
	sub   *aggregator.Subscription
	send  chan Message
}

// NewClient wraps an upgraded connection. The caller passes ownership of
// both the connection and the subscription; Run closes them.
func NewClient(orgID string, conn *websocket.Conn, sub *aggregator.Subscription) *Client {
	return &Client{
		orgID: orgID,
		conn:  conn,
		sub:   sub,
		send:  make(chan Message, 16),
	}
}

// Run serves the connection until the client disconnects, the
// subscription ends, or the context is canceled. Blocks; call from the
// HTTP handler goroutine.
func (c *Client) Run(ctx context.Context) {
	defer c.sub.Close()
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(cancel)
	go c.readPump(cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-c.sub.Updates():
			if !ok {
				// Tenant torn down; tell the client before closing.
				c.sendClose()
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				logging.Err(err).Str("org", c.orgID).Msg("marshal snapshot")
				continue
			}
			select {
			case c.send <- Message{Type: MessageTypeSnapshot, Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// readPump consumes client frames. Dashboards only send pings; anything
// unparseable is ignored. Pong handling keeps the read deadline fresh.
func (c *Client) readPump(cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Err(err).Msg("set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("org", c.orgID).Msg("websocket closed unexpectedly")
			}
			return
		}
		if msg.Type == MessageTypePing {
			select {
			case c.send <- Message{Type: MessageTypePong}:
			default:
			}
		}
	}
}

// writePump writes queued messages and keepalive pings.
func (c *Client) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logging.Err(err).Msg("marshal websocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "tenant shutting down"))
}
