// Package api exposes the control plane's thin, explicitly out-of-core HTTP
// status surface (spec.md §1): a WebSocket bridge that lets an operator UI
// watch the Message Bus from outside the process. The health endpoint is
// registered by cmd/blueflame, not by this package.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
)

// WSHub bridges an in-process Message Bus to any number of external
// WebSocket observers. Unlike the bus's in-process subscribers, a dropped
// connection unsubscribes rather than silently losing writes.
type WSHub struct {
	eventBus *bus.Bus
}

// NewWSHub creates a hub fanning out b's events to WebSocket clients.
func NewWSHub(b *bus.Bus) *WSHub {
	return &WSHub{eventBus: b}
}

// HandleWS upgrades the request and streams every governance event
// published on the bus to the client as JSON until it disconnects.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // operator UI may be served from a different origin in dev
	})
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sub := h.eventBus.Subscribe()
	defer sub.Unsubscribe()

	if err := wsjson.Write(ctx, conn, bus.NewEvent(bus.EventTaskUpdate, map[string]any{
		"message": "connected to blueflame event stream",
	})); err != nil {
		return
	}

	go h.drainPings(ctx, conn)

	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			conn.Close(websocket.StatusNormalClosure, "bus closed")
			return
		}
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			slog.Debug("websocket write failed, dropping client", "error", err)
			return
		}
	}
}

// drainPings reads and discards client frames so the connection's read
// deadline keeps advancing; the hub is push-only and ignores message content.
func (h *WSHub) drainPings(ctx context.Context, conn *websocket.Conn) {
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}
