// Package stream bridges the in-process event bus to WebSocket clients.
// Each connection subscribes to one scenario's price and trade topics and
// receives every event as a JSON message.
package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/investomania/trading-engine/internal/metrics"
	"github.com/investomania/trading-engine/internal/pubsub"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second

	// subBuffer is the per-client event buffer. A client that cannot keep
	// up loses events rather than stalling publishers.
	subBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// Hub serves WebSocket clients from the event bus.
type Hub struct {
	bus *pubsub.Bus
}

// NewHub creates a hub over the given bus.
func NewHub(bus *pubsub.Bus) *Hub {
	return &Hub{bus: bus}
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The
// scenario_id query parameter selects which scenario's events to stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	scenarioID := r.URL.Query().Get("scenario_id")
	if scenarioID == "" {
		http.Error(w, "scenario_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	prices := h.bus.Subscribe(pubsub.PriceTopic(scenarioID), subBuffer)
	trades := h.bus.Subscribe(pubsub.TradeTopic(scenarioID), subBuffer)

	metrics.WebSocketClients.Inc()
	slog.Info("ws client connected", "scenario", scenarioID, "remote", r.RemoteAddr)

	done := make(chan struct{})

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Write pump: forward bus events and ping through proxies.
	go func() {
		defer func() {
			prices.Unsubscribe()
			trades.Unsubscribe()
			conn.Close()
			metrics.WebSocketClients.Dec()
			slog.Info("ws client disconnected", "scenario", scenarioID)
		}()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-prices.C:
				if !ok || !writeEvent(conn, ev) {
					return
				}
			case ev, ok := <-trades.C:
				if !ok || !writeEvent(conn, ev) {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}

func writeEvent(conn *websocket.Conn, ev pubsub.Event) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev) == nil
}
