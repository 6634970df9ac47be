package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/ordersync/go/internal/ordering"
	"github.com/mcdev12/ordersync/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler serves browser participants and the monitoring endpoints
type WebSocketHandler struct {
	ctx               context.Context
	connectionManager *ConnectionManager
	stats             *ordering.Stats
	upgrader          websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. Upgraded connections
// live until ctx is cancelled or the participant leaves.
func NewWebSocketHandler(ctx context.Context, cm *ConnectionManager, stats *ordering.Stats) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:               ctx,
		connectionManager: cm,
		stats:             stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins in development - restrict in production
				return true
			},
		},
	}
}

// HandleParticipant upgrades the request and serves it as a participant
func (h *WebSocketHandler) HandleParticipant(w http.ResponseWriter, r *http.Request) {
	if h.connectionManager.Full() {
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := transport.NewWSConn(ws, h.connectionManager.config.Transport, h.connectionManager.clock)
	if err := h.connectionManager.Serve(h.ctx, conn); err != nil {
		log.Debug().Err(err).Str("remote_addr", conn.RemoteAddr()).Msg("websocket participant rejected")
	}
}

// HandleStats returns statistics about participants and flushed batches
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()
	if h.stats != nil {
		stats["ordering"] = h.stats.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// HandleMetrics exports the counters in Prometheus text format
func (h *WebSocketHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if _, err := w.Write([]byte(NewPrometheusExporter(h.connectionManager, h.stats).Export())); err != nil {
		log.Error().Err(err).Msg("failed to write metrics response")
	}
}

// HandleHealth reports liveness
func (h *WebSocketHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

// RegisterRoutes registers WebSocket and monitoring routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleParticipant)
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", h.HandleHealth)
}
