package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnectionStatus reports whether an external connection is up.
// *nats.Conn satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

type HealthStatus struct {
	Healthy          bool      `json:"healthy"`
	Players          int       `json:"players"`
	PendingEvents    int       `json:"pending_events"`
	LastFlushAt      time.Time `json:"last_flush_at"`
	SchedulerRunning bool      `json:"scheduler_running"`
	NATSConnected    *bool     `json:"nats_connected,omitempty"`
	Errors           []string  `json:"errors"`
}

type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// ServiceHealthChecker reports readiness of an ordering server. The server
// is unhealthy when its flush loop is not running, when the oldest pending
// event has waited longer than threshold, or when the NATS mirror has lost
// its connection.
type ServiceHealthChecker struct {
	service   *Service
	threshold time.Duration
}

func NewServiceHealthChecker(service *Service, threshold time.Duration) *ServiceHealthChecker {
	return &ServiceHealthChecker{service: service, threshold: threshold}
}

func (h *ServiceHealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:          true,
		Players:          len(h.service.connectionManager.Players()),
		PendingEvents:    h.service.buffer.Len(),
		LastFlushAt:      h.service.stats.Snapshot().LastFlushAt,
		SchedulerRunning: h.service.schedulerRunning.Load(),
		Errors:           []string{},
	}

	if !status.SchedulerRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "flush scheduler not running")
	}

	if nc := h.service.natsStatus; nc != nil {
		connected := nc.IsConnected()
		status.NATSConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	// Pending events that outlive several flush periods mean the loop is stuck
	if oldest, ok := h.service.buffer.OldestPending(); ok {
		if waited := h.service.clock.Since(oldest); waited > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("oldest pending event has waited %s", waited.Round(time.Millisecond)))
		}
	}

	return status
}

// HTTP handler helper
func (h *ServiceHealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write readiness response")
	}
}
