package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ordersync/go/internal/ordering"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Service is the ordering server: it accepts participants, orders their
// actions and broadcasts every flushed batch.
type Service struct {
	config Config
	clock  clockwork.Clock

	buffer            *ordering.Buffer
	stats             *ordering.Stats
	connectionManager *ConnectionManager
	scheduler         *ordering.Scheduler

	schedulerRunning atomic.Bool
	natsStatus       ConnectionStatus
}

// Config holds configuration for the ordering server
type Config struct {
	ConnectionConfig ConnectionConfig
	FlushInterval    time.Duration
	TCPAddr          string
	HTTPAddr         string
}

// DefaultConfig returns default configuration for the ordering server
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		FlushInterval:    ordering.DefaultFlushInterval,
		TCPAddr:          "127.0.0.1:5000",
		HTTPAddr:         ":8081",
	}
}

// NewService wires the buffer, registry and flush scheduler. The registry is
// always the first sink; extra sinks receive each batch after it.
func NewService(config Config, clock clockwork.Clock, sinks ...ordering.Sink) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	stats := ordering.NewStats(clock)
	buffer := ordering.NewBuffer(clock, stats)
	connectionManager := NewConnectionManager(config.ConnectionConfig, buffer, clock)

	all := append([]ordering.Sink{connectionManager}, sinks...)
	scheduler := ordering.NewScheduler(buffer, clock, config.FlushInterval, stats, all...)

	return &Service{
		config:            config,
		clock:             clock,
		buffer:            buffer,
		stats:             stats,
		connectionManager: connectionManager,
		scheduler:         scheduler,
	}
}

// WatchNATS makes readiness depend on the mirror's connection. Call before
// Start.
func (s *Service) WatchNATS(conn ConnectionStatus) {
	s.natsStatus = conn
}

// Handler returns the HTTP surface: websocket participants and monitoring
func (s *Service) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	NewWebSocketHandler(ctx, s.connectionManager, s.stats).RegisterRoutes(mux)
	mux.Handle("/ready", NewServiceHealthChecker(s, 10*s.flushInterval()))

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// Start runs the server until ctx is cancelled, then shuts down gracefully
func (s *Service) Start(ctx context.Context) error {
	log.Info().
		Str("tcp_addr", s.config.TCPAddr).
		Str("http_addr", s.config.HTTPAddr).
		Int("max_players", s.config.ConnectionConfig.MaxPlayers).
		Dur("flush_interval", s.config.FlushInterval).
		Msg("starting ordering server")

	ln, err := net.Listen("tcp", s.config.TCPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.TCPAddr, err)
	}

	server := &http.Server{
		Addr:              s.config.HTTPAddr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := s.RunScheduler(ctx); err != nil {
			log.Error().Err(err).Msg("flush scheduler failed")
		}
	}()

	go func() {
		defer wg.Done()
		if err := s.ServeTCP(ctx, ln); err != nil {
			log.Error().Err(err).Msg("TCP listener failed")
		}
	}()

	if s.config.HTTPAddr != "" {
		go func() {
			log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("ordering server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.config.HTTPAddr != "" {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}

	wg.Wait()
	log.Info().Msg("ordering server stopped")
	return nil
}

// RunScheduler runs only the flush loop; used when the caller manages the
// listeners itself.
func (s *Service) RunScheduler(ctx context.Context) error {
	s.schedulerRunning.Store(true)
	defer s.schedulerRunning.Store(false)
	return s.scheduler.Run(ctx)
}

func (s *Service) flushInterval() time.Duration {
	if s.config.FlushInterval <= 0 {
		return ordering.DefaultFlushInterval
	}
	return s.config.FlushInterval
}

// GetStats returns statistics about the service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "ordersync"
	stats["pending_events"] = s.buffer.Len()
	stats["ordering"] = s.stats.Snapshot()
	return stats
}
