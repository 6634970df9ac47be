package gateway

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/mcdev12/ordersync/go/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"
)

// ServeTCP accepts line-framed participants from ln until ctx is cancelled.
// At most MaxPlayers sockets are accepted at a time; further dialers wait in
// the listen backlog until a slot frees up.
func (s *Service) ServeTCP(ctx context.Context, ln net.Listener) error {
	if max := s.config.ConnectionConfig.MaxPlayers; max > 0 {
		ln = netutil.LimitListener(ln, max)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("TCP listener stopped")
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			s.clock.Sleep(50 * time.Millisecond)
			continue
		}

		lineConn := transport.NewLineConn(conn, s.config.ConnectionConfig.Transport)
		go func() {
			_ = s.connectionManager.Serve(ctx, lineConn)
		}()
	}
}
