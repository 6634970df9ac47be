package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ordersync/go/internal/config"
	"github.com/mcdev12/ordersync/go/internal/eventbus"
	"github.com/mcdev12/ordersync/go/internal/gateway"
	"github.com/mcdev12/ordersync/go/internal/ordering"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	config.SetupLogging(cfg.LogLevel)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.TCPAddr = cfg.TCPAddr()
	gatewayConfig.HTTPAddr = cfg.HTTPAddr()
	gatewayConfig.FlushInterval = cfg.Server.FlushInterval
	gatewayConfig.ConnectionConfig.MaxPlayers = cfg.Server.MaxPlayers
	gatewayConfig.ConnectionConfig.PollInterval = cfg.Server.PollInterval
	gatewayConfig.ConnectionConfig.SendBufferSize = cfg.Server.SendBufferSize
	gatewayConfig.ConnectionConfig.Transport.MaxRecordSize = cfg.Server.MaxRecordSize

	clock := clockwork.NewRealClock()

	// Mirror ordered batches onto NATS when configured
	var sinks []ordering.Sink
	var mirror gateway.ConnectionStatus
	if cfg.NATS.URL != "" {
		busCfg := eventbus.DefaultConfig()
		busCfg.URL = cfg.NATS.URL
		busCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		nc, err := eventbus.Connect(busCfg, "ordersync-server")
		if err != nil {
			log.Fatal().Err(err).Msg("connect to NATS")
		}
		defer nc.Close()

		sinks = append(sinks, eventbus.NewPublisher(nc, busCfg.SubjectPrefix, clock))
		mirror = nc
	}

	service := gateway.NewService(gatewayConfig, clock, sinks...)
	if mirror != nil {
		service.WatchNATS(mirror)
	}

	//GRACEFUL SHUTDOWN
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("ordering server failed")
	}
	log.Info().Msg("graceful shutdown complete")
}
