package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ordersync/go/internal/config"
	"github.com/mcdev12/ordersync/go/internal/eventbus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	config.SetupLogging(cfg.LogLevel)

	busCfg := eventbus.DefaultConfig()
	if cfg.NATS.URL != "" {
		busCfg.URL = cfg.NATS.URL
	}
	busCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

	nc, err := eventbus.Connect(busCfg, "ordersync-tap")
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subscriber := eventbus.NewSubscriber(nc, busCfg.SubjectPrefix)
	err = subscriber.Run(ctx, func(env eventbus.Envelope) {
		fmt.Fprintf(os.Stdout, "[#%d batch %d] Player %d -> %s (ts=%.3f)\n",
			env.Sequence, env.Batch, env.Event.PlayerID, env.Event.Action, env.Event.ClientTimestamp)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("tap exited unexpectedly")
	}
	log.Info().Msg("tap stopped")
}
