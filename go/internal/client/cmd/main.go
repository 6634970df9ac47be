package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ordersync/go/internal/client"
	"github.com/mcdev12/ordersync/go/internal/clock"
	"github.com/mcdev12/ordersync/go/internal/config"
	"github.com/mcdev12/ordersync/go/internal/protocol"
	"github.com/mcdev12/ordersync/go/internal/timesync"
	"github.com/mcdev12/ordersync/go/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	config.SetupLogging(cfg.LogLevel)

	name := cfg.Client.PlayerName

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	local := clock.New(
		clock.WithTickInterval(cfg.Client.TickInterval),
		clock.WithMaxDrift(cfg.Client.MaxDrift),
	)
	local.Start()
	defer local.Stop()

	transportCfg := transport.DefaultConfig()
	transportCfg.MaxRecordSize = cfg.Server.MaxRecordSize

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, cfg.TCPAddr(), cfg.Client.WSURL, transportCfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.TCPAddr()).Msg("connect to server")
	}
	defer conn.Close()

	session := client.NewSession(conn, local, client.Config{
		SyncInterval: cfg.Client.SyncInterval,
		PollInterval: cfg.Server.PollInterval,
		LatencyMin:   cfg.Client.LatencyMin,
		LatencyMax:   cfg.Client.LatencyMax,
	}, client.Handlers{
		OnWelcome: func(playerID int) {
			fmt.Printf("[%s] Connected as Player %d\n", name, playerID)
		},
		OnSync: func(s timesync.Sample) {
			fmt.Printf("[%s] Clock sync Δ=%.4f RTT=%.4f\n", name, s.Delta, s.RTT)
		},
		OnBroadcast: func(b protocol.ActionBroadcast) {
			fmt.Printf("[%s] ACTION: Player %d -> %s (ts=%.4f)\n", name, b.PlayerID, b.Action, b.Timestamp)
		},
	})

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	lines := make(chan string)
	go readLines(lines)

	fmt.Printf("[%s] Enter actions (move, shoot, pickup). Type 'quit' to exit.\n", name)

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("[%s] Exiting...\n", name)
			return

		case err := <-runDone:
			if err != nil && !errors.Is(err, transport.ErrDisconnected) {
				log.Error().Err(err).Msg("session ended")
			}
			fmt.Printf("[%s] Disconnected\n", name)
			return

		case line, ok := <-lines:
			if !ok || strings.EqualFold(strings.TrimSpace(line), "quit") {
				fmt.Printf("[%s] Exiting...\n", name)
				return
			}
			if _, err := session.SubmitAction(ctx, line); err != nil && !errors.Is(err, client.ErrEmptyAction) {
				log.Error().Err(err).Msg("failed to send action")
			}
		}
	}
}

// readLines feeds stdin to lines and closes it at end of input
func readLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
