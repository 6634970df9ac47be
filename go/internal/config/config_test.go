package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if config.TCPAddr() != "127.0.0.1:5000" {
		t.Errorf("TCPAddr = %q", config.TCPAddr())
	}
	if config.HTTPAddr() != ":8081" {
		t.Errorf("HTTPAddr = %q", config.HTTPAddr())
	}
	if config.Server.MaxPlayers != 2 {
		t.Errorf("MaxPlayers = %d", config.Server.MaxPlayers)
	}
	if config.Client.SyncInterval != 3*time.Second {
		t.Errorf("SyncInterval = %s", config.Client.SyncInterval)
	}
	if config.Server.FlushInterval != 100*time.Millisecond {
		t.Errorf("FlushInterval = %s", config.Server.FlushInterval)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordersync.yaml")
	yamlData := `
server:
  tcp_port: 6000
  flush_interval: 250ms
client:
  max_drift: 0.02
  latency_max: 1s
nats:
  url: nats://localhost:4222
log_level: debug
`
	if err := os.WriteFile(path, []byte(yamlData), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	config := Default()
	if err := config.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if config.Server.TCPPort != 6000 {
		t.Errorf("TCPPort = %d", config.Server.TCPPort)
	}
	if config.Server.FlushInterval != 250*time.Millisecond {
		t.Errorf("FlushInterval = %s", config.Server.FlushInterval)
	}
	if config.Client.MaxDrift != 0.02 {
		t.Errorf("MaxDrift = %v", config.Client.MaxDrift)
	}
	if config.Client.LatencyMax != time.Second {
		t.Errorf("LatencyMax = %s", config.Client.LatencyMax)
	}
	if config.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS URL = %q", config.NATS.URL)
	}
	if config.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", config.LogLevel)
	}
	// untouched keys keep their defaults
	if config.Server.HTTPPort != 8081 || config.Client.SyncInterval != 3*time.Second {
		t.Errorf("defaults lost: %+v", config)
	}
}

func TestLoadFileErrors(t *testing.T) {
	config := Default()
	if err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := config.LoadFile(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordersync.yaml")
	if err := os.WriteFile(path, []byte("server:\n  tcp_port: 6000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("SYNC_INTERVAL", "1500ms")
	t.Setenv("MAX_DRIFT", "0.005")
	t.Setenv("SERVER_WS_URL", "ws://localhost:8081/ws")
	t.Setenv("MAX_PLAYERS", "not-a-number")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if config.Server.TCPPort != 7000 {
		t.Errorf("TCPPort = %d, want env value", config.Server.TCPPort)
	}
	if config.Client.SyncInterval != 1500*time.Millisecond {
		t.Errorf("SyncInterval = %s", config.Client.SyncInterval)
	}
	if config.Client.MaxDrift != 0.005 {
		t.Errorf("MaxDrift = %v", config.Client.MaxDrift)
	}
	if config.Client.WSURL != "ws://localhost:8081/ws" {
		t.Errorf("WSURL = %q", config.Client.WSURL)
	}
	if config.Server.MaxPlayers != 2 {
		t.Errorf("invalid MAX_PLAYERS should be ignored, got %d", config.Server.MaxPlayers)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing CONFIG_FILE")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tcp port", func(c *Config) { c.Server.TCPPort = 0 }},
		{"no players", func(c *Config) { c.Server.MaxPlayers = 0 }},
		{"tiny records", func(c *Config) { c.Server.MaxRecordSize = 8 }},
		{"unbuffered send queue", func(c *Config) { c.Server.SendBufferSize = 0 }},
		{"zero flush interval", func(c *Config) { c.Server.FlushInterval = 0 }},
		{"negative poll interval", func(c *Config) { c.Server.PollInterval = -time.Millisecond }},
		{"zero sync interval", func(c *Config) { c.Client.SyncInterval = 0 }},
		{"zero tick", func(c *Config) { c.Client.TickInterval = 0 }},
		{"negative drift", func(c *Config) { c.Client.MaxDrift = -0.1 }},
		{"inverted latency", func(c *Config) {
			c.Client.LatencyMin = time.Second
			c.Client.LatencyMax = time.Millisecond
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			if err := config.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should be valid: %v", err)
	}
}

func TestLoadRejectsUnbufferedSendQueue(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SEND_BUFFER_SIZE", "0")
	if _, err := Load(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestHTTPAddrDisabled(t *testing.T) {
	config := Default()
	config.Server.HTTPPort = 0
	if addr := config.HTTPAddr(); addr != "" {
		t.Errorf("HTTPAddr = %q, want empty", addr)
	}
}

func TestSetupLogging(t *testing.T) {
	defer func(prev zerolog.Level, logger zerolog.Logger) {
		zerolog.SetGlobalLevel(prev)
		log.Logger = logger
	}(zerolog.GlobalLevel(), log.Logger)

	var buf bytes.Buffer
	setupLogging(&buf, "warn")
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("level = %s", zerolog.GlobalLevel())
	}

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}

	setupLogging(&buf, "loud")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("unknown level should fall back to info, got %s", zerolog.GlobalLevel())
	}
}
