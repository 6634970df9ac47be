package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the loaded settings cannot run a session
var ErrInvalid = errors.New("invalid config")

// Config holds the settings shared by the server, the client and the tap.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Client   ClientConfig `yaml:"client"`
	NATS     NATSConfig   `yaml:"nats"`
	LogLevel string       `yaml:"log_level"`
}

// ServerConfig holds listener and ordering settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	TCPPort        int           `yaml:"tcp_port"`
	HTTPPort       int           `yaml:"http_port"`
	MaxPlayers     int           `yaml:"max_players"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	SendBufferSize int           `yaml:"send_buffer_size"`
	MaxRecordSize  int           `yaml:"max_record_size"`
}

// ClientConfig holds the participant's clock and sync settings.
type ClientConfig struct {
	PlayerName   string        `yaml:"player_name"`
	WSURL        string        `yaml:"ws_url"`
	TickInterval time.Duration `yaml:"tick_interval"`
	MaxDrift     float64       `yaml:"max_drift"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	LatencyMin   time.Duration `yaml:"latency_min"`
	LatencyMax   time.Duration `yaml:"latency_max"`
}

// NATSConfig holds the ordered-stream mirror settings. An empty URL
// disables the mirror on the server.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			TCPPort:        5000,
			HTTPPort:       8081,
			MaxPlayers:     2,
			FlushInterval:  100 * time.Millisecond,
			PollInterval:   100 * time.Millisecond,
			SendBufferSize: 256,
			MaxRecordSize:  4096,
		},
		Client: ClientConfig{
			PlayerName:   "player",
			TickInterval: 50 * time.Millisecond,
			MaxDrift:     0.01,
			SyncInterval: 3 * time.Second,
			LatencyMin:   50 * time.Millisecond,
			LatencyMax:   500 * time.Millisecond,
		},
		NATS: NATSConfig{
			SubjectPrefix: "ordersync.actions",
		},
		LogLevel: "info",
	}
}

// Load reads .env, then the YAML file named by CONFIG_FILE if set, then
// environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	config := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := config.LoadFile(path); err != nil {
			return nil, err
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.TCPPort = getEnvAsInt("SERVER_PORT", c.Server.TCPPort)
	c.Server.HTTPPort = getEnvAsInt("HTTP_PORT", c.Server.HTTPPort)
	c.Server.MaxPlayers = getEnvAsInt("MAX_PLAYERS", c.Server.MaxPlayers)
	c.Server.FlushInterval = getEnvAsDuration("FLUSH_INTERVAL", c.Server.FlushInterval)
	c.Server.PollInterval = getEnvAsDuration("POLL_INTERVAL", c.Server.PollInterval)
	c.Server.SendBufferSize = getEnvAsInt("SEND_BUFFER_SIZE", c.Server.SendBufferSize)
	c.Server.MaxRecordSize = getEnvAsInt("MAX_RECORD_SIZE", c.Server.MaxRecordSize)

	c.Client.PlayerName = getEnv("PLAYER_NAME", c.Client.PlayerName)
	c.Client.WSURL = getEnv("SERVER_WS_URL", c.Client.WSURL)
	c.Client.TickInterval = getEnvAsDuration("TICK_INTERVAL", c.Client.TickInterval)
	c.Client.MaxDrift = getEnvAsFloat("MAX_DRIFT", c.Client.MaxDrift)
	c.Client.SyncInterval = getEnvAsDuration("SYNC_INTERVAL", c.Client.SyncInterval)
	c.Client.LatencyMin = getEnvAsDuration("LATENCY_MIN", c.Client.LatencyMin)
	c.Client.LatencyMax = getEnvAsDuration("LATENCY_MAX", c.Client.LatencyMax)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate rejects settings no session could run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.TCPPort <= 0 || c.Server.TCPPort > 65535:
		return fmt.Errorf("%w: tcp port %d", ErrInvalid, c.Server.TCPPort)
	case c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535:
		return fmt.Errorf("%w: http port %d", ErrInvalid, c.Server.HTTPPort)
	case c.Server.MaxPlayers < 1:
		return fmt.Errorf("%w: max players must be at least 1", ErrInvalid)
	case c.Server.SendBufferSize < 1:
		return fmt.Errorf("%w: send buffer size must be at least 1", ErrInvalid)
	case c.Server.FlushInterval <= 0:
		return fmt.Errorf("%w: flush interval must be positive", ErrInvalid)
	case c.Server.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalid)
	case c.Client.SyncInterval <= 0:
		return fmt.Errorf("%w: sync interval must be positive", ErrInvalid)
	case c.Server.MaxRecordSize < 64:
		return fmt.Errorf("%w: max record size %d too small", ErrInvalid, c.Server.MaxRecordSize)
	case c.Client.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalid)
	case c.Client.MaxDrift < 0:
		return fmt.Errorf("%w: max drift must not be negative", ErrInvalid)
	case c.Client.LatencyMin < 0 || c.Client.LatencyMax < c.Client.LatencyMin:
		return fmt.Errorf("%w: latency range [%s, %s]", ErrInvalid, c.Client.LatencyMin, c.Client.LatencyMax)
	}
	return nil
}

// TCPAddr is the address participants dial.
func (c *Config) TCPAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.TCPPort))
}

// HTTPAddr is the gateway listen address; empty when the gateway is off.
func (c *Config) HTTPAddr() string {
	if c.Server.HTTPPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.Server.HTTPPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer environment value")
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-numeric environment value")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration environment value")
	}
	return defaultValue
}
