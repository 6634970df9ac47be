package config

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging points the global logger at a console writer on stderr and
// applies level. An unknown level falls back to info.
func SetupLogging(level string) {
	setupLogging(os.Stderr, level)
}

func setupLogging(out io.Writer, level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		if err != nil {
			log.Warn().Str("level", level).Msg("unknown log level, using info")
		}
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
