package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger, configured once by Initialize.
var Log zerolog.Logger

// Initialize configures the global logger. level is a zerolog level name
// ("debug", "info", ...); pretty selects a human-readable console writer
// over structured JSON for development instead of production.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "sequencerd").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

// GetLogger returns the global logger.
func GetLogger() *zerolog.Logger { return &Log }

// Engine is the SequenceEngine's scoped logger.
func Engine() *zerolog.Logger {
	l := Log.With().Str("component", "engine").Logger()
	return &l
}

// Plugin is the PluginLoader/PluginManager's scoped logger.
func Plugin() *zerolog.Logger {
	l := Log.With().Str("component", "plugin").Logger()
	return &l
}

// Config is the ConfigStore's scoped logger.
func Config() *zerolog.Logger {
	l := Log.With().Str("component", "config").Logger()
	return &l
}

// Astro is the AstroScheduler's scoped logger.
func Astro() *zerolog.Logger {
	l := Log.With().Str("component", "astro").Logger()
	return &l
}

// Dispatch is the CommandDispatcher's scoped logger.
func Dispatch() *zerolog.Logger {
	l := Log.With().Str("component", "dispatch").Logger()
	return &l
}
