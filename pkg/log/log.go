package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithPeerID creates a child logger with peer_id field
func WithPeerID(peerID string) zerolog.Logger {
	return Logger.With().Str("peer_id", peerID).Logger()
}

// WithShard creates a child logger with shard_id field
func WithShard(shardID string) zerolog.Logger {
	return Logger.With().Str("shard_id", shardID).Logger()
}

// WithDatacenter creates a child logger with datacenter_id field
func WithDatacenter(dcID string) zerolog.Logger {
	return Logger.With().Str("datacenter_id", dcID).Logger()
}

// WithRound creates a child logger with round field, for consensus logging
// scoped to a single proposal round.
func WithRound(round uint64) zerolog.Logger {
	return Logger.With().Uint64("round", round).Logger()
}

// Err starts an error-level event for err, attaching kind, retryable and
// (when set) correlation_id when err is an *aerolitherrors.Error so every logged
// failure carries the same fields a caller would see in the returned error.
func Err(logger zerolog.Logger, err error) *zerolog.Event {
	ev := logger.Error().Err(err)
	var aerr *aerolitherrors.Error
	if errors.As(err, &aerr) {
		ev = ev.Str("kind", string(aerr.Kind)).Bool("retryable", aerr.Kind.Retryable())
		if aerr.CorrelationID != "" {
			ev = ev.Str("correlation_id", aerr.CorrelationID)
		}
	}
	return ev
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
