// Package config loads ledgerctl's configuration from environment
// variables only — grounded on core/pkg/config/config.go's Load(), same
// os.Getenv-with-default shape, no framework.
package config

import (
	"log/slog"
	"os"
	"strconv"
)

// Config holds ledgerctl's runtime configuration.
type Config struct {
	LogLevel                string
	StorePath               string
	IncludeRejectedInTraces bool
}

// Load reads configuration from the environment, falling back to defaults
// for anything unset.
func Load() *Config {
	logLevel := os.Getenv("LEDGER_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	storePath := os.Getenv("LEDGER_STORE_PATH")
	if storePath == "" {
		storePath = "./ledger-data"
	}

	includeRejected, err := strconv.ParseBool(os.Getenv("LEDGER_INCLUDE_REJECTED_IN_TRACES"))
	if err != nil {
		includeRejected = false
	}

	return &Config{
		LogLevel:                logLevel,
		StorePath:               storePath,
		IncludeRejectedInTraces: includeRejected,
	}
}

// SlogLevel translates LogLevel into a slog.Level, defaulting to Info for
// an unrecognized value rather than failing closed — logging misconfig
// should never block a commit.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
