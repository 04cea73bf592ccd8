// Package logging builds the zap loggers used by the worker and host binaries.
//
// A profile picks the defaults; environment variables override them last:
//
//	PACKETRPC_LOG_LEVEL  debug | info | warn | error | off
//	PACKETRPC_LOG_DEV    true selects the human-readable console encoder
package logging

import (
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel = "PACKETRPC_LOG_LEVEL"
	EnvLogDev   = "PACKETRPC_LOG_DEV"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileDevelopment
)

// Config is the [log] section of the config file.
type Config struct {
	Level       string
	Development bool
}

// New builds a logger for profile, applying cfg and then the environment overrides.
// A level of "off" returns a no-op logger.
func New(profile Profile, cfg Config) (*zap.Logger, error) {
	applyEnvOverrides(&cfg)

	level, enabled := parseLevel(cfg.Level)
	if !enabled {
		return zap.NewNop(), nil
	}

	var zc zap.Config
	if cfg.Development || profile == ProfileDevelopment {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout carries the host's CLI output; logs stay on stderr.
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func applyEnvOverrides(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		cfg.Level = raw
	}
	if v, ok := parseBool(os.Getenv(EnvLogDev)); ok {
		cfg.Development = v
	}
}

// parseLevel maps a level name to a zap level. The second result is false when logging is off.
// Unknown names fall back to info.
func parseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "disabled", "off", "none":
		return zapcore.InfoLevel, false
	default:
		return zapcore.InfoLevel, true
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
