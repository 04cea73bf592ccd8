package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPollInterval bounds how long one connection loop iteration waits for inbound bytes.
	// It stays well under a millisecond so request/response traffic feels synchronous locally.
	DefaultPollInterval = 100 * time.Microsecond

	// DefaultAcceptInterval bounds how long the accept loop blocks before it rechecks its quit flag.
	DefaultAcceptInterval = 10 * time.Millisecond

	// DefaultWriteTimeout bounds a single frame write so a peer that stops reading cannot pin
	// the I/O goroutine past Stop.
	DefaultWriteTimeout = 10 * time.Second
)

// Config holds the polling intervals and logger shared by connections and listeners.
type Config struct {
	PollInterval   time.Duration
	AcceptInterval time.Duration
	WriteTimeout   time.Duration
	// DialTimeout limits StartClient's connect phase. Zero leaves it to the operating system.
	DialTimeout time.Duration
	Logger      *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		AcceptInterval: DefaultAcceptInterval,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.AcceptInterval <= 0 {
		c.AcceptInterval = DefaultAcceptInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
