// Package config loads the TOML configuration shared by the worker and host binaries.
//
// Every key is optional. Load starts from Default and overlays only the keys present in the file,
// so an empty file and a missing [section] both mean "defaults".
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"packet-rpc/logging"
	"packet-rpc/transport"
)

type Config struct {
	Transport TransportConfig
	Log       logging.Config
	RPC       RPCConfig
	Worker    WorkerConfig
	Registry  RegistryConfig
	Host      HostConfig
}

type TransportConfig struct {
	PollInterval   time.Duration
	AcceptInterval time.Duration
	WriteTimeout   time.Duration
	DialTimeout    time.Duration
}

// RPCConfig tunes the dispatcher. A RateLimit of zero disables rate limiting.
type RPCConfig struct {
	PollInterval time.Duration
	RateLimit    float64
	RateBurst    int
	LogCalls     bool
}

type WorkerConfig struct {
	Host         string
	Port         int
	FlushTimeout time.Duration
}

// RegistryConfig enables etcd discovery when Endpoints is non-empty.
type RegistryConfig struct {
	Endpoints   []string
	Name        string
	TTL         int64
	Balancer    string
	DialTimeout time.Duration
}

type HostConfig struct {
	Listen    string
	WorkerBin string
}

func Default() Config {
	return Config{
		Transport: TransportConfig{
			PollInterval:   transport.DefaultPollInterval,
			AcceptInterval: transport.DefaultAcceptInterval,
			WriteTimeout:   transport.DefaultWriteTimeout,
		},
		Log: logging.Config{Level: "info"},
		RPC: RPCConfig{
			PollInterval: 100 * time.Microsecond,
			RateBurst:    1,
		},
		Worker: WorkerConfig{
			Host:         "127.0.0.1",
			FlushTimeout: 5 * time.Second,
		},
		Registry: RegistryConfig{
			Name:        "packet-rpc",
			TTL:         10,
			Balancer:    "round_robin",
			DialTimeout: 5 * time.Second,
		},
		Host: HostConfig{
			Listen: "127.0.0.1:0",
		},
	}
}

// TransportFor returns the transport settings with log attached.
func (c Config) TransportFor(log *zap.Logger) transport.Config {
	return transport.Config{
		PollInterval:   c.Transport.PollInterval,
		AcceptInterval: c.Transport.AcceptInterval,
		WriteTimeout:   c.Transport.WriteTimeout,
		DialTimeout:    c.Transport.DialTimeout,
		Logger:         log,
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Transport.PollInterval <= 0 {
		errs = append(errs, errors.New("transport.poll_interval must be positive"))
	}
	if c.Transport.AcceptInterval <= 0 {
		errs = append(errs, errors.New("transport.accept_interval must be positive"))
	}
	if c.Transport.WriteTimeout <= 0 {
		errs = append(errs, errors.New("transport.write_timeout must be positive"))
	}
	if c.Transport.DialTimeout < 0 {
		errs = append(errs, errors.New("transport.dial_timeout must not be negative"))
	}
	if c.RPC.RateLimit < 0 {
		errs = append(errs, errors.New("rpc.rate_limit must not be negative"))
	}
	if c.RPC.RateLimit > 0 && c.RPC.RateBurst < 1 {
		errs = append(errs, errors.New("rpc.rate_burst must be at least 1 when rate limiting"))
	}
	if c.Worker.Port < 0 || c.Worker.Port > 65535 {
		errs = append(errs, fmt.Errorf("worker.port %d out of range", c.Worker.Port))
	}
	if c.Worker.FlushTimeout < 0 {
		errs = append(errs, errors.New("worker.flush_timeout must not be negative"))
	}
	if len(c.Registry.Endpoints) > 0 {
		if c.Registry.Name == "" {
			errs = append(errs, errors.New("registry.name is required with registry.endpoints"))
		}
		if c.Registry.TTL <= 0 {
			errs = append(errs, errors.New("registry.ttl must be positive"))
		}
	}
	switch c.Registry.Balancer {
	case "", "round_robin", "weighted_random", "consistent_hash":
	default:
		errs = append(errs, fmt.Errorf("registry.balancer %q is not a known strategy", c.Registry.Balancer))
	}
	return errors.Join(errs...)
}
