package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// config.toml key mapping. Durations are Go duration strings ("100us", "10s").
type fileConfig struct {
	Transport struct {
		PollInterval   string `toml:"poll_interval"`
		AcceptInterval string `toml:"accept_interval"`
		WriteTimeout   string `toml:"write_timeout"`
		DialTimeout    string `toml:"dial_timeout"`
	} `toml:"transport"`
	Log struct {
		Level       string `toml:"level"`
		Development bool   `toml:"development"`
	} `toml:"log"`
	RPC struct {
		PollInterval string  `toml:"poll_interval"`
		RateLimit    float64 `toml:"rate_limit"`
		RateBurst    int     `toml:"rate_burst"`
		LogCalls     bool    `toml:"log_calls"`
	} `toml:"rpc"`
	Worker struct {
		Host         string `toml:"host"`
		Port         int    `toml:"port"`
		FlushTimeout string `toml:"flush_timeout"`
	} `toml:"worker"`
	Registry struct {
		Endpoints   []string `toml:"endpoints"`
		Name        string   `toml:"name"`
		TTL         int64    `toml:"ttl"`
		Balancer    string   `toml:"balancer"`
		DialTimeout string   `toml:"dial_timeout"`
	} `toml:"registry"`
	Host struct {
		Listen    string `toml:"listen"`
		WorkerBin string `toml:"worker_bin"`
	} `toml:"host"`
}

// Load reads path and overlays it on Default. The result is validated.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %s", undecoded[0])
	}

	cfg := Default()
	durations := []struct {
		key []string
		dst *time.Duration
		src string
	}{
		{[]string{"transport", "poll_interval"}, &cfg.Transport.PollInterval, raw.Transport.PollInterval},
		{[]string{"transport", "accept_interval"}, &cfg.Transport.AcceptInterval, raw.Transport.AcceptInterval},
		{[]string{"transport", "write_timeout"}, &cfg.Transport.WriteTimeout, raw.Transport.WriteTimeout},
		{[]string{"transport", "dial_timeout"}, &cfg.Transport.DialTimeout, raw.Transport.DialTimeout},
		{[]string{"rpc", "poll_interval"}, &cfg.RPC.PollInterval, raw.RPC.PollInterval},
		{[]string{"worker", "flush_timeout"}, &cfg.Worker.FlushTimeout, raw.Worker.FlushTimeout},
		{[]string{"registry", "dial_timeout"}, &cfg.Registry.DialTimeout, raw.Registry.DialTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.src))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "development") {
		cfg.Log.Development = raw.Log.Development
	}

	if meta.IsDefined("rpc", "rate_limit") {
		cfg.RPC.RateLimit = raw.RPC.RateLimit
	}
	if meta.IsDefined("rpc", "rate_burst") {
		cfg.RPC.RateBurst = raw.RPC.RateBurst
	}
	if meta.IsDefined("rpc", "log_calls") {
		cfg.RPC.LogCalls = raw.RPC.LogCalls
	}

	if meta.IsDefined("worker", "host") {
		cfg.Worker.Host = strings.TrimSpace(raw.Worker.Host)
	}
	if meta.IsDefined("worker", "port") {
		cfg.Worker.Port = raw.Worker.Port
	}

	if meta.IsDefined("registry", "endpoints") {
		cfg.Registry.Endpoints = normalizeList(raw.Registry.Endpoints)
	}
	if meta.IsDefined("registry", "name") {
		cfg.Registry.Name = strings.TrimSpace(raw.Registry.Name)
	}
	if meta.IsDefined("registry", "ttl") {
		cfg.Registry.TTL = raw.Registry.TTL
	}
	if meta.IsDefined("registry", "balancer") {
		cfg.Registry.Balancer = strings.TrimSpace(raw.Registry.Balancer)
	}

	if meta.IsDefined("host", "listen") {
		cfg.Host.Listen = strings.TrimSpace(raw.Host.Listen)
	}
	if meta.IsDefined("host", "worker_bin") {
		cfg.Host.WorkerBin = strings.TrimSpace(raw.Host.WorkerBin)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
