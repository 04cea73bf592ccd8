// Package worker runs the worker side of an RPC session: connect out to the host, serve calls
// until the session ends, and leave a diagnostic behind if it ends badly.
//
//	resolve host ─► StartClient ─► wait while Connecting ─► Serve ─┬─ ctx done ─────► Stop, nil
//	                                                               └─ failure ─► diagnostic ─► flush ─► Stop, err
//
// There is no reconnect. A worker that loses its host exits.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"packet-rpc/codec"
	"packet-rpc/loadbalance"
	"packet-rpc/message"
	"packet-rpc/registry"
	"packet-rpc/server"
	"packet-rpc/transport"
)

const (
	// DefaultConnectPoll is how often Run checks a connection that is still Connecting.
	DefaultConnectPoll = time.Millisecond

	DefaultFlushTimeout = 5 * time.Second
)

// ErrNoHost is returned when neither an address nor a discovery name is configured.
var ErrNoHost = errors.New("worker: no host address or discovery name configured")

// Dispatcher serves requests on a connection until it fails or ctx is done.
type Dispatcher interface {
	Serve(ctx context.Context, conn server.Conn) error
}

type Config struct {
	// Addr is the host's listener address. When empty, Discover names the registry entry to use.
	Addr     string
	Discover string
	Registry registry.Registry
	Balancer loadbalance.Balancer

	Transport    transport.Config
	ConnectPoll  time.Duration
	FlushTimeout time.Duration
	Logger       *zap.Logger
}

// Run connects to the host and serves d on the connection. It returns nil when ctx ends the
// session and an error for every other ending.
func Run(ctx context.Context, cfg Config, d Dispatcher) error {
	if cfg.ConnectPoll <= 0 {
		cfg.ConnectPoll = DefaultConnectPoll
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Transport.Logger == nil {
		cfg.Transport.Logger = cfg.Logger
	}
	log := cfg.Logger.With(zap.String("component", "worker"))

	addr, err := resolve(ctx, cfg)
	if err != nil {
		return err
	}

	conn := transport.NewConn(cfg.Transport)
	conn.StartClient(addr)
	defer conn.Stop()

	if err := waitConnected(ctx, conn, cfg.ConnectPoll); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("connected to RPC host", zap.String("addr", addr))

	err = d.Serve(ctx, conn)
	if ctx.Err() != nil {
		log.Info("worker stopped")
		return nil
	}
	if err == nil {
		err = errors.New("worker: dispatcher returned without an error")
	}

	log.Error("worker failed", zap.Error(err))
	report(conn, err, cfg.FlushTimeout, log)
	return err
}

func resolve(ctx context.Context, cfg Config) (string, error) {
	if cfg.Addr != "" {
		return cfg.Addr, nil
	}
	if cfg.Discover == "" || cfg.Registry == nil {
		return "", ErrNoHost
	}

	instances, err := cfg.Registry.Discover(ctx, cfg.Discover)
	if err != nil {
		return "", fmt.Errorf("worker: discover host %s: %w", cfg.Discover, err)
	}
	bal := cfg.Balancer
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	inst, err := bal.Pick(instances)
	if err != nil {
		return "", fmt.Errorf("worker: pick host %s: %w", cfg.Discover, err)
	}
	return inst.Addr, nil
}

func waitConnected(ctx context.Context, conn *transport.Conn, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for conn.State() == transport.Connecting {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if state := conn.State(); state != transport.Connected {
		return fmt.Errorf("failed to connect to RPC host: %s: %s", state, conn.LastError())
	}
	return nil
}

// report queues the diagnostic for cause and waits for it to leave while the connection is still
// up, bounded by timeout.
func report(conn *transport.Conn, cause error, timeout time.Duration, log *zap.Logger) {
	data, err := codec.GetCodec(codec.CodecTypeJSON).Encode(&message.Diagnostic{
		Error: "Exception occurred:\n" + cause.Error(),
	})
	if err != nil {
		log.Error("encode diagnostic", zap.Error(err))
		return
	}
	conn.Send(data)

	deadline := time.Now().Add(timeout)
	for conn.PendingSendCount() > 0 && conn.State() == transport.Connected {
		if time.Now().After(deadline) {
			log.Warn("diagnostic not flushed before timeout", zap.Duration("timeout", timeout))
			return
		}
		time.Sleep(time.Millisecond)
	}
}
