package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"packet-rpc/client"
	"packet-rpc/message"
	"packet-rpc/registry"
	"packet-rpc/registry/registrytest"
	"packet-rpc/server"
	"packet-rpc/transport"
)

func transportConfig(t *testing.T) transport.Config {
	cfg := transport.DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	return cfg
}

func startHost(t *testing.T) *transport.Listener {
	t.Helper()
	l := transport.NewListener(transportConfig(t))
	l.Start("127.0.0.1:0")
	waitFor(t, func() bool { return l.State() != transport.ServerStarting })
	if l.State() != transport.ServerListening {
		t.Fatalf("listener: %s", l.LastError())
	}
	t.Cleanup(l.Stop)
	return l
}

func accept(t *testing.T, l *transport.Listener) *transport.Conn {
	t.Helper()
	var c *transport.Conn
	waitFor(t, func() bool {
		c = l.AcceptNext()
		return c != nil
	})
	return c
}

func newServer(t *testing.T) *server.Server {
	s := server.NewServer(server.Config{Logger: zaptest.NewLogger(t)})
	if err := s.RegisterFunc("ping", func() string { return "pong" }); err != nil {
		t.Fatal(err)
	}
	return s
}

func runAsync(ctx context.Context, cfg Config, d Dispatcher) <-chan error {
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, d) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
		return nil
	}
}

func TestRunServesUntilHostLeaves(t *testing.T) {
	l := startHost(t)
	done := runAsync(context.Background(), Config{
		Addr:      l.Addr().String(),
		Transport: transportConfig(t),
		Logger:    zaptest.NewLogger(t),
	}, newServer(t))

	hostConn := accept(t, l)
	c := client.NewClient(hostConn, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var pong string
	if err := c.Call(ctx, "ping", &pong); err != nil || pong != "pong" {
		t.Fatalf("ping: %q %v", pong, err)
	}

	hostConn.Stop()
	if err := wait(t, done); !errors.Is(err, server.ErrSessionTerminated) {
		t.Fatalf("got %v, want ErrSessionTerminated", err)
	}
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	l := startHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, Config{Addr: l.Addr().String(), Transport: transportConfig(t)}, newServer(t))

	hostConn := accept(t, l)
	defer hostConn.Stop()
	waitFor(t, func() bool { return hostConn.State() == transport.Connected })

	cancel()
	if err := wait(t, done); err != nil {
		t.Fatalf("cancelled worker returned %v", err)
	}
	// 客户端关闭后主机看到正常断开
	waitFor(t, func() bool { return hostConn.IsTerminal() })
	if hostConn.State() != transport.Disconnected {
		t.Fatalf("host state %s: %s", hostConn.State(), hostConn.LastError())
	}
}

func TestRunConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	err = Run(context.Background(), Config{Addr: addr, Transport: transportConfig(t)}, newServer(t))
	if err == nil || !strings.Contains(err.Error(), "failed to connect to RPC host") {
		t.Fatalf("got %v", err)
	}
}

func TestRunWithoutHost(t *testing.T) {
	if err := Run(context.Background(), Config{}, newServer(t)); !errors.Is(err, ErrNoHost) {
		t.Fatalf("got %v, want ErrNoHost", err)
	}
}

type failingDispatcher struct{ err error }

func (f failingDispatcher) Serve(context.Context, server.Conn) error { return f.err }

func TestRunSendsDiagnostic(t *testing.T) {
	l := startHost(t)
	done := runAsync(context.Background(), Config{
		Addr:      l.Addr().String(),
		Transport: transportConfig(t),
	}, failingDispatcher{err: errors.New("encoder exploded")})

	hostConn := accept(t, l)
	defer hostConn.Stop()

	if err := wait(t, done); err == nil || err.Error() != "encoder exploded" {
		t.Fatalf("got %v", err)
	}

	var payload []byte
	waitFor(t, func() bool {
		p, ok := hostConn.TryReceive()
		payload = p
		return ok
	})
	var diag message.Diagnostic
	if err := json.Unmarshal(payload, &diag); err != nil {
		t.Fatal(err)
	}
	if diag.Error != "Exception occurred:\nencoder exploded" {
		t.Fatalf("diagnostic %q", diag.Error)
	}
}

func TestRunDiscoversHost(t *testing.T) {
	l := startHost(t)
	reg := registrytest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reg.Register(ctx, "calc", registry.ServiceInstance{Addr: l.Addr().String(), Weight: 1}, 0); err != nil {
		t.Fatal(err)
	}

	done := runAsync(ctx, Config{
		Discover:  "calc",
		Registry:  reg,
		Transport: transportConfig(t),
	}, newServer(t))

	hostConn := accept(t, l)
	defer hostConn.Stop()
	cancel()
	if err := wait(t, done); err != nil {
		t.Fatalf("got %v", err)
	}
}

func TestRunDiscoveryMiss(t *testing.T) {
	err := Run(context.Background(), Config{
		Discover: "nobody",
		Registry: registrytest.New(),
	}, newServer(t))
	if !errors.Is(err, registry.ErrNoInstances) {
		t.Fatalf("got %v, want ErrNoInstances", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}
