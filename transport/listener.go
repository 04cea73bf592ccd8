package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Listener accepts TCP connections on a background goroutine and queues each one as a
// running Conn, to be collected with AcceptNext.
//
//	Start(addr) → accept loop ──accept──► NewConn + startAccepted ──► pending queue ──► AcceptNext()
//
// Stopping a Listener does not stop the connections it produced; their owners stop them.
type Listener struct {
	cfg    Config
	log    *zap.Logger
	status status

	mu      sync.Mutex // guards pending and addr
	pending []*Conn
	addr    net.Addr

	lifeMu  sync.Mutex
	started bool
	done    chan struct{}
	quit    atomic.Bool
}

func NewListener(cfg Config) *Listener {
	cfg = cfg.withDefaults()
	return &Listener{
		cfg: cfg,
		log: cfg.Logger.With(zap.String("component", "listener")),
	}
}

// Start binds addr in the background. The state moves from ServerStarting to ServerListening,
// or to Error if the address cannot be bound.
func (l *Listener) Start(addr string) {
	l.lifeMu.Lock()
	if l.started {
		l.lifeMu.Unlock()
		panic("transport: listener was already started")
	}
	l.started = true
	done := make(chan struct{})
	l.done = done
	l.lifeMu.Unlock()

	l.status.set(ServerStarting, "")
	go func() {
		defer close(done)
		l.run(addr)
	}()
}

// AcceptNext pops the oldest accepted connection, or returns nil if there is none. It never blocks.
func (l *Listener) AcceptNext() *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	c := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return c
}

// Addr returns the bound address, or nil before the listener is listening.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func (l *Listener) State() State {
	s, _ := l.status.get()
	return s
}

func (l *Listener) LastError() string {
	_, err := l.status.get()
	return err
}

func (l *Listener) IsTerminal() bool {
	return l.State().IsTerminal()
}

func (l *Listener) Running() bool {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	return l.done != nil
}

// Stop ends the accept loop and waits for it to exit. Calling Stop on a Listener that is not
// running panics.
func (l *Listener) Stop() {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	if l.done == nil {
		panic("transport: Stop called on a listener that is not running")
	}

	l.quit.Store(true)
	<-l.done
	l.quit.Store(false)
	l.done = nil
}

func (l *Listener) run(addr string) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		l.log.Warn("listen failed", zap.String("addr", addr), zap.Error(err))
		l.status.fail(err)
		return
	}
	defer ln.Close()

	l.mu.Lock()
	l.addr = ln.Addr()
	l.mu.Unlock()
	l.status.set(ServerListening, "")
	l.log.Info("listening", zap.Stringer("addr", ln.Addr()))

	if err := l.acceptLoop(ln.(*net.TCPListener)); err != nil {
		l.log.Warn("accept failed", zap.Error(err))
		l.status.fail(err)
		return
	}
	l.status.transition(ServerListening, Disconnected)
}

func (l *Listener) acceptLoop(ln *net.TCPListener) error {
	for !l.quit.Load() {
		if err := ln.SetDeadline(time.Now().Add(l.cfg.AcceptInterval)); err != nil {
			return err
		}
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return err
		}

		c := NewConn(l.cfg)
		c.startAccepted(nc)
		l.log.Debug("accepted connection", zap.String("remote", c.RemoteAddr()))

		l.mu.Lock()
		l.pending = append(l.pending, c)
		l.mu.Unlock()
	}
	return nil
}
