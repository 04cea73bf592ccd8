// Package transport implements packet connections and listeners on top of TCP.
//
// A Conn owns exactly one socket and one I/O goroutine. Callers never touch the socket; they
// talk to the goroutine through two mutex-guarded queues and poll for results:
//
//	caller ──Send(p)──────► outgoing queue ──┐
//	                                         │   I/O goroutine (one per Conn)
//	                                         ├── write frames ──► socket
//	caller ◄─TryReceive()── ready queue ◄────┴── read + protocol.Buffer ◄── socket
//
// Transport failures never surface through Send or TryReceive. They show up as a state change
// (Disconnected or Error) that callers observe with State and LastError.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"packet-rpc/protocol"
)

const readChunkSize = 4096

// Conn is one client or accepted TCP connection wrapped with the frame protocol and a polling API.
// All methods are safe for concurrent use. Only Stop blocks.
type Conn struct {
	cfg    Config
	log    *zap.Logger
	status status

	mu       sync.Mutex // guards ready, outgoing and remote
	ready    [][]byte
	outgoing [][]byte
	remote   string

	recv protocol.Buffer // owned by the I/O goroutine

	lifeMu  sync.Mutex // guards started, done and cancel
	started bool
	done    chan struct{}
	cancel  context.CancelFunc
	quit    atomic.Bool
}

// NewConn returns an idle connection in the Disconnected state.
func NewConn(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		cfg: cfg,
		log: cfg.Logger.With(zap.String("component", "conn")),
	}
}

// Send queues payload for delivery and returns immediately. The payload is copied.
// Sending an empty payload is a programming error and panics.
func (c *Conn) Send(payload []byte) {
	if len(payload) == 0 {
		panic("transport: cannot send an empty payload")
	}
	p := bytes.Clone(payload)
	c.mu.Lock()
	c.outgoing = append(c.outgoing, p)
	c.mu.Unlock()
}

// TryReceive pops the oldest complete inbound payload. It reports false if none is ready.
// Payloads already received stay readable after the connection has gone terminal.
func (c *Conn) TryReceive() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ready) == 0 {
		return nil, false
	}
	p := c.ready[0]
	c.ready[0] = nil
	c.ready = c.ready[1:]
	return p, true
}

// PendingSendCount returns the number of payloads queued but not yet written to the socket.
func (c *Conn) PendingSendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outgoing)
}

func (c *Conn) State() State {
	s, _ := c.status.get()
	return s
}

// LastError returns the failure description while the state is Error, and "" otherwise.
func (c *Conn) LastError() string {
	_, err := c.status.get()
	return err
}

func (c *Conn) IsTerminal() bool {
	return c.State().IsTerminal()
}

// RemoteAddr returns the peer address once the socket exists, or "".
func (c *Conn) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Running reports whether the I/O goroutine is owned by this Conn, i.e. a start happened
// and Stop has not been called yet.
func (c *Conn) Running() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.done != nil
}

// StartClient connects to addr in the background. The state is Connecting until the dial
// completes, then Connected or Error.
func (c *Conn) StartClient(addr string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := c.claim(cancel)
	c.status.set(Connecting, "")

	go func() {
		defer close(done)
		c.runClient(ctx, addr)
	}()
}

// startAccepted adopts a socket produced by a Listener and goes straight to Connected.
func (c *Conn) startAccepted(nc net.Conn) {
	done := c.claim(func() {})
	c.setRemote(nc.RemoteAddr())
	c.status.set(Connected, "")

	go func() {
		defer close(done)
		c.serve(nc)
	}()
}

// Stop asks the I/O goroutine to exit and waits until it has. The socket is closed on the way out.
// Calling Stop on a Conn that is not running panics.
func (c *Conn) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.done == nil {
		panic("transport: Stop called on a connection that is not running")
	}

	c.quit.Store(true)
	c.cancel()
	<-c.done
	c.quit.Store(false)
	c.done = nil
	c.cancel = nil
}

func (c *Conn) claim(cancel context.CancelFunc) chan struct{} {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.started {
		cancel()
		panic("transport: connection was already started")
	}
	c.started = true
	c.done = make(chan struct{})
	c.cancel = cancel
	return c.done
}

func (c *Conn) runClient(ctx context.Context, addr string) {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if c.quit.Load() {
			c.status.set(Disconnected, "")
			return
		}
		c.log.Warn("connect failed", zap.String("addr", addr), zap.Error(err))
		c.status.fail(err)
		return
	}

	c.setRemote(nc.RemoteAddr())
	c.status.set(Connected, "")
	c.log.Debug("connected", zap.String("addr", addr))
	c.serve(nc)
}

func (c *Conn) serve(nc net.Conn) {
	err := c.communicate(nc)
	_ = nc.Close()

	if err != nil {
		c.log.Warn("connection failed", zap.String("remote", c.RemoteAddr()), zap.Error(err))
		c.status.fail(err)
	}
	// Only report a disconnect if nothing else has been recorded; an Error must stay visible.
	if c.status.transition(Connected, Disconnected) {
		c.log.Debug("disconnected", zap.String("remote", c.RemoteAddr()))
	}
}

// communicate runs the shared read/write loop until quit is requested, the peer closes the
// socket (nil error) or the socket fails.
func (c *Conn) communicate(nc net.Conn) error {
	chunk := make([]byte, readChunkSize)

	for !c.quit.Load() {
		if err := nc.SetReadDeadline(time.Now().Add(c.cfg.PollInterval)); err != nil {
			return err
		}
		n, err := nc.Read(chunk)
		if n > 0 {
			c.deliver(c.recv.Feed(chunk[:n]))
		}
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				// No data right now.
			case errors.Is(err, io.EOF):
				return nil
			default:
				return err
			}
		}

		for _, p := range c.takeOutgoing() {
			if err := nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return err
			}
			if err := protocol.WriteFrame(nc, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Conn) deliver(payloads [][]byte) {
	if len(payloads) == 0 {
		return
	}
	c.mu.Lock()
	c.ready = append(c.ready, payloads...)
	c.mu.Unlock()
}

func (c *Conn) takeOutgoing() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outgoing) == 0 {
		return nil
	}
	out := c.outgoing
	c.outgoing = nil
	return out
}

func (c *Conn) setRemote(addr net.Addr) {
	if addr == nil {
		return
	}
	c.mu.Lock()
	c.remote = addr.String()
	c.mu.Unlock()
}
