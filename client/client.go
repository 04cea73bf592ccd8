// Package client is the host side of the RPC session: it sends requests over a packet connection
// and matches the responses the worker sends back.
//
//	Go(method, params...) ──encode──► conn.Send ──► worker
//	Poll() ◄── conn.TryReceive ◄── responses ──► pending[id].resolve
//
// Nothing here starts a goroutine. Responses are collected when the caller polls, either directly
// through Poll or through the blocking Call helper.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"packet-rpc/codec"
	"packet-rpc/message"
	"packet-rpc/transport"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

// ErrSessionTerminated is returned once the connection is terminal and every payload it received
// has been consumed. Calls still pending at that point fail with it.
var ErrSessionTerminated = errors.New("client: session terminated")

// pollInterval is how long Call sleeps between polls.
const pollInterval = 100 * time.Microsecond

// Conn is the part of a packet connection the client needs.
type Conn interface {
	Send(payload []byte)
	TryReceive() ([]byte, bool)
	State() transport.State
	LastError() string
}

type Client struct {
	conn  Conn
	codec codec.Codec
	log   *zap.Logger
	seq   atomic.Uint64

	mu        sync.Mutex // guards pending and workerErr
	pending   map[string]*Call
	workerErr string
}

// NewClient wraps a connected packet connection. A nil logger discards log output.
func NewClient(conn Conn, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		conn:    conn,
		codec:   codec.GetCodec(codec.CodecTypeJSON),
		log:     log.With(zap.String("component", "client")),
		pending: make(map[string]*Call),
	}
}

type clientRequest struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

// Go sends a request for method and returns its pending Call without waiting.
func (c *Client) Go(method string, params ...any) (*Call, error) {
	if params == nil {
		params = []any{}
	}
	id := c.seq.Add(1)
	data, err := c.codec.Encode(&clientRequest{
		Version: message.Version,
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, fmt.Errorf("client: encode %s request: %w", method, err)
	}

	call := &Call{Method: method, ID: id, done: make(chan struct{})}
	c.mu.Lock()
	c.pending[strconv.FormatUint(id, 10)] = call
	c.mu.Unlock()

	c.conn.Send(data)
	return call, nil
}

// Call sends a request and polls until its response arrives, ctx is done or the session ends.
// The result is decoded into reply, which may be nil when the result is not needed.
func (c *Client) Call(ctx context.Context, method string, reply any, params ...any) error {
	call, err := c.Go(method, params...)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if _, err := c.Poll(); err != nil && !call.Done() {
			return err
		}
		if call.Done() {
			return call.Decode(reply)
		}
		select {
		case <-ctx.Done():
			c.forget(call)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll routes every response received so far to its pending Call and returns how many payloads
// it consumed. Once the connection is terminal and drained it fails the remaining calls and
// returns an error wrapping ErrSessionTerminated.
func (c *Client) Poll() (int, error) {
	n := c.drain()
	if n > 0 || !c.conn.State().IsTerminal() {
		return n, nil
	}
	// The connection queues its last payloads before it changes state, so anything that arrived
	// between the drain above and the state read is readable now.
	if n = c.drain(); n > 0 {
		return n, nil
	}

	err := c.terminated()
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*Call)
	c.mu.Unlock()
	for _, call := range pending {
		call.fail(err)
	}
	return 0, err
}

// WorkerError returns the fatal report the worker sent before exiting, or "".
func (c *Client) WorkerError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workerErr
}

// Pending returns the number of calls still waiting for a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) drain() int {
	n := 0
	for {
		payload, ok := c.conn.TryReceive()
		if !ok {
			return n
		}
		n++
		c.route(payload)
	}
}

type inbound struct {
	ID         json.RawMessage `json:"id"`
	Diagnostic *string         `json:"kirijsonrpcerror"`
}

func (c *Client) route(payload []byte) {
	var in inbound
	if err := c.codec.Decode(payload, &in); err != nil {
		c.log.Warn("dropping undecodable payload", zap.Error(err), zap.ByteString("payload", payload))
		return
	}
	if in.Diagnostic != nil {
		c.log.Error("worker reported a fatal error", zap.String("report", *in.Diagnostic))
		c.mu.Lock()
		c.workerErr = *in.Diagnostic
		c.mu.Unlock()
		return
	}

	key := string(bytes.TrimSpace(in.ID))
	c.mu.Lock()
	call, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if !ok {
		// A null id means the worker could not read the request far enough to find its id.
		c.log.Warn("unmatched response", zap.String("id", key), zap.ByteString("payload", payload))
		return
	}
	call.resolve(payload)
}

func (c *Client) forget(call *Call) {
	c.mu.Lock()
	delete(c.pending, strconv.FormatUint(call.ID, 10))
	c.mu.Unlock()
}

func (c *Client) terminated() error {
	state := c.conn.State()
	detail := c.conn.LastError()
	if report := c.WorkerError(); report != "" {
		detail = report
	}
	if detail == "" {
		return fmt.Errorf("%w: connection %s", ErrSessionTerminated, state)
	}
	return fmt.Errorf("%w: connection %s: %s", ErrSessionTerminated, state, detail)
}

// Call is one request awaiting its response.
type Call struct {
	Method string
	ID     uint64

	done     chan struct{}
	response []byte
	err      error // set when the call failed without a response
}

func (c *Call) Done() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns the outcome of a finished call: nil on success, a *json2.Error when the worker
// answered with an error, or the session error when no answer arrived.
func (c *Call) Err() error {
	var discard json.RawMessage
	return c.Decode(&discard)
}

// Decode unpacks the result into reply. A null result leaves reply untouched.
func (c *Call) Decode(reply any) error {
	if !c.Done() {
		return fmt.Errorf("client: call %s (id %d) is still pending", c.Method, c.ID)
	}
	if c.err != nil {
		return c.err
	}
	if reply == nil {
		reply = new(json.RawMessage)
	}
	err := json2.DecodeClientResponse(bytes.NewReader(c.response), reply)
	if errors.Is(err, json2.ErrNullResult) {
		return nil
	}
	return err
}

func (c *Call) resolve(response []byte) {
	c.response = response
	close(c.done)
}

func (c *Call) fail(err error) {
	c.err = err
	close(c.done)
}
