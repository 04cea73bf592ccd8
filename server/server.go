// Package server implements the worker-side RPC dispatcher.
//
// The dispatcher sits on one packet connection and polls it:
//
//	Serve loop: state check → TryReceive → parse → Middleware Chain → businessHandler
//	            (method table lookup, reflect call) → encode → Send
//
// Calls run one at a time on the Serve goroutine. There are no per-call deadlines: a method that
// never returns stalls the dispatcher.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"packet-rpc/codec"
	"packet-rpc/message"
	"packet-rpc/middleware"
	"packet-rpc/transport"
	"reflect"
	"sort"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

// ErrSessionTerminated is returned by Serve once the connection has left the Connected state.
// There is no reconnect.
var ErrSessionTerminated = errors.New("server: session terminated")

// DefaultPollInterval is how long Serve sleeps between drains of the receive queue.
const DefaultPollInterval = 100 * time.Microsecond

// Conn is the part of a packet connection the dispatcher needs.
type Conn interface {
	Send(payload []byte)
	TryReceive() ([]byte, bool)
	State() transport.State
	LastError() string
}

type Config struct {
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Server is the RPC dispatcher: a method table plus the middleware chain around it.
type Server struct {
	methods     map[string]*methodType
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
	codec       codec.Codec
	log         *zap.Logger
	poll        time.Duration
}

// NewServer creates a dispatcher with an empty method table.
func NewServer(cfg Config) *Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		methods: make(map[string]*methodType),
		codec:   codec.GetCodec(codec.CodecTypeJSON),
		log:     cfg.Logger.With(zap.String("component", "dispatcher")),
		poll:    cfg.PollInterval,
	}
	s.handler = s.businessHandler
	return s
}

// RegisterFunc adds fn to the method table under name.
// See newMethod for the accepted function shapes.
func (s *Server) RegisterFunc(name string, fn any) error {
	if name == "" {
		return errors.New("rpc: method name is empty")
	}
	m, err := newMethod(name, reflect.ValueOf(fn))
	if err != nil {
		return err
	}
	if _, dup := s.methods[name]; dup {
		return fmt.Errorf("rpc: method %q already registered", name)
	}
	s.methods[name] = m
	return nil
}

// Register adds every exported method of rcvr (a pointer to a struct) that has an accepted shape,
// under its lowerCamel name. Methods with other shapes are skipped.
func (s *Server) Register(rcvr any) error {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return fmt.Errorf("rpc: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}

	// Nothing is added unless every callable method can be.
	val := reflect.ValueOf(rcvr)
	found := make(map[string]*methodType)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		name := lowerCamel(method.Name)
		m, err := newMethod(name, val.Method(i))
		if err != nil {
			s.log.Debug("skipping method", zap.String("method", method.Name), zap.Error(err))
			continue
		}
		if _, dup := s.methods[name]; dup {
			return fmt.Errorf("rpc: method %q already registered", name)
		}
		found[name] = m
	}
	if len(found) == 0 {
		return fmt.Errorf("rpc: %s has no callable methods", typ)
	}
	for name, m := range found {
		s.methods[name] = m
	}
	return nil
}

// Methods returns the registered method names in sorted order.
func (s *Server) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)
}

// Serve dispatches requests arriving on conn until conn leaves the Connected state, ctx is done,
// or a response cannot be encoded at all. The returned error wraps ErrSessionTerminated in the
// first case and is ctx.Err() in the second.
func (s *Server) Serve(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		if state := conn.State(); state != transport.Connected {
			if msg := conn.LastError(); msg != "" {
				return fmt.Errorf("%w: connection %s: %s", ErrSessionTerminated, state, msg)
			}
			return fmt.Errorf("%w: connection %s", ErrSessionTerminated, state)
		}

		for {
			payload, ok := conn.TryReceive()
			if !ok {
				break
			}
			resp, err := s.HandlePayload(ctx, payload)
			if err != nil {
				return err
			}
			conn.Send(resp)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// HandlePayload turns one inbound payload into one encoded response. Every malformed or failing
// request still yields a response; an error is returned only if no response can be encoded.
func (s *Server) HandlePayload(ctx context.Context, payload []byte) ([]byte, error) {
	resp := s.dispatch(ctx, payload)
	data, err := s.codec.Encode(resp)
	if err != nil && resp.Error == nil {
		resp = message.NewError(resp.ID, message.InternalError, "Error sending result: "+err.Error())
		data, err = s.codec.Encode(resp)
	}
	if err != nil {
		return nil, fmt.Errorf("server: encode response: %w", err)
	}
	return data, nil
}

func (s *Server) dispatch(ctx context.Context, payload []byte) *message.Response {
	var raw json.RawMessage
	if err := s.codec.Decode(payload, &raw); err != nil {
		return s.reject(nil, message.ParseError, "Error parsing packet: "+err.Error())
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return s.reject(nil, message.InvalidParams, "Missing field: request is not a JSON object")
	}

	// The id is read first so that every later rejection can still be correlated.
	id, hasID := fields["id"]
	for _, key := range []string{"method", "params", "id"} {
		if _, ok := fields[key]; !ok {
			return s.reject(id, message.InvalidParams, fmt.Sprintf("Missing field: '%s'", key))
		}
	}
	if !hasID {
		id = nil
	}

	req := &message.Request{ID: id}
	if err := json.Unmarshal(fields["method"], &req.Method); err != nil {
		return s.reject(id, message.InvalidParams, "Invalid field: method must be a string")
	}
	if err := json.Unmarshal(fields["params"], &req.Params); err != nil || req.Params == nil {
		return s.reject(id, message.InvalidParams, "Invalid field: params must be an array")
	}
	if v, ok := fields["jsonrpc"]; ok {
		_ = json.Unmarshal(v, &req.Version)
	}

	return s.handler(ctx, req)
}

func (s *Server) reject(id json.RawMessage, code json2.ErrorCode, msg string) *message.Response {
	s.log.Warn("rejected request", zap.Int("code", int(code)), zap.String("error", msg))
	return message.NewError(id, code, msg)
}

// businessHandler looks the method up, decodes its params and calls it.
func (s *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	m, ok := s.methods[req.Method]
	if !ok {
		return message.NewError(req.ID, message.MethodNotFound, "Method not found: "+req.Method)
	}

	args, err := m.decodeArgs(req.Params)
	if err != nil {
		return message.NewError(req.ID, message.InvalidParams, "Invalid params: "+err.Error())
	}

	result, err := m.invoke(ctx, args)
	if err != nil {
		return message.NewError(req.ID, message.InternalError, "Call failed:\n"+err.Error())
	}

	data, err := s.codec.Encode(result)
	if err != nil {
		return message.NewError(req.ID, message.InternalError, "Error sending result: "+err.Error())
	}
	return message.NewResult(req.ID, data)
}
