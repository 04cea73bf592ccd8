// Package middleware wraps the dispatcher's business handler (method lookup and invocation).
// Requests that failed to parse never reach the chain; they are answered by the dispatcher.
package middleware

import (
	"context"
	"packet-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
// Chain(A, B, C)(h) runs as A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
