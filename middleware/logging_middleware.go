package middleware

import (
	"context"
	"packet-rpc/message"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every call with its duration, and failed calls at warn level.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.ByteString("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Error != nil {
				fields = append(fields, zap.Int("code", int(resp.Error.Code)))
				log.Warn("rpc call failed", append(fields, zap.String("error", resp.Error.Message))...)
				return resp
			}
			log.Debug("rpc call", fields...)
			return resp
		}
	}
}
