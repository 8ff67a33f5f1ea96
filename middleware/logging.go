package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"netsel/protocol"
)

// Logging logs every request with its kind, service name and handling time.
func Logging(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) []byte {
			start := time.Now()
			resp := next(ctx, req)
			log.Debug("handled request",
				zap.Stringer("kind", req.Kind),
				zap.String("service", req.Name),
				zap.Duration("took", time.Since(start)))
			return resp
		}
	}
}
