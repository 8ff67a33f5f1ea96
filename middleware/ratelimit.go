package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"netsel/protocol"
)

// RegistrationRateLimit applies a token-bucket limit to registration
// requests. Heartbeats pass through untouched — they are supposed to be
// frequent, and throttling them would expire healthy services.
func RegistrationRateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) []byte {
			if req.Kind == protocol.KindRegister && !limiter.Allow() {
				return protocol.FormatFailure("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
