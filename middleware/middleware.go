// Package middleware provides the handler chain wrapped around every
// decoded registration-protocol request.
//
// A HandlerFunc maps one decoded request to the raw response bytes that go
// back on the wire. Middlewares compose in the usual onion model:
//
//	Chain(A, B)(handler) → A(B(handler))
package middleware

import (
	"context"

	"netsel/protocol"
)

// HandlerFunc processes one decoded request and returns the response bytes.
type HandlerFunc func(ctx context.Context, req *protocol.Request) []byte

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines multiple middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
