// Package server implements the registration/heartbeat listener and the
// broker that ties every component together.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → protocol.ReadRequest (deadline-bounded, one request per connection)
//	  → Middleware Chain → handleRequest (registry mutation)
//	  → write response → close
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"netsel/metrics"
	"netsel/middleware"
	"netsel/netaddr"
	"netsel/protocol"
	"netsel/registry"
)

// Server accepts registration and heartbeat connections and dispatches them
// to the registry. One connection carries exactly one request.
type Server struct {
	registry *registry.Registry
	alloc    *netaddr.Allocator
	log      *zap.Logger
	metrics  *metrics.Metrics

	leaseSeconds int
	readTimeout  time.Duration

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	listener net.Listener
	wg       sync.WaitGroup // Tracks in-flight connections for graceful shutdown
	shutdown atomic.Bool    // Set during shutdown to suppress Accept errors
}

// New creates a registration server over the given registry and address
// allocator. leaseSeconds is the advisory lease hint echoed to clients;
// readTimeout bounds every frame read (zero disables the deadline).
func New(reg *registry.Registry, alloc *netaddr.Allocator, log *zap.Logger, m *metrics.Metrics, leaseSeconds int, readTimeout time.Duration) *Server {
	return &Server{
		registry:     reg,
		alloc:        alloc,
		log:          log,
		metrics:      m,
		leaseSeconds: leaseSeconds,
		readTimeout:  readTimeout,
	}
}

// Use registers a middleware. Middlewares run in the order they are added,
// around every decoded request.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Listen binds the listener and freezes the middleware chain.
func (s *Server) Listen(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.handler = middleware.Chain(s.middlewares...)(s.handleRequest)
	s.log.Info("registration server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound listener address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until Shutdown closes the listener.
// A single failed accept never terminates the loop.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn processes a single connection: one bounded frame read, one
// response, then close. Failures stay on this connection — they are logged
// and never propagate to the accept loop.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if s.readTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.readTimeout))
	}

	req, err := protocol.ReadRequest(conn)
	if err != nil {
		// A peer that connected and closed without sending gets no response.
		if err != io.EOF {
			s.log.Warn("dropping malformed request",
				zap.String("peer", conn.RemoteAddr().String()),
				zap.Error(err))
		}
		return
	}

	resp := s.handler(context.Background(), req)
	if _, err := conn.Write(resp); err != nil {
		s.log.Warn("failed to write response",
			zap.String("peer", conn.RemoteAddr().String()),
			zap.Error(err))
	}
}

// handleRequest is the business handler at the end of the middleware chain.
func (s *Server) handleRequest(_ context.Context, req *protocol.Request) []byte {
	switch req.Kind {
	case protocol.KindHeartbeat:
		return s.handleHeartbeat(req.Name)
	default:
		return s.handleRegister(req.Name)
	}
}

func (s *Server) handleHeartbeat(name string) []byte {
	if !s.registry.UpdateHeartbeat(name) {
		s.metrics.Heartbeats.WithLabelValues(metrics.ResultUnknown).Inc()
		s.log.Debug("heartbeat for unknown service", zap.String("service", name))
		return []byte(protocol.HeartbeatFailed)
	}
	s.metrics.Heartbeats.WithLabelValues(metrics.ResultOK).Inc()
	return []byte(protocol.HeartbeatOK)
}

func (s *Server) handleRegister(name string) []byte {
	ip := s.alloc.Allocate()
	rec, err := s.registry.Register(name, ip)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyRegistered):
			s.metrics.Registrations.WithLabelValues(metrics.ResultDuplicate).Inc()
		case errors.Is(err, registry.ErrPortsExhausted):
			s.metrics.Registrations.WithLabelValues(metrics.ResultExhausted).Inc()
		default:
			s.metrics.Registrations.WithLabelValues(metrics.ResultError).Inc()
		}
		s.log.Info("registration refused", zap.String("service", name), zap.Error(err))
		return protocol.FormatFailure("Service already registered or port unavailable")
	}

	s.metrics.Registrations.WithLabelValues(metrics.ResultOK).Inc()
	s.metrics.Services.Set(float64(s.registry.Len()))
	s.log.Info("service registered",
		zap.String("service", rec.Name),
		zap.String("addr", rec.Addr()))
	return protocol.FormatSuccess(rec.IP, rec.Port, s.leaseSeconds)
}

// Shutdown performs graceful shutdown: stop accepting, then wait for
// in-flight connections to drain, up to the timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set the flag before closing, so Serve recognizes the Accept error
	// as intentional.
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("server: timeout waiting for in-flight requests")
	}
}
