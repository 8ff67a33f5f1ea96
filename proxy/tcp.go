// Package proxy implements connection forwarding to registered services.
//
// The TCP dispatcher reads a service name from each inbound connection,
// resolves it through the registry, and splices the connection to the
// backend: a byte-transparent relay with no framing or inspection. The
// HTTP proxy applies the same lookup-then-forward contract, taking the
// target name from an application-layer header instead of a leading frame.
package proxy

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netsel/metrics"
	"netsel/registry"
)

// Directory is the registry surface the proxies consume.
type Directory interface {
	Lookup(name string) (registry.ServiceRecord, bool)
}

// maxNameFrame bounds the first read naming the target service.
const maxNameFrame = 256

// TCPProxy relays inbound TCP connections to registered backends.
type TCPProxy struct {
	directory Directory
	log       *zap.Logger
	metrics   *metrics.Metrics

	// Backends are dialed at backendHost:<record port>. Virtual interface
	// management is out of scope, so the virtual IP is advertisement only.
	backendHost  string
	dialTimeout  time.Duration
	frameTimeout time.Duration

	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewTCP creates the TCP dispatcher. frameTimeout bounds the initial
// service-name read; dialTimeout bounds the backend connect.
func NewTCP(dir Directory, log *zap.Logger, m *metrics.Metrics, backendHost string, dialTimeout, frameTimeout time.Duration) *TCPProxy {
	return &TCPProxy{
		directory:    dir,
		log:          log,
		metrics:      m,
		backendHost:  backendHost,
		dialTimeout:  dialTimeout,
		frameTimeout: frameTimeout,
	}
}

// Listen binds the proxy listener.
func (p *TCPProxy) Listen(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	p.listener = listener
	p.log.Info("tcp proxy listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound listener address. Only valid after Listen.
func (p *TCPProxy) Addr() net.Addr {
	return p.listener.Addr()
}

// Serve runs the accept loop until Shutdown closes the listener.
func (p *TCPProxy) Serve() error {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if p.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.log.Warn("proxy accept failed", zap.Error(err))
			continue
		}
		p.wg.Add(1)
		go p.handleConn(conn)
	}
}

// handleConn dispatches one inbound connection. Any failure before the
// splice closes the inbound side without a payload — the wire protocol has
// no room for a structured error.
func (p *TCPProxy) handleConn(inbound net.Conn) {
	defer p.wg.Done()
	defer inbound.Close()

	name, err := p.readTargetName(inbound)
	if err != nil {
		p.log.Warn("failed to read target service name", zap.Error(err))
		return
	}
	if name == "" {
		return
	}

	rec, ok := p.directory.Lookup(name)
	if !ok {
		p.metrics.ProxySessions.WithLabelValues(metrics.ResultUnknown).Inc()
		p.log.Info("proxy dispatch for unknown service", zap.String("service", name))
		return
	}
	if rec.Status != registry.StatusReady {
		p.metrics.ProxySessions.WithLabelValues(metrics.ResultNotReady).Inc()
		p.log.Info("proxy dispatch for service that is not ready",
			zap.String("service", name),
			zap.Stringer("status", rec.Status))
		return
	}

	backend := net.JoinHostPort(p.backendHost, strconv.Itoa(rec.Port))
	outbound, err := net.DialTimeout("tcp", backend, p.dialTimeout)
	if err != nil {
		p.metrics.ProxySessions.WithLabelValues(metrics.ResultDialError).Inc()
		p.log.Warn("backend unreachable",
			zap.String("service", name),
			zap.String("backend", backend),
			zap.Error(err))
		return
	}
	defer outbound.Close()

	p.metrics.ProxySessions.WithLabelValues(metrics.ResultOK).Inc()
	p.metrics.ActiveProxies.Inc()
	defer p.metrics.ActiveProxies.Dec()

	p.log.Debug("relaying session",
		zap.String("service", name),
		zap.String("peer", inbound.RemoteAddr().String()),
		zap.String("backend", backend))

	if err := splice(inbound, outbound); err != nil {
		p.log.Debug("relay ended with error", zap.String("service", name), zap.Error(err))
	}
}

// readTargetName reads the leading frame naming the target service.
// The frame has no fixed size; one bounded read, trimmed of whitespace and
// null padding, is the protocol.
func (p *TCPProxy) readTargetName(conn net.Conn) (string, error) {
	if p.frameTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(p.frameTimeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, maxNameFrame)
	n, err := conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			return "", nil
		}
		return "", err
	}
	name := strings.TrimRight(string(buf[:n]), "\x00")
	return strings.TrimSpace(name), nil
}

// splice relays bytes in both directions until either side reaches EOF or
// errors. The two directions run concurrently: a mostly one-directional
// session must not stall the other half. On a clean EOF the write side of
// the opposite connection is half-closed so the peer sees the end of
// stream; on error both connections are torn down.
func splice(inbound, outbound net.Conn) error {
	var g errgroup.Group
	g.Go(func() error { return copyHalf(outbound, inbound) })
	g.Go(func() error { return copyHalf(inbound, outbound) })
	return g.Wait()
}

func copyHalf(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if err != nil {
		// One failed direction terminates the whole session.
		dst.Close()
		src.Close()
		return err
	}
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	return nil
}

// Shutdown stops accepting and waits for active sessions to finish, up to
// the timeout.
func (p *TCPProxy) Shutdown(timeout time.Duration) error {
	p.shutdown.Store(true)
	if p.listener != nil {
		p.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("proxy: timeout waiting for active sessions")
	}
}
