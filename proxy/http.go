package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"netsel/metrics"
	"netsel/registry"
)

// ServiceHeader names the target service of an HTTP proxy request. When
// absent, the first label of the Host header is used instead.
const ServiceHeader = "X-Netsel-Service"

// HTTPProxy forwards HTTP requests to registered services. It shares the
// TCP dispatcher's lookup-then-forward contract but resolves the target
// from the request headers rather than a leading frame.
type HTTPProxy struct {
	directory   Directory
	log         *zap.Logger
	metrics     *metrics.Metrics
	backendHost string

	listener net.Listener
	server   *http.Server
}

// NewHTTP creates the HTTP-aware proxy.
func NewHTTP(dir Directory, log *zap.Logger, m *metrics.Metrics, backendHost string) *HTTPProxy {
	p := &HTTPProxy{
		directory:   dir,
		log:         log,
		metrics:     m,
		backendHost: backendHost,
	}
	p.server = &http.Server{Handler: p}
	return p
}

// Listen binds the proxy listener.
func (p *HTTPProxy) Listen(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	p.listener = listener
	p.log.Info("http proxy listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound listener address. Only valid after Listen.
func (p *HTTPProxy) Addr() net.Addr {
	return p.listener.Addr()
}

// Serve runs the HTTP server until Shutdown.
func (p *HTTPProxy) Serve() error {
	err := p.server.Serve(p.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeHTTP resolves the target service and forwards the request.
func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := p.targetName(r)
	if name == "" {
		p.metrics.ProxySessions.WithLabelValues(metrics.ResultUnknown).Inc()
		http.Error(w, "no target service", http.StatusBadGateway)
		return
	}

	rec, ok := p.directory.Lookup(name)
	if !ok || rec.Status != registry.StatusReady {
		p.metrics.ProxySessions.WithLabelValues(metrics.ResultUnknown).Inc()
		p.log.Info("http dispatch for unavailable service", zap.String("service", name))
		http.Error(w, "service unavailable", http.StatusBadGateway)
		return
	}

	target := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(p.backendHost, strconv.Itoa(rec.Port)),
	}
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = r.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.metrics.ProxySessions.WithLabelValues(metrics.ResultDialError).Inc()
			p.log.Warn("http backend unreachable",
				zap.String("service", name),
				zap.Error(err))
			http.Error(w, "backend unreachable", http.StatusBadGateway)
		},
	}

	p.metrics.ProxySessions.WithLabelValues(metrics.ResultOK).Inc()
	rp.ServeHTTP(w, r)
}

// targetName extracts the service name from the request: the explicit
// header wins, otherwise the first label of the Host header.
func (p *HTTPProxy) targetName(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get(ServiceHeader)); name != "" {
		return name
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	name, _, _ := strings.Cut(host, ".")
	return strings.TrimSpace(name)
}

// Shutdown stops the HTTP server, waiting for in-flight requests.
func (p *HTTPProxy) Shutdown(ctx context.Context) error {
	return p.server.Shutdown(ctx)
}
