package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netsel/admin"
	"netsel/config"
	"netsel/metrics"
	"netsel/middleware"
	"netsel/netaddr"
	"netsel/proxy"
	"netsel/registry"
	"netsel/resolver"
)

// shutdownGrace bounds how long each component may drain during shutdown.
const shutdownGrace = 5 * time.Second

// Broker assembles the full service: registration server, expiry sweeper,
// TCP and HTTP proxies, DNS resolver and admin API, all sharing one
// registry.
type Broker struct {
	cfg *config.Config
	log *zap.Logger

	registry *registry.Registry
	metrics  *metrics.Metrics

	registration *Server
	sweeper      *Sweeper
	tcpProxy     *proxy.TCPProxy
	httpProxy    *proxy.HTTPProxy
	dns          *resolver.Server
	admin        *admin.Server
}

// NewBroker wires every component from the configuration. Nothing is bound
// yet; Run performs the listen and serve.
func NewBroker(cfg *config.Config, log *zap.Logger) (*Broker, error) {
	_, subnet, err := net.ParseCIDR(cfg.Network.Subnet)
	if err != nil {
		return nil, fmt.Errorf("broker: parse subnet: %w", err)
	}
	alloc, err := netaddr.NewAllocator(subnet, net.ParseIP(cfg.Network.FirstHost))
	if err != nil {
		return nil, fmt.Errorf("broker: build allocator: %w", err)
	}

	m := metrics.New()
	reg := registry.New(cfg.Registry.PortRangeStart, cfg.Registry.PortRangeEnd, clock.New())

	registration := New(reg, alloc, log, m, cfg.Registry.LeaseSeconds, cfg.Registry.ReadTimeout)
	registration.Use(middleware.Logging(log))
	if cfg.Registry.RegistrationRate > 0 {
		registration.Use(middleware.RegistrationRateLimit(
			cfg.Registry.RegistrationRate, cfg.Registry.RegistrationBurst))
	}

	return &Broker{
		cfg:          cfg,
		log:          log,
		registry:     reg,
		metrics:      m,
		registration: registration,
		sweeper: NewSweeper(reg, cfg.Health.CheckInterval, cfg.Health.MaxHeartbeatAge,
			clock.New(), log, m),
		tcpProxy: proxy.NewTCP(reg, log, m, cfg.Proxy.BackendHost,
			cfg.Proxy.DialTimeout, cfg.Registry.ReadTimeout),
		httpProxy: proxy.NewHTTP(reg, log, m, cfg.Proxy.BackendHost),
		dns:       resolver.New(reg, cfg.DNS.Domain, log, m),
		admin:     admin.New(reg, log, m),
	}, nil
}

// Registry exposes the shared registry, mostly for tests and embedding.
func (b *Broker) Registry() *registry.Registry {
	return b.registry
}

// Listen binds every component's listener. Bind failures surface here,
// before any traffic is accepted.
func (b *Broker) Listen() error {
	if err := b.registration.Listen("tcp", b.cfg.Registry.ListenAddr); err != nil {
		return fmt.Errorf("broker: bind registration: %w", err)
	}
	if err := b.tcpProxy.Listen("tcp", b.cfg.Proxy.TCPListenAddr); err != nil {
		return fmt.Errorf("broker: bind tcp proxy: %w", err)
	}
	if err := b.httpProxy.Listen("tcp", b.cfg.Proxy.HTTPListenAddr); err != nil {
		return fmt.Errorf("broker: bind http proxy: %w", err)
	}
	if err := b.dns.Listen(b.cfg.DNS.ListenAddr); err != nil {
		return fmt.Errorf("broker: bind dns: %w", err)
	}
	if err := b.admin.Listen("tcp", b.cfg.Admin.ListenAddr); err != nil {
		return fmt.Errorf("broker: bind admin: %w", err)
	}
	return nil
}

// Address accessors. Only valid after Listen; with ":0" configured
// addresses they report the kernel-assigned ports.

func (b *Broker) RegistrationAddr() net.Addr { return b.registration.Addr() }
func (b *Broker) TCPProxyAddr() net.Addr     { return b.tcpProxy.Addr() }
func (b *Broker) HTTPProxyAddr() net.Addr    { return b.httpProxy.Addr() }
func (b *Broker) DNSAddr() net.Addr          { return b.dns.Addr() }
func (b *Broker) AdminAddr() net.Addr        { return b.admin.Addr() }

// Run serves every component until ctx is canceled, then shuts them all
// down and returns the first serve error, if any.
func (b *Broker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(b.registration.Serve)
	g.Go(b.tcpProxy.Serve)
	g.Go(b.httpProxy.Serve)
	g.Go(b.dns.Serve)
	g.Go(b.admin.Serve)
	g.Go(func() error {
		b.sweeper.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		b.log.Info("shutting down")

		grace, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := b.registration.Shutdown(shutdownGrace); err != nil {
			b.log.Warn("registration shutdown", zap.Error(err))
		}
		if err := b.tcpProxy.Shutdown(shutdownGrace); err != nil {
			b.log.Warn("tcp proxy shutdown", zap.Error(err))
		}
		if err := b.httpProxy.Shutdown(grace); err != nil {
			b.log.Warn("http proxy shutdown", zap.Error(err))
		}
		if err := b.dns.Shutdown(grace); err != nil {
			b.log.Warn("dns shutdown", zap.Error(err))
		}
		if err := b.admin.Shutdown(grace); err != nil {
			b.log.Warn("admin shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
