// Package resolver serves DNS A records for registered services.
//
// Names resolve inside a configured zone: a query for
// <service>.<domain> answers with the service's virtual IP, NXDOMAIN
// otherwise. The resolver consumes the registry's resolve boundary only —
// it holds no state of its own, so answers are always as fresh as the
// registry (an evicted service stops resolving on the next query).
package resolver

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"netsel/metrics"
)

// answerTTL is deliberately short: records vanish when the sweeper evicts
// a service, and clients must not cache past that.
const answerTTL = 5

// Resolver is the registry surface the DNS server consumes.
type Resolver interface {
	Resolve(name string) (net.IP, bool)
}

// Server answers A queries for one zone out of the registry.
type Server struct {
	resolver Resolver
	domain   string // Fully qualified zone, with trailing dot
	log      *zap.Logger
	metrics  *metrics.Metrics

	conn   net.PacketConn
	server *dns.Server
}

// New creates a DNS server for the given zone (e.g. "netsel.local.").
func New(res Resolver, domain string, log *zap.Logger, m *metrics.Metrics) *Server {
	if !strings.HasSuffix(domain, ".") {
		domain += "."
	}
	return &Server{
		resolver: res,
		domain:   strings.ToLower(domain),
		log:      log,
		metrics:  m,
	}
}

// Listen binds the UDP socket.
func (s *Server) Listen(address string) error {
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return err
	}
	s.conn = conn
	s.server = &dns.Server{PacketConn: conn, Handler: s}
	s.log.Info("dns server listening", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve answers queries until Shutdown.
func (s *Server) Serve() error {
	return s.server.ActivateAndServe()
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeA || q.Qclass != dns.ClassINET {
			continue
		}
		name := strings.ToLower(q.Name)
		if !strings.HasSuffix(name, "."+s.domain) {
			m.SetRcode(r, dns.RcodeNameError)
			s.metrics.DNSQueries.WithLabelValues(metrics.ResultUnknown).Inc()
			continue
		}
		service := strings.TrimSuffix(name, "."+s.domain)

		ip, ok := s.resolver.Resolve(service)
		if !ok {
			m.SetRcode(r, dns.RcodeNameError)
			s.metrics.DNSQueries.WithLabelValues(metrics.ResultUnknown).Inc()
			s.log.Debug("dns query for unknown service", zap.String("service", service))
			continue
		}

		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    answerTTL,
			},
			A: ip.To4(),
		})
		s.metrics.DNSQueries.WithLabelValues(metrics.ResultOK).Inc()
	}

	if err := w.WriteMsg(m); err != nil {
		s.log.Warn("failed to write dns response", zap.Error(err))
	}
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.ShutdownContext(ctx)
}
