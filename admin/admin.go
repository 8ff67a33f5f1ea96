// Package admin exposes the broker's operational HTTP API: service
// listing, explicit unregistration, health and metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"netsel/metrics"
	"netsel/registry"
)

// Registry is the registry surface the admin API consumes.
type Registry interface {
	Services() []registry.ServiceRecord
	Lookup(name string) (registry.ServiceRecord, bool)
	Unregister(name string) bool
	Len() int
}

// serviceView is the JSON shape of one registered service.
type serviceView struct {
	Name          string    `json:"name"`
	IP            string    `json:"ip"`
	Port          int       `json:"port"`
	Addr          string    `json:"addr"`
	Status        string    `json:"status"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func toView(rec registry.ServiceRecord) serviceView {
	return serviceView{
		Name:          rec.Name,
		IP:            rec.IP.String(),
		Port:          rec.Port,
		Addr:          rec.Addr(),
		Status:        rec.Status.String(),
		RegisteredAt:  rec.RegisteredAt,
		LastHeartbeat: rec.LastHeartbeat,
	}
}

// Server is the admin HTTP server.
type Server struct {
	registry Registry
	log      *zap.Logger
	echo     *echo.Echo
	listener net.Listener
	metrics  *metrics.Metrics
}

// New creates the admin server and wires its routes.
func New(reg Registry, log *zap.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		registry: reg,
		log:      log,
		metrics:  m,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", s.healthz)
	e.GET("/services", s.listServices)
	e.GET("/services/:name", s.getService)
	e.DELETE("/services/:name", s.deleteService)
	e.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})))

	s.echo = e
	return s
}

// Listen binds the admin listener.
func (s *Server) Listen(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.echo.Listener = listener
	s.log.Info("admin api listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound listener address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the HTTP server until Shutdown.
func (s *Server) Serve() error {
	err := s.echo.Start("")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"services": s.registry.Len(),
	})
}

func (s *Server) listServices(c echo.Context) error {
	records := s.registry.Services()
	views := make([]serviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, toView(rec))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getService(c echo.Context) error {
	rec, ok := s.registry.Lookup(c.Param("name"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "service not found"})
	}
	return c.JSON(http.StatusOK, toView(rec))
}

func (s *Server) deleteService(c echo.Context) error {
	name := c.Param("name")
	if !s.registry.Unregister(name) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "service not found"})
	}
	s.metrics.Services.Set(float64(s.registry.Len()))
	s.log.Info("service unregistered via admin api", zap.String("service", name))
	return c.NoContent(http.StatusNoContent)
}
