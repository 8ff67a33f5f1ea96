package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"netsel/metrics"
	"netsel/registry"
)

// newHTTPFixture registers svc-a against a live HTTP backend and returns
// the proxy handler ready to serve.
func newHTTPFixture(t *testing.T, backend http.Handler) *HTTPProxy {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	port := srv.Listener.Addr().(*net.TCPAddr).Port
	reg := registry.New(port, port, clock.New())
	_, err := reg.Register("svc-a", net.ParseIP("10.0.0.100"))
	require.NoError(t, err)

	return NewHTTP(reg, zaptest.NewLogger(t), metrics.New(), "127.0.0.1")
}

func TestHTTPProxyForwardsByHeader(t *testing.T) {
	p := newHTTPFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "backend saw %s", r.URL.Path)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://broker/ping", nil)
	req.Header.Set(ServiceHeader, "svc-a")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Result().Body)
	assert.Equal(t, "backend saw /ping", string(body))
}

func TestHTTPProxyForwardsByHostLabel(t *testing.T) {
	p := newHTTPFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://svc-a.netsel.local:8081/", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestHTTPProxyUnknownService(t *testing.T) {
	reg := registry.New(9000, 9999, clock.New())
	p := NewHTTP(reg, zaptest.NewLogger(t), metrics.New(), "127.0.0.1")

	req := httptest.NewRequest(http.MethodGet, "http://ghost.netsel.local/", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestHTTPProxyNotReadyService(t *testing.T) {
	dir := staticDirectory{
		rec: registry.ServiceRecord{Name: "svc-a", Port: 1, Status: registry.StatusOffline},
		ok:  true,
	}
	p := NewHTTP(dir, zaptest.NewLogger(t), metrics.New(), "127.0.0.1")

	req := httptest.NewRequest(http.MethodGet, "http://broker/", nil)
	req.Header.Set(ServiceHeader, "svc-a")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestHTTPProxyBackendUnreachable(t *testing.T) {
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := dead.Addr().(*net.TCPAddr).Port
	dead.Close()

	reg := registry.New(deadPort, deadPort, clock.New())
	_, err = reg.Register("svc-a", net.ParseIP("10.0.0.100"))
	require.NoError(t, err)

	p := NewHTTP(reg, zaptest.NewLogger(t), metrics.New(), "127.0.0.1")

	req := httptest.NewRequest(http.MethodGet, "http://broker/", nil)
	req.Header.Set(ServiceHeader, "svc-a")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
