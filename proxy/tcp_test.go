package proxy

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"netsel/metrics"
	"netsel/registry"
)

// startEchoBackend runs a TCP echo listener on an ephemeral port and
// returns the port.
func startEchoBackend(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

// startProxy brings up a TCPProxy over the given directory on an ephemeral
// port and returns its address.
func startProxy(t *testing.T, dir Directory) string {
	t.Helper()
	p := NewTCP(dir, zaptest.NewLogger(t), metrics.New(), "127.0.0.1", time.Second, time.Second)
	require.NoError(t, p.Listen("tcp", "127.0.0.1:0"))
	go p.Serve()
	t.Cleanup(func() { p.Shutdown(time.Second) })
	return p.Addr().String()
}

func TestRelayEchoesBytes(t *testing.T) {
	backendPort := startEchoBackend(t)

	// Pin the pool to the backend's port so the registered service
	// resolves to the live listener.
	reg := registry.New(backendPort, backendPort, clock.New())
	_, err := reg.Register("svc-a", net.ParseIP("10.0.0.100"))
	require.NoError(t, err)

	addr := startProxy(t, reg)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("svc-a"))
	require.NoError(t, err)

	// Give the dispatcher a moment to resolve and splice before payload.
	time.Sleep(50 * time.Millisecond)

	payload := []byte("hello through the relay")
	_, err = conn.Write(payload)
	require.NoError(t, err)

	got := make([]byte, len(payload))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "relay must be byte-transparent")
}

func TestUnknownServiceClosesConnection(t *testing.T) {
	reg := registry.New(9000, 9999, clock.New())
	addr := startProxy(t, reg)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ghost"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "inbound side is closed without payload")
}

type staticDirectory struct {
	rec registry.ServiceRecord
	ok  bool
}

func (d staticDirectory) Lookup(string) (registry.ServiceRecord, bool) {
	return d.rec, d.ok
}

func TestServiceNotReadyClosesConnection(t *testing.T) {
	dir := staticDirectory{
		rec: registry.ServiceRecord{Name: "svc-a", Port: 1, Status: registry.StatusOffline},
		ok:  true,
	}
	addr := startProxy(t, dir)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("svc-a"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestBackendUnreachableClosesConnection(t *testing.T) {
	// A listener we immediately close gives us a port nothing serves.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := dead.Addr().(*net.TCPAddr).Port
	dead.Close()

	reg := registry.New(deadPort, deadPort, clock.New())
	_, err = reg.Register("svc-a", net.ParseIP("10.0.0.100"))
	require.NoError(t, err)

	addr := startProxy(t, reg)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("svc-a"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestTargetNamePadding(t *testing.T) {
	backendPort := startEchoBackend(t)
	reg := registry.New(backendPort, backendPort, clock.New())
	_, err := reg.Register("svc-a", net.ParseIP("10.0.0.100"))
	require.NoError(t, err)

	addr := startProxy(t, reg)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// Null-padded frame, the way the registration protocol pads names.
	frame := make([]byte, 256)
	copy(frame, " svc-a ")
	_, err = conn.Write(frame)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	got := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}
