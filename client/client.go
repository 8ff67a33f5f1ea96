// Package client implements the registration-side library consumed by
// services that want to be reachable through the broker.
//
// Recommended calling pattern: Register once, then keep RunHeartbeats
// running for the life of the process. Heartbeat failures are reported and
// retried on the next tick, never fatal:
//
//	c := client.New("127.0.0.1:9000", "my-service")
//	ip, port, err := c.Register(ctx)
//	if err != nil { ... }
//	go c.RunHeartbeats(ctx, 10*time.Second)
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"netsel/protocol"
)

var (
	// ErrAlreadyRegistered is returned by a second Register call.
	ErrAlreadyRegistered = errors.New("client: already registered")
	// ErrHeartbeatRejected means the broker no longer knows this service —
	// typically after an expiry eviction. The owner should re-register.
	ErrHeartbeatRejected = errors.New("client: heartbeat rejected")
)

// ServiceClient registers one logical service with the broker and keeps
// the registration alive. The zero state is Unregistered; a successful
// Register moves it to Registered and records the assigned address.
// Safe for concurrent use.
type ServiceClient struct {
	serverAddr  string
	hostname    string
	dialTimeout time.Duration
	clock       clock.Clock
	log         *zap.Logger

	mu           sync.Mutex
	registered   bool
	assignedIP   net.IP
	assignedPort int
	lease        time.Duration
}

// Option customizes a ServiceClient.
type Option func(*ServiceClient)

// WithDialTimeout sets the per-connection dial and I/O timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *ServiceClient) { c.dialTimeout = d }
}

// WithLogger sets the logger used by RunHeartbeats.
func WithLogger(log *zap.Logger) Option {
	return func(c *ServiceClient) { c.log = log }
}

// WithClock injects the clock driving RunHeartbeats. Tests use a mock.
func WithClock(clk clock.Clock) Option {
	return func(c *ServiceClient) { c.clock = clk }
}

// New creates a client for the broker's registration endpoint.
func New(serverAddr, hostname string, opts ...Option) *ServiceClient {
	c := &ServiceClient{
		serverAddr:  serverAddr,
		hostname:    hostname,
		dialTimeout: 5 * time.Second,
		clock:       clock.New(),
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// exchange opens a fresh connection, writes one request frame and reads
// the response. Every request/response pair rides its own connection —
// the protocol is not persistent.
func (c *ServiceClient) exchange(ctx context.Context, frame []byte) ([]byte, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("client: dial broker: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("client: send request: %w", err)
	}

	buf := make([]byte, protocol.MaxResponseSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	return buf[:n], nil
}

// Register asks the broker for an address. On success the client
// transitions to Registered and returns the assigned IP and port.
func (c *ServiceClient) Register(ctx context.Context) (net.IP, int, error) {
	c.mu.Lock()
	if c.registered {
		c.mu.Unlock()
		return nil, 0, ErrAlreadyRegistered
	}
	c.mu.Unlock()

	frame, err := protocol.EncodeRegister(c.hostname)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.exchange(ctx, frame)
	if err != nil {
		return nil, 0, err
	}

	result, err := protocol.ParseRegisterResponse(resp)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	c.registered = true
	c.assignedIP = result.IP
	c.assignedPort = result.Port
	c.lease = time.Duration(result.LeaseSeconds) * time.Second
	c.mu.Unlock()

	return result.IP, result.Port, nil
}

// SendHeartbeat renews the lease over a fresh connection. It does not
// change local state: a failure is reported to the caller and is expected
// to be retried on the next scheduled tick.
func (c *ServiceClient) SendHeartbeat(ctx context.Context) error {
	frame, err := protocol.EncodeHeartbeat(c.hostname)
	if err != nil {
		return err
	}
	resp, err := c.exchange(ctx, frame)
	if err != nil {
		return err
	}

	ok, err := protocol.ParseHeartbeatResponse(resp)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHeartbeatRejected
	}
	return nil
}

// RunHeartbeats sends a heartbeat every interval until ctx is canceled.
// Failures are logged and the loop keeps going — the next tick is the
// retry.
func (c *ServiceClient) RunHeartbeats(ctx context.Context, interval time.Duration) {
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SendHeartbeat(ctx); err != nil {
				c.log.Warn("heartbeat failed",
					zap.String("service", c.hostname),
					zap.Error(err))
			}
		}
	}
}

// AssignedAddr returns the address assigned at registration time, in
// host:port form.
func (c *ServiceClient) AssignedAddr() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registered {
		return "", false
	}
	return net.JoinHostPort(c.assignedIP.String(), strconv.Itoa(c.assignedPort)), true
}

// Lease returns the advisory lease duration from the broker's response.
func (c *ServiceClient) Lease() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lease, c.registered
}

// IsRegistered reports whether Register has succeeded.
func (c *ServiceClient) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}
