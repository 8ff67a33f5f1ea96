// Package registry implements the authoritative table of registered
// services: name → ServiceRecord, plus the bounded port pool that assigns
// each service a unique TCP port.
//
// The Registry is the only mutable state shared between the registration
// server, the proxies, the DNS resolver, the admin API and the sweeper.
// Reads (lookups) may proceed concurrently; every mutation takes the write
// lock so the name map and the port pool change together. Callers only ever
// see snapshot copies of records, never references into the map.
package registry

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrAlreadyRegistered is returned when the name is already taken.
	// Registration never overwrites an existing record.
	ErrAlreadyRegistered = errors.New("registry: service already registered")
	// ErrPortsExhausted is returned when the port pool has no free port.
	ErrPortsExhausted = errors.New("registry: port pool exhausted")
)

// Registry owns the service table and its port pool.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*ServiceRecord
	ports    *PortPool
	clock    clock.Clock
}

// New creates a registry assigning ports from the inclusive range
// [portStart, portEnd]. The clock is injectable so expiry is testable;
// pass clock.New() in production.
func New(portStart, portEnd int, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		services: make(map[string]*ServiceRecord),
		ports:    NewPortPool(portStart, portEnd),
		clock:    clk,
	}
}

// Register creates a record for name at the given virtual IP, drawing a
// port from the pool. It fails with ErrAlreadyRegistered if the name is
// taken and ErrPortsExhausted if no port is free; the existing record is
// never touched on failure. On success it returns a copy of the new record.
func (r *Registry) Register(name string, ip net.IP) (ServiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return ServiceRecord{}, ErrAlreadyRegistered
	}

	port, ok := r.ports.Allocate()
	if !ok {
		return ServiceRecord{}, ErrPortsExhausted
	}

	now := r.clock.Now()
	rec := &ServiceRecord{
		Name:          name,
		IP:            ip,
		Port:          port,
		RegisteredAt:  now,
		LastHeartbeat: now,
		Status:        StatusReady,
	}
	r.services[name] = rec
	return *rec, nil
}

// Unregister removes the record for name, releasing its port back to the
// pool. It reports whether a record was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

// removeLocked removes one record and releases its port.
// Callers must hold the write lock.
func (r *Registry) removeLocked(name string) bool {
	rec, exists := r.services[name]
	if !exists {
		return false
	}
	delete(r.services, name)
	r.ports.Release(rec.Port)
	return true
}

// UpdateHeartbeat renews the lease for name: LastHeartbeat moves to now and
// the status returns to Ready. It reports whether the name was found; a
// heartbeat for an unknown name has no side effect and never registers.
func (r *Registry) UpdateHeartbeat(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.services[name]
	if !exists {
		return false
	}
	rec.LastHeartbeat = r.clock.Now()
	rec.Status = StatusReady
	return true
}

// CleanupOffline removes every record whose last heartbeat is older than
// maxAge, releasing each record's port. It returns the names it evicted.
// This is the only path that removes a record without an explicit
// Unregister from its owner.
func (r *Registry) CleanupOffline(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var expired []string
	for name, rec := range r.services {
		if now.Sub(rec.LastHeartbeat) > maxAge {
			expired = append(expired, name)
		}
	}
	for _, name := range expired {
		r.removeLocked(name)
	}
	return expired
}

// Lookup returns a snapshot copy of the record for name.
func (r *Registry) Lookup(name string) (ServiceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.services[name]
	if !exists {
		return ServiceRecord{}, false
	}
	return *rec, true
}

// Resolve returns the virtual IP assigned to name, if the service exists
// and is Ready. This is the name-resolution boundary consumed by the DNS
// server.
func (r *Registry) Resolve(name string) (net.IP, bool) {
	rec, ok := r.Lookup(name)
	if !ok || rec.Status != StatusReady {
		return nil, false
	}
	return rec.IP, true
}

// Services returns snapshot copies of every registered record.
func (r *Registry) Services() []ServiceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceRecord, 0, len(r.services))
	for _, rec := range r.services {
		out = append(out, *rec)
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
