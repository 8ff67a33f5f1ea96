package registry

import (
	"net"
	"strconv"
	"time"
)

// Status describes a registered service's liveness state.
type Status int

const (
	// StatusReady means the service is registered and its lease is current.
	StatusReady Status = iota
	// StatusOffline is reserved for a service whose lease lapsed. The sweeper
	// currently removes expired records outright instead of parking them
	// here; the proxy refuses anything that is not Ready.
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ServiceRecord is the registry's stored state for one registered service.
// Name, IP and Port are immutable for the record's lifetime; LastHeartbeat
// is bumped by every successful heartbeat and never decreases.
type ServiceRecord struct {
	Name          string
	IP            net.IP
	Port          int
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	Status        Status
}

// Addr returns the record's virtual address in host:port form.
func (r ServiceRecord) Addr() string {
	return net.JoinHostPort(r.IP.String(), strconv.Itoa(r.Port))
}
