package registry

// PortPool manages a bounded, inclusive range of TCP ports. Allocation is
// lowest-free-first: a linear scan over a small range is deterministic and
// cheap relative to how rarely registrations happen.
//
// PortPool is not safe for concurrent use on its own; the Registry performs
// every pool operation under its write lock so the pool's free set and the
// live record set always stay in bijection.
type PortPool struct {
	start int
	end   int
	used  map[int]struct{}
}

// NewPortPool creates a pool over the inclusive range [start, end].
func NewPortPool(start, end int) *PortPool {
	return &PortPool{
		start: start,
		end:   end,
		used:  make(map[int]struct{}),
	}
}

// Allocate marks and returns the lowest free port in the range.
// It returns false when every port is in use.
func (p *PortPool) Allocate() (int, bool) {
	for port := p.start; port <= p.end; port++ {
		if _, taken := p.used[port]; !taken {
			p.used[port] = struct{}{}
			return port, true
		}
	}
	return 0, false
}

// Release returns a port to the free set. Releasing a port that is not
// currently used is a no-op.
func (p *PortPool) Release(port int) {
	delete(p.used, port)
}

// Free reports how many ports in the range are currently unallocated.
func (p *PortPool) Free() int {
	return p.end - p.start + 1 - len(p.used)
}
