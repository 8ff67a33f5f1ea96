// Package netaddr implements the virtual network address allocator.
//
// The broker hands every registered service an IPv4 address from a managed
// subnet (10.0.0.0/24 by default). Allocation is a forward counter: addresses
// are never reused, and there is no deallocation path — an address lives
// exactly as long as the registration that received it. The counter is an
// atomic so registrations arriving on concurrent connections never observe
// the same address.
package netaddr

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
)

// Allocator hands out sequential IPv4 addresses from a fixed subnet.
type Allocator struct {
	base uint32        // Network address of the managed subnet
	mask uint32        // Subnet mask as a big-endian uint32
	next atomic.Uint32 // Next address to hand out
}

// NewAllocator creates an allocator for the given subnet, starting at
// firstHost. firstHost must fall inside the subnet.
func NewAllocator(subnet *net.IPNet, firstHost net.IP) (*Allocator, error) {
	base := subnet.IP.To4()
	first := firstHost.To4()
	if base == nil || first == nil {
		return nil, fmt.Errorf("netaddr: subnet and first host must be IPv4")
	}
	if !subnet.Contains(firstHost) {
		return nil, fmt.Errorf("netaddr: first host %s outside subnet %s", firstHost, subnet)
	}
	mask := subnet.Mask
	if len(mask) == 16 {
		mask = mask[12:]
	}
	a := &Allocator{
		base: binary.BigEndian.Uint32(base),
		mask: binary.BigEndian.Uint32(mask),
	}
	a.next.Store(binary.BigEndian.Uint32(first))
	return a, nil
}

// Allocate returns the next address in the sequence. Addresses are handed
// out exactly once; there is no release path.
func (a *Allocator) Allocate() net.IP {
	cur := a.next.Add(1) - 1
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, cur)
	return ip
}

// Contains reports whether ip belongs to the managed subnet.
// Non-IPv4 addresses are never internal.
func (a *Allocator) Contains(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return binary.BigEndian.Uint32(v4)&a.mask == a.base&a.mask
}
