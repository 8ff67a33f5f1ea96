package netaddr

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	_, subnet, err := net.ParseCIDR("10.0.0.0/24")
	require.NoError(t, err)
	a, err := NewAllocator(subnet, net.ParseIP("10.0.0.100"))
	require.NoError(t, err)
	return a
}

func TestAllocateSequential(t *testing.T) {
	a := newTestAllocator(t)

	assert.Equal(t, "10.0.0.100", a.Allocate().String())
	assert.Equal(t, "10.0.0.101", a.Allocate().String())
	assert.Equal(t, "10.0.0.102", a.Allocate().String())
}

func TestAllocateNeverRepeats(t *testing.T) {
	a := newTestAllocator(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ip := a.Allocate().String()
		require.False(t, seen[ip], "address %s handed out twice", ip)
		seen[ip] = true
	}
}

func TestAllocateConcurrent(t *testing.T) {
	a := newTestAllocator(t)

	const workers = 8
	const perWorker = 50

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ip := a.Allocate().String()
				mu.Lock()
				seen[ip] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker, "concurrent allocations must be distinct")
}

func TestContains(t *testing.T) {
	a := newTestAllocator(t)

	assert.True(t, a.Contains(net.ParseIP("10.0.0.1")))
	assert.True(t, a.Contains(net.ParseIP("10.0.0.254")))
	assert.False(t, a.Contains(net.ParseIP("10.0.1.1")))
	assert.False(t, a.Contains(net.ParseIP("192.168.0.1")))
	assert.False(t, a.Contains(net.ParseIP("::1")), "IPv6 is never internal")
}

func TestNewAllocatorRejectsBadInput(t *testing.T) {
	_, subnet, err := net.ParseCIDR("10.0.0.0/24")
	require.NoError(t, err)

	_, err = NewAllocator(subnet, net.ParseIP("10.0.1.5"))
	assert.Error(t, err, "first host outside subnet")

	_, subnet6, err := net.ParseCIDR("fd00::/64")
	require.NoError(t, err)
	_, err = NewAllocator(subnet6, net.ParseIP("fd00::1"))
	assert.Error(t, err, "IPv6 subnet rejected")
}
