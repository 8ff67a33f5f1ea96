package test

import (
	"fmt"
	"net"
	"testing"

	"github.com/benbjohnson/clock"

	"netsel/protocol"
	"netsel/registry"
)

func BenchmarkRegisterUnregister(b *testing.B) {
	reg := registry.New(9000, 9999, clock.New())
	ip := net.ParseIP("10.0.0.100")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		name := fmt.Sprintf("svc-%d", i)
		if _, err := reg.Register(name, ip); err != nil {
			b.Fatal(err)
		}
		reg.Unregister(name)
	}
}

func BenchmarkHeartbeat(b *testing.B) {
	reg := registry.New(9000, 9999, clock.New())
	if _, err := reg.Register("svc-a", net.ParseIP("10.0.0.100")); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !reg.UpdateHeartbeat("svc-a") {
			b.Fatal("heartbeat refused")
		}
	}
}

func BenchmarkLookup(b *testing.B) {
	reg := registry.New(9000, 9999, clock.New())
	for i := 0; i < 100; i++ {
		if _, err := reg.Register(fmt.Sprintf("svc-%d", i), net.ParseIP("10.0.0.100")); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := reg.Lookup("svc-50"); !ok {
			b.Fatal("lookup missed")
		}
	}
}

func BenchmarkDecodeRequestFrame(b *testing.B) {
	frame, err := protocol.EncodeHeartbeat("svc-a")
	if err != nil {
		b.Fatal(err)
	}
	reader := &loopReader{data: frame}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader.off = 0
		if _, err := protocol.ReadRequest(reader); err != nil {
			b.Fatal(err)
		}
	}
}

// loopReader replays one frame without reallocating per iteration.
type loopReader struct {
	data []byte
	off  int
}

func (r *loopReader) Read(p []byte) (int, error) {
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}
