package scan

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"
)

// listenLocal opens a TCP listener on a loopback port and returns its
// address and port.
func listenLocal(t *testing.T) (net.Listener, netip.Addr, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		t.Fatalf("parse addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return ln, addr, port
}

func TestProber_Reachable(t *testing.T) {
	ln, addr, port := listenLocal(t)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := &Prober{Port: port, Timeout: 2 * time.Second}
	if got := p.Probe(context.Background(), addr); got != Reachable {
		t.Errorf("Probe() = %s, want reachable", got)
	}
}

func TestProber_Unreachable(t *testing.T) {
	ln, addr, port := listenLocal(t)
	ln.Close() // nothing listens here anymore

	p := &Prober{Port: port, Timeout: 2 * time.Second}
	if got := p.Probe(context.Background(), addr); got != Unreachable {
		t.Errorf("Probe() = %s, want unreachable", got)
	}
}

func TestProber_CancelledContext(t *testing.T) {
	ln, addr, port := listenLocal(t)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Prober{Port: port, Timeout: 2 * time.Second}
	if got := p.Probe(ctx, addr); got == Reachable {
		t.Error("Probe() = reachable on a cancelled context")
	}
}

func TestProbeResult_String(t *testing.T) {
	tests := []struct {
		r    ProbeResult
		want string
	}{
		{Reachable, "reachable"},
		{Unreachable, "unreachable"},
		{TimedOut, "timed out"},
	}
	for _, tt := range tests {
		if tt.r.String() != tt.want {
			t.Errorf("String() = %s, want %s", tt.r.String(), tt.want)
		}
	}
}
