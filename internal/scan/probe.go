package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/hashplane/asicscan/internal/miner"
)

// DefaultProbeTimeout is the default reachability probe timeout
const DefaultProbeTimeout = 5 * time.Second

// ProbeResult classifies a reachability probe
type ProbeResult int

const (
	// Reachable means the control port accepted a TCP connection
	Reachable ProbeResult = iota
	// Unreachable means the connection was refused or the host rejected it
	Unreachable
	// TimedOut means nothing answered within the probe timeout
	TimedOut
)

// String returns a human-readable name for the probe result
func (r ProbeResult) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("ProbeResult(%d)", int(r))
	}
}

// dialFunc matches net.Dialer.DialContext
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober performs cheap short-timeout TCP connects to cull addresses that
// cannot possibly host a miner before the expensive identification step.
// Skipping the probe entirely only costs throughput, never correctness.
type Prober struct {
	// Port is the TCP port to probe (the miner control port)
	Port int

	// Timeout is the maximum time to wait for the connect
	Timeout time.Duration

	// dialer overrides the TCP dial, for tests
	dialer dialFunc
}

// NewProber creates a prober for the default miner control port
func NewProber() *Prober {
	return &Prober{
		Port:    miner.DefaultAPIPort,
		Timeout: DefaultProbeTimeout,
	}
}

// Probe attempts a minimal TCP connection to addr and classifies the outcome
func (p *Prober) Probe(ctx context.Context, addr netip.Addr) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	dial := p.dialer
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(p.Port)))
	if err == nil {
		_ = conn.Close()
		return Reachable
	}

	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return TimedOut
	}
	return Unreachable
}
