// Package discovery finds candidate miners via mDNS. Several firmwares
// (Braiins OS, Vnish, some stock Antminer builds) advertise an HTTP
// service with a recognizable hostname; discovery yields those hosts as
// candidates to feed into identification. mDNS is a complement to range
// sweeps, not a replacement: plenty of stock firmwares advertise nothing.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type miner web UIs advertise under
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for candidate discovery
	DefaultScanTimeout = 10 * time.Second
)

// hostPattern matches hostnames miner firmwares advertise
// (e.g. "Antminer-S19.local.", "bosminer-abc123.local.")
var hostPattern = regexp.MustCompile(`(?i)^(antminer|whatsminer|avalon|braiins|bosminer|miner)[-_a-z0-9]*\.local\.?$`)

// Candidate is a host discovered over mDNS that may be a miner. Only
// identification over the control port confirms it.
type Candidate struct {
	Hostname     string
	Addr         string
	Port         int
	Metadata     map[string]string
	DiscoveredAt time.Time
}

// Scanner browses mDNS for miner candidates
type Scanner struct {
	// Timeout is the maximum time to wait for responses
	Timeout time.Duration
}

// NewScanner creates an mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{Timeout: DefaultScanTimeout}
}

// Scan browses the local network and returns every candidate seen before
// the timeout elapses.
func (s *Scanner) Scan(ctx context.Context) ([]*Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	candidates := make([]*Candidate, 0)
	collected := make(chan struct{})

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		defer close(collected)
		for entry := range entries {
			if c := parseServiceEntry(entry); c != nil {
				candidates = append(candidates, c)
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	<-collected

	return candidates, nil
}

// parseServiceEntry converts a service entry to a candidate, or nil when
// the hostname does not look like a miner.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Candidate {
	hostname := entry.HostName
	if hostname == "" || !hostPattern.MatchString(hostname) {
		return nil
	}

	// Prefer IPv4; miners rarely expose their API over IPv6
	var addr string
	for _, ip := range entry.AddrIPv4 {
		addr = ip.String()
		break
	}
	if addr == "" && len(entry.AddrIPv6) > 0 {
		addr = entry.AddrIPv6[0].String()
	}
	if addr == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Candidate{
		Hostname:     hostname,
		Addr:         addr,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// QuickScan performs a fast candidate scan with a 3-second timeout
func QuickScan(ctx context.Context) ([]*Candidate, error) {
	scanner := NewScanner()
	scanner.Timeout = 3 * time.Second
	return scanner.Scan(ctx)
}
