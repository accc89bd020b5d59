package scan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"net/netip"
)

// ErrInvalidRange is returned when a range fails to parse or end < start.
// It is the only error that aborts a sweep before any network activity.
var ErrInvalidRange = errors.New("invalid address range")

// Range is an inclusive IPv4 address range
type Range struct {
	Start netip.Addr
	End   netip.Addr
}

// ParseRange validates a start/end pair and returns the inclusive range.
// Both endpoints must be valid IPv4 addresses and start must not be greater
// than end in numeric order.
func ParseRange(start, end string) (Range, error) {
	s, err := parseIPv4(start)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start %q: %v", ErrInvalidRange, start, err)
	}
	e, err := parseIPv4(end)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end %q: %v", ErrInvalidRange, end, err)
	}
	if e.Less(s) {
		return Range{}, fmt.Errorf("%w: end %s is below start %s", ErrInvalidRange, end, start)
	}
	return Range{Start: s, End: e}, nil
}

// parseIPv4 parses an address and rejects anything that is not plain IPv4
func parseIPv4(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, err
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", raw)
	}
	return addr, nil
}

// Count returns the number of addresses the range covers
func (r Range) Count() int {
	return int(addrValue(r.End)-addrValue(r.Start)) + 1
}

// Addrs returns a lazy, ordered, duplicate-free sequence over the inclusive
// range. The sequence restarts from the beginning on each call.
func (r Range) Addrs() iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		for addr := r.Start; ; addr = addr.Next() {
			if !yield(addr) {
				return
			}
			if addr == r.End {
				return
			}
		}
	}
}

// String returns the "start-end" form of the range
func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

// addrValue returns the numeric value of an IPv4 address
func addrValue(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}
