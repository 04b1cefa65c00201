package ipam

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// Network is a parsed IPv4 CIDR with its usable host range precomputed.
type Network struct {
	CIDR        string // Normalized CIDR string
	Address     uint32 // Network address
	PrefixLen   int
	UsableStart uint32 // First usable host address
	UsableEnd   uint32 // Last usable host address
}

// Range is an inclusive [Start, End] span of IPv4 addresses. All range
// arithmetic is done on unsigned integers, never on strings.
type Range struct {
	Start uint32
	End   uint32
}

// Size returns the number of addresses in the range.
func (r Range) Size() uint32 {
	return r.End - r.Start + 1
}

// Contains reports whether ip falls inside the range.
func (r Range) Contains(ip uint32) bool {
	return ip >= r.Start && ip <= r.End
}

// Overlaps reports whether two ranges share any address.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// String renders the range in the same "start-end" form it is declared in.
func (r Range) String() string {
	return fmt.Sprintf("%s-%s", UintToIP(r.Start), UintToIP(r.End))
}

// Contains reports whether ip falls inside the network (including
// network and broadcast addresses).
func (n Network) Contains(ip uint32) bool {
	if n.PrefixLen == 0 {
		return true
	}
	mask := ^uint32(0) << (32 - n.PrefixLen)
	return ip&mask == n.Address
}

// UsableRange returns the usable host range of the network.
func (n Network) UsableRange() Range {
	return Range{Start: n.UsableStart, End: n.UsableEnd}
}

// UsableSize returns the number of usable host addresses.
func (n Network) UsableSize() uint32 {
	return n.UsableEnd - n.UsableStart + 1
}

// ParseNetwork parses an IPv4 CIDR string and computes its usable host
// range. Network and broadcast addresses are excluded for prefixes up
// to /30; a /31 keeps both addresses (RFC 3021) and a /32 is a single
// host. IPv6 and malformed input fail with ErrInvalidNetwork.
func ParseNetwork(cidr string) (Network, error) {
	ip, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return Network{}, fmt.Errorf("%w: %q is not valid CIDR notation", ErrInvalidNetwork, cidr)
	}
	if ip.To4() == nil {
		return Network{}, fmt.Errorf("%w: %q is not an IPv4 network", ErrInvalidNetwork, cidr)
	}

	prefixLen, _ := ipNet.Mask.Size()
	base, ok := IPToUint(ipNet.IP)
	if !ok {
		return Network{}, fmt.Errorf("%w: %q is not an IPv4 network", ErrInvalidNetwork, cidr)
	}

	n := Network{
		CIDR:      ipNet.String(),
		Address:   base,
		PrefixLen: prefixLen,
	}

	switch {
	case prefixLen >= 32:
		n.UsableStart = base
		n.UsableEnd = base
	case prefixLen == 31:
		n.UsableStart = base
		n.UsableEnd = base + 1
	default:
		broadcast := base | (^uint32(0) >> prefixLen)
		n.UsableStart = base + 1
		n.UsableEnd = broadcast - 1
	}

	return n, nil
}

// ParseRange parses a "start-end" string into a Range and validates
// both endpoints against the network's usable host range.
func ParseRange(s string, n Network) (Range, error) {
	startStr, endStr, found := strings.Cut(s, "-")
	if !found {
		return Range{}, fmt.Errorf("%w: %q is not in start-end form", ErrInvalidRange, s)
	}

	start, err := ParseIPv4(strings.TrimSpace(startStr))
	if err != nil {
		return Range{}, fmt.Errorf("%w: start of %q: %v", ErrInvalidRange, s, err)
	}
	end, err := ParseIPv4(strings.TrimSpace(endStr))
	if err != nil {
		return Range{}, fmt.Errorf("%w: end of %q: %v", ErrInvalidRange, s, err)
	}

	if start > end {
		return Range{}, fmt.Errorf("%w: %q start is after end", ErrInvalidRange, s)
	}
	if start < n.UsableStart || end > n.UsableEnd {
		return Range{}, fmt.Errorf("%w: %q falls outside usable range %s", ErrInvalidRange, s, n.UsableRange())
	}

	return Range{Start: start, End: end}, nil
}

// ParsePools parses and validates an ordered list of static pool
// declarations. The returned ranges keep declaration order. Any two
// intersecting ranges fail with ErrOverlappingRanges.
func ParsePools(n Network, pools []string) ([]Range, error) {
	ranges := make([]Range, 0, len(pools))
	for _, p := range pools {
		r, err := ParseRange(p, n)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}

	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].Overlaps(ranges[j]) {
				return nil, fmt.Errorf("%w: %s intersects %s", ErrOverlappingRanges, ranges[i], ranges[j])
			}
		}
	}

	return ranges, nil
}

// DHCPPool derives the DHCP pool: the network's usable host range minus
// the union of the static ranges, as a minimal set of disjoint ranges.
// The DHCP pool is never stored; it is recomputed from this.
func DHCPPool(n Network, static []Range) []Range {
	sorted := make([]Range, len(static))
	copy(sorted, static)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var dhcp []Range
	cursor := n.UsableStart
	for _, r := range sorted {
		if r.Start > cursor {
			dhcp = append(dhcp, Range{Start: cursor, End: r.Start - 1})
		}
		if r.End+1 > cursor {
			cursor = r.End + 1
		}
		if cursor == 0 {
			// r.End was the last representable address
			return dhcp
		}
	}
	if cursor <= n.UsableEnd {
		dhcp = append(dhcp, Range{Start: cursor, End: n.UsableEnd})
	}
	return dhcp
}

// ContainsIP reports whether any range in the set contains ip.
func ContainsIP(ranges []Range, ip uint32) bool {
	for _, r := range ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseIPv4 converts a dotted-quad string to its uint32 representation.
func ParseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return 0, fmt.Errorf("%q is not a valid IPv4 address", s)
	}
	u, _ := IPToUint(ip)
	return u, nil
}

// IPToUint converts an IPv4 net.IP to uint32.
func IPToUint(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 + uint32(v4[1])<<16 + uint32(v4[2])<<8 + uint32(v4[3]), true
}

// UintToIP converts a uint32 back to an IPv4 net.IP.
func UintToIP(u uint32) net.IP {
	return net.IPv4(byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}
