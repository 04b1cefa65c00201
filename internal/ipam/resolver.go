package ipam

import (
	"fmt"

	"github.com/hong710/nexhub/internal/domain"
)

// ResolveSubnet finds the subnet whose CIDR contains the given address.
// Exactly one match returns that subnet. No match fails with
// ErrNoSubnet (the address is simply unmanaged). More than one match
// fails with ErrAmbiguousSubnet: overlapping subnets are a
// configuration error this system surfaces rather than resolving by
// longest prefix.
func ResolveSubnet(ipAddress string, subnets []domain.Subnet) (domain.Subnet, error) {
	ip, err := ParseIPv4(ipAddress)
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("%w: %v", ErrNoSubnet, err)
	}

	var (
		match domain.Subnet
		hits  int
	)
	for _, s := range subnets {
		n, err := ParseNetwork(s.CIDR)
		if err != nil {
			// A subnet with an unparseable CIDR cannot own anything;
			// subnet writes validate CIDRs so this should not happen.
			continue
		}
		if n.Contains(ip) {
			hits++
			if hits > 1 {
				return domain.Subnet{}, fmt.Errorf("%w: %s is contained by %q and %q",
					ErrAmbiguousSubnet, ipAddress, match.CIDR, s.CIDR)
			}
			match = s
		}
	}

	if hits == 0 {
		return domain.Subnet{}, fmt.Errorf("%w: %s is not in any managed subnet", ErrNoSubnet, ipAddress)
	}
	return match, nil
}

// CheckOverlap validates that a subnet's CIDR does not overlap any
// other subnet's CIDR. Enforced at subnet-write time so the
// no-overlapping-subnets invariant is explicit rather than assumed.
func CheckOverlap(candidate domain.Subnet, existing []domain.Subnet) error {
	cn, err := ParseNetwork(candidate.CIDR)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if s.ID != 0 && s.ID == candidate.ID {
			continue
		}
		n, err := ParseNetwork(s.CIDR)
		if err != nil {
			continue
		}
		// Two CIDRs overlap iff one contains the other's network address
		if cn.Contains(n.Address) || n.Contains(cn.Address) {
			return fmt.Errorf("%w: %s overlaps existing subnet %q (%s)",
				ErrAmbiguousSubnet, candidate.CIDR, s.Name, s.CIDR)
		}
	}
	return nil
}
