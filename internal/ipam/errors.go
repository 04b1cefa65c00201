package ipam

import "errors"

// Validation and resolution errors that can be checked with errors.Is()
var (
	// ErrInvalidNetwork is returned for a malformed or non-IPv4 CIDR
	ErrInvalidNetwork = errors.New("invalid network")

	// ErrInvalidRange is returned for a malformed "start-end" range or
	// one whose endpoints fall outside the subnet's usable host range
	ErrInvalidRange = errors.New("invalid range")

	// ErrOverlappingRanges is returned when two declared static ranges intersect
	ErrOverlappingRanges = errors.New("overlapping ranges")

	// ErrAmbiguousSubnet is returned when more than one subnet CIDR
	// contains an address. Overlapping subnets are a configuration
	// error to surface, never resolved by longest prefix.
	ErrAmbiguousSubnet = errors.New("ambiguous subnet")

	// ErrNoSubnet means the address is outside managed space. Callers
	// treat it as informational, not a failure.
	ErrNoSubnet = errors.New("no subnet")
)
