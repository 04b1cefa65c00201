package ipam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork("10.0.0.0/24")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", n.CIDR)
	assert.Equal(t, 24, n.PrefixLen)
	assert.Equal(t, "10.0.0.1", UintToIP(n.UsableStart).String())
	assert.Equal(t, "10.0.0.254", UintToIP(n.UsableEnd).String())
	assert.Equal(t, uint32(254), n.UsableSize())
}

func TestParseNetwork_NormalizesHostBits(t *testing.T) {
	n, err := ParseNetwork("192.168.1.77/24")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", n.CIDR)
}

func TestParseNetwork_Slash31(t *testing.T) {
	// RFC 3021: point-to-point links use both addresses
	n, err := ParseNetwork("10.0.0.0/31")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0", UintToIP(n.UsableStart).String())
	assert.Equal(t, "10.0.0.1", UintToIP(n.UsableEnd).String())
	assert.Equal(t, uint32(2), n.UsableSize())
}

func TestParseNetwork_Slash32(t *testing.T) {
	n, err := ParseNetwork("10.0.0.5/32")
	require.NoError(t, err)
	assert.Equal(t, n.UsableStart, n.UsableEnd)
	assert.Equal(t, "10.0.0.5", UintToIP(n.UsableStart).String())
}

func TestParseNetwork_Invalid(t *testing.T) {
	cases := []string{
		"",
		"10.0.0.0",
		"10.0.0.0/33",
		"300.0.0.0/24",
		"not-a-network",
		"2001:db8::/64", // IPv6 is out of scope
	}
	for _, c := range cases {
		_, err := ParseNetwork(c)
		assert.ErrorIs(t, err, ErrInvalidNetwork, "input %q", c)
	}
}

func TestParseRange(t *testing.T) {
	n, err := ParseNetwork("10.0.0.0/24")
	require.NoError(t, err)

	r, err := ParseRange("10.0.0.10-10.0.0.20", n)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), r.Size())
	assert.True(t, r.Contains(mustIP(t, "10.0.0.15")))
	assert.False(t, r.Contains(mustIP(t, "10.0.0.21")))
	assert.Equal(t, "10.0.0.10-10.0.0.20", r.String())
}

func TestParseRange_TrimsWhitespace(t *testing.T) {
	n, err := ParseNetwork("10.0.0.0/24")
	require.NoError(t, err)

	r, err := ParseRange(" 10.0.0.1 - 10.0.0.3 ", n)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), r.Size())
}

func TestParseRange_Invalid(t *testing.T) {
	n, err := ParseNetwork("10.0.0.0/24")
	require.NoError(t, err)

	cases := []string{
		"10.0.0.20-10.0.0.10",  // start after end
		"10.0.0.10",            // no dash
		"bogus-10.0.0.10",      // bad start
		"10.0.0.10-bogus",      // bad end
		"10.0.0.0-10.0.0.5",    // network address
		"10.0.0.250-10.0.0.255", // broadcast address
		"10.0.1.10-10.0.1.20",  // different subnet entirely
	}
	for _, c := range cases {
		_, err := ParseRange(c, n)
		assert.ErrorIs(t, err, ErrInvalidRange, "input %q", c)
	}
}

func TestParsePools_Overlap(t *testing.T) {
	n, err := ParseNetwork("10.0.0.0/24")
	require.NoError(t, err)

	_, err = ParsePools(n, []string{"10.0.0.10-10.0.0.20", "10.0.0.15-10.0.0.30"})
	assert.ErrorIs(t, err, ErrOverlappingRanges)

	// Adjacent but disjoint is fine
	pools, err := ParsePools(n, []string{"10.0.0.10-10.0.0.20", "10.0.0.21-10.0.0.30"})
	require.NoError(t, err)
	assert.Len(t, pools, 2)
}

func TestDHCPPool(t *testing.T) {
	n, err := ParseNetwork("10.0.0.0/24")
	require.NoError(t, err)

	static, err := ParsePools(n, []string{"10.0.0.50-10.0.0.60", "10.0.0.10-10.0.0.20"})
	require.NoError(t, err)

	dhcp := DHCPPool(n, static)
	require.Len(t, dhcp, 3)
	assert.Equal(t, "10.0.0.1-10.0.0.9", dhcp[0].String())
	assert.Equal(t, "10.0.0.21-10.0.0.49", dhcp[1].String())
	assert.Equal(t, "10.0.0.61-10.0.0.254", dhcp[2].String())
}

// The derived DHCP pool must be disjoint from every static range and
// cover exactly usable-minus-static.
func TestDHCPPool_CoverageProperty(t *testing.T) {
	n, err := ParseNetwork("192.168.0.0/26")
	require.NoError(t, err)

	static, err := ParsePools(n, []string{
		"192.168.0.1-192.168.0.5",
		"192.168.0.30-192.168.0.40",
		"192.168.0.62-192.168.0.62",
	})
	require.NoError(t, err)

	dhcp := DHCPPool(n, static)

	var staticCount, dhcpCount uint32
	for _, r := range static {
		staticCount += r.Size()
	}
	for _, r := range dhcp {
		dhcpCount += r.Size()
	}
	assert.Equal(t, n.UsableSize(), staticCount+dhcpCount)

	for ip := n.UsableStart; ip <= n.UsableEnd; ip++ {
		inStatic := ContainsIP(static, ip)
		inDHCP := ContainsIP(dhcp, ip)
		assert.NotEqual(t, inStatic, inDHCP, "address %s must be in exactly one pool", UintToIP(ip))
	}
}

func TestDHCPPool_AllStatic(t *testing.T) {
	n, err := ParseNetwork("10.0.0.0/29")
	require.NoError(t, err)

	static, err := ParsePools(n, []string{"10.0.0.1-10.0.0.6"})
	require.NoError(t, err)

	assert.Empty(t, DHCPPool(n, static))
}

func TestDHCPPool_NoStatic(t *testing.T) {
	n, err := ParseNetwork("10.0.0.0/29")
	require.NoError(t, err)

	dhcp := DHCPPool(n, nil)
	require.Len(t, dhcp, 1)
	assert.Equal(t, n.UsableRange(), dhcp[0])
}

func TestParseIPv4(t *testing.T) {
	u, err := ParseIPv4("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", UintToIP(u).String())

	_, err = ParseIPv4("nope")
	assert.Error(t, err)

	_, err = ParseIPv4("2001:db8::1")
	assert.Error(t, err)
}

func mustIP(t *testing.T, s string) uint32 {
	t.Helper()
	u, err := ParseIPv4(s)
	if err != nil {
		t.Fatalf("bad test address %q: %v", s, err)
	}
	return u
}
