package ipclassify

import "net/netip"

// reservedPrefixesV4 is the non-public IPv4 range table from spec.md §4.1.
var reservedPrefixesV4 = mustParsePrefixes([]string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.88.99.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
})

// reservedPrefixesV6 is the non-public IPv6 range table from spec.md §4.1.
// v4-mapped/compatible addresses are classified via their embedded v4
// address instead (see isReserved below), not by this table.
var reservedPrefixesV6 = mustParsePrefixes([]string{
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
	"2001:db8::/32",
	"64:ff9b:1::/48",
	"100::/64",
})

func mustParsePrefixes(cidrs []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic("ipclassify: invalid built-in prefix " + c)
		}
		out = append(out, p)
	}
	return out
}

var unspecifiedV6 = netip.MustParseAddr("::")
var broadcastV4 = netip.MustParseAddr("255.255.255.255")

// isReserved implements the reserved-range table from spec.md §4.1,
// including v4-mapped/compatible v6 addresses being classified by their
// embedded v4 address.
func isReserved(a Address) bool {
	addr := a.addr
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.Is6() {
		// v4-compatible form ::a.b.c.d (this also maps :: and ::1 into
		// 0.0.0.0/8, which is reserved).
		if b := addr.As16(); [12]byte(b[:12]) == [12]byte{} {
			addr = netip.AddrFrom4([4]byte(b[12:]))
		}
	}

	if addr == unspecifiedV6 {
		return true // ::/128
	}

	if addr.Is4() {
		if addr == broadcastV4 {
			return true
		}
		for _, p := range reservedPrefixesV4 {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	for _, p := range reservedPrefixesV6 {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
