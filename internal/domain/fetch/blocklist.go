package fetch

import (
	"net"
	"net/netip"
	"slices"
	"strings"
)

// blockedV4 and blockedV6 are the reserved, private, and metadata ranges an
// outbound fetch must never reach. Nested ranges are listed for completeness
// and collapsed at init.
var blockedV4 = []string{
	"0.0.0.0/32",         // unspecified
	"10.0.0.0/8",         // private
	"100.64.0.0/10",      // shared CGN
	"100.100.100.200/32", // alibaba metadata
	"127.0.0.0/8",        // loopback
	"169.254.0.0/16",     // link-local
	"169.254.169.254/32", // cloud metadata
	"172.16.0.0/12",      // private
	"192.168.0.0/16",     // private
	"224.0.0.0/4",        // multicast
	"240.0.0.0/4",        // reserved
}

var blockedV6 = []string{
	"::/128",         // unspecified
	"::1/128",        // loopback
	"64:ff9b::/96",   // NAT64
	"64:ff9b:1::/48", // NAT64 local-use
	"2001::/32",      // Teredo
	"2002::/16",      // 6to4
	"fc00::/7",       // unique local
	"fd00::/8",       // unique local (within fc00::/7)
	"fe80::/10",      // link-local
	"ff00::/8",       // multicast
}

// blockedHostnames are metadata endpoints rejected by name, before any DNS
// resolution happens.
var blockedHostnames = map[string]struct{}{
	"metadata.google.internal": {},
	"metadata.azure.com":       {},
	"instance-data":            {},
}

var (
	v4Table = newPrefixTable(blockedV4)
	v6Table = newPrefixTable(blockedV6)
)

// prefixTable is a sorted set of disjoint CIDR prefixes supporting
// logarithmic membership checks.
type prefixTable struct {
	prefixes []netip.Prefix
}

func newPrefixTable(cidrs []string) prefixTable {
	parsed := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic("fetch: bad blocklist cidr " + c + ": " + err.Error())
		}
		parsed = append(parsed, p.Masked())
	}

	slices.SortFunc(parsed, func(a, b netip.Prefix) int {
		if c := a.Addr().Compare(b.Addr()); c != 0 {
			return c
		}
		// Wider range first so the nested-drop pass below keeps it.
		return a.Bits() - b.Bits()
	})

	// CIDRs are either disjoint or nested; dropping nested ranges leaves a
	// disjoint sorted table where the predecessor check is exact.
	disjoint := parsed[:0]
	for _, p := range parsed {
		if n := len(disjoint); n > 0 && disjoint[n-1].Contains(p.Addr()) {
			continue
		}
		disjoint = append(disjoint, p)
	}
	return prefixTable{prefixes: disjoint}
}

func (t prefixTable) contains(ip netip.Addr) bool {
	i, found := slices.BinarySearchFunc(t.prefixes, ip, func(p netip.Prefix, a netip.Addr) int {
		return p.Addr().Compare(a)
	})
	if found {
		return true
	}
	if i == 0 {
		return false
	}
	return t.prefixes[i-1].Contains(ip)
}

// BlockedIP reports whether ip falls inside any reserved, private, or
// metadata range. IPv4-mapped IPv6 addresses are unmapped and checked
// against the IPv4 table.
func BlockedIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		// Unparseable addresses are treated as blocked; the fetcher must
		// never dial something it cannot classify.
		return true
	}
	addr = addr.Unmap()
	if addr.Is4() {
		return v4Table.contains(addr)
	}
	return v6Table.contains(addr)
}

// BlockedAddr is BlockedIP for callers already holding a netip.Addr.
func BlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.Is4() {
		return v4Table.contains(addr)
	}
	return v6Table.contains(addr)
}

// BlockedHostname reports whether host is a known metadata hostname. The
// check runs before DNS resolution so these names never resolve at all.
func BlockedHostname(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	_, ok := blockedHostnames[h]
	return ok
}
