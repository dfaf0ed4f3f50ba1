// Package ipclassify parses IP literals the way getaddrinfo/dns.lookup would
// (including non-canonical IPv4 forms) and classifies them as public or
// reserved. It never panics and never returns an error for malformed input —
// callers only get an "is this a public IP" bool plus the canonical form.
package ipclassify

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ErrIPClassify is the sentinel wrapped by every error this package returns.
var ErrIPClassify = fmt.Errorf("ipclassify error")

// Address is the canonical representation of a classified IP literal.
// Canonical form is dotted-decimal for v4, fully-expanded lowercase 8-group
// hex for v6 (per spec.md's IpAddress data model).
type Address struct {
	Version  int // 4 or 6
	Canonical string
	addr     netip.Addr
}

// Netip returns the underlying netip.Addr for range/prefix comparisons.
func (a Address) Netip() netip.Addr { return a.addr }

// ParseLiteral attempts to parse s as an IP literal using the permissive
// rules a C library resolver applies to literal addresses: decimal/octal/hex
// dotted-quad IPv4 with 1-4 components, 32-bit integer IPv4, and strict
// RFC 4291 IPv6. It never errors; ok is false for anything that isn't an IP
// literal under these rules (i.e. it should be treated as a hostname).
func ParseLiteral(s string) (Address, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, false
	}
	if strings.Contains(s, ":") {
		return parseIPv6(s)
	}
	return parseIPv4Literal(s)
}

// IsPublic reports whether addr is outside all reserved ranges (§4.1).
func IsPublic(a Address) bool {
	return !isReserved(a)
}

// IsPublicLiteral combines ParseLiteral and IsPublic: returns false for
// anything that doesn't parse as an IP literal at all.
func IsPublicLiteral(s string) bool {
	a, ok := ParseLiteral(s)
	if !ok {
		return false
	}
	return IsPublic(a)
}

func fromNetipAddr(a netip.Addr) Address {
	a = a.Unmap()
	if a.Is4() {
		return Address{Version: 4, Canonical: a.String(), addr: a}
	}
	return Address{Version: 6, Canonical: expandedV6(a), addr: a}
}

// expandedV6 renders the fully-expanded lowercase 8-group hex form
// (e.g. "2001:0db8:0000:0000:0000:0000:0000:abcd") rather than netip's
// default compressed String().
func expandedV6(a netip.Addr) string {
	b := a.As16()
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%04x", uint16(b[i*2])<<8|uint16(b[i*2+1]))
	}
	return strings.Join(groups, ":")
}

// parseIPv6 applies strict RFC 4291 parsing — the same rules netip.ParseAddr
// enforces (no "::::", no stray leading/trailing colon, no non-canonical
// dotted-decimal tail) — then also accepts v4-mapped/compatible forms,
// classified later using the embedded v4 address.
func parseIPv6(s string) (Address, bool) {
	// netip.ParseAddr already rejects the non-canonical forms spec.md
	// names (stray ':', ':::', too many groups, non-canonical v4 tail);
	// it is the strict RFC 4291 parser this component needs.
	a, err := netip.ParseAddr(s)
	if err != nil {
		return Address{}, false
	}
	if !a.Is6() && !a.Is4In6() {
		return Address{}, false
	}
	return fromNetipAddr(a), true
}

// parseIPv4Literal implements the permissive decimal/octal/hex/shorthand
// dotted-quad parsing getaddrinfo performs for literal addresses (§4.1).
func parseIPv4Literal(s string) (Address, bool) {
	if s == "" {
		return Address{}, false
	}
	// A trailing dot forces decimal-only interpretation; the input is still
	// accepted as a literal ("8.8.8.8." is treated as an IP literal for
	// policy purposes, not a hostname).
	decimalOnly := strings.HasSuffix(s, ".")
	trimmed := strings.TrimSuffix(s, ".")
	if trimmed == "" {
		return Address{}, false
	}

	parts := strings.Split(trimmed, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return Address{}, false
	}

	values := make([]uint64, len(parts))
	for i, p := range parts {
		if p == "" {
			return Address{}, false
		}
		v, base, ok := parseComponent(p, decimalOnly)
		if !ok {
			return Address{}, false
		}
		_ = base
		values[i] = v
	}

	// Validate component ranges by position: all but the last component
	// must fit in a byte; the last component absorbs the remaining bits
	// depending on how many components were given (shorthand forms).
	var b [4]byte
	switch len(values) {
	case 1:
		// 32-bit integer form.
		if values[0] > 0xFFFFFFFF {
			return Address{}, false
		}
		v := uint32(values[0])
		b[0] = byte(v >> 24)
		b[1] = byte(v >> 16)
		b[2] = byte(v >> 8)
		b[3] = byte(v)
	case 2:
		// a.b -> a is first octet, b is remaining 24 bits.
		if values[0] > 0xFF || values[1] > 0xFFFFFF {
			return Address{}, false
		}
		b[0] = byte(values[0])
		v := uint32(values[1])
		b[1] = byte(v >> 16)
		b[2] = byte(v >> 8)
		b[3] = byte(v)
	case 3:
		// a.b.c -> a, b are octets, c is remaining 16 bits.
		if values[0] > 0xFF || values[1] > 0xFF || values[2] > 0xFFFF {
			return Address{}, false
		}
		b[0] = byte(values[0])
		b[1] = byte(values[1])
		v := uint32(values[2])
		b[2] = byte(v >> 8)
		b[3] = byte(v)
	case 4:
		for i, v := range values {
			if v > 0xFF {
				return Address{}, false
			}
			b[i] = byte(v)
		}
	default:
		return Address{}, false
	}

	a := netip.AddrFrom4(b)
	return fromNetipAddr(a), true
}

// parseComponent parses one dotted-quad component, accepting decimal,
// octal (leading 0), and hex (leading 0x/0X) forms. If decimalOnly is set,
// or if the component has a leading-zero digit sequence that isn't valid
// octal (e.g. "08", "09"), it falls back to strict decimal — matching
// glibc's inet_aton behavior.
func parseComponent(p string, decimalOnly bool) (uint64, int, bool) {
	if decimalOnly {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return 0, 10, false
		}
		return v, 10, true
	}
	lower := strings.ToLower(p)
	switch {
	case strings.HasPrefix(lower, "0x"):
		v, err := strconv.ParseUint(lower[2:], 16, 64)
		if err != nil || lower[2:] == "" {
			return 0, 16, false
		}
		return v, 16, true
	case len(p) > 1 && p[0] == '0':
		// Leading zero: octal, unless a digit 8/9 appears, in which case
		// glibc reinterprets the whole component as decimal.
		if isValidOctal(p) {
			v, err := strconv.ParseUint(p, 8, 64)
			if err != nil {
				return 0, 8, false
			}
			return v, 8, true
		}
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return 0, 10, false
		}
		return v, 10, true
	default:
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return 0, 10, false
		}
		return v, 10, true
	}
}

func isValidOctal(p string) bool {
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '7' {
			return false
		}
	}
	return true
}
