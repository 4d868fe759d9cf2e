// locality.go: URL locality classification for remote entry detection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"net/netip"
	"net/url"
	"strings"
)

// IPv4 ranges that are never reachable as remote endpoints.
var localIPv4Prefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("0.0.0.0/8"),
}

// IPv6 ranges classified as local: link-local, unique-local and the
// documentation prefix. Unspecified and loopback are handled separately.
var localIPv6Prefixes = []netip.Prefix{
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// IsRemoteURL reports whether rawURL points at a genuinely remote endpoint.
//
// The classifier is pure and total: it performs no I/O, no DNS resolution,
// and never fails. `file:` URLs, localhost and loopback literals, `*.local`
// names, private/link-local/loopback IPv4 ranges and the IPv6 unspecified,
// loopback, link-local, unique-local and documentation ranges are all local.
// IPv4-mapped IPv6 addresses are classified by their embedded IPv4 address.
//
// Anything unparsable — malformed URLs, IPv6 literals with bad groups or
// multiple "::", IPv4 literals with out-of-range octets — is treated as NOT
// remote. An address we cannot understand must never be escalated into
// remote handling.
func IsRemoteURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}

	if strings.EqualFold(u.Scheme, "file") {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	if host == "localhost" || host == "local" || strings.HasSuffix(host, ".local") {
		return false
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return !isLocalAddr(addr)
	}

	// The host failed to parse as an address. If it still looks like an IP
	// literal (bracket-stripped IPv6, or digits and dots), it is a malformed
	// address and must fail closed rather than be treated as a hostname.
	if looksLikeIPLiteral(host) {
		return false
	}

	return true
}

func isLocalAddr(addr netip.Addr) bool {
	// IPv4-mapped IPv6: classify the embedded IPv4 address.
	if addr.Is4In6() {
		addr = addr.Unmap()
	}

	if addr.Is4() {
		for _, p := range localIPv4Prefixes {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	if addr.IsUnspecified() || addr.IsLoopback() {
		return true
	}
	for _, p := range localIPv6Prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// looksLikeIPLiteral reports whether host resembles an IP literal without
// being a valid one. A colon can only appear in (possibly malformed) IPv6
// text; a string of digits and dots is an IPv4 candidate.
func looksLikeIPLiteral(host string) bool {
	if strings.Contains(host, ":") {
		return true
	}
	if host == "" {
		return false
	}
	dotted := false
	for _, r := range host {
		switch {
		case r >= '0' && r <= '9':
		case r == '.':
			dotted = true
		default:
			return false
		}
	}
	return dotted
}
