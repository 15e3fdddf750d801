package dns

import "net"

// IsLoopback reports whether ip is a loopback address (127.0.0.0/8, ::1)
func IsLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// IsWildcard reports whether ip is an unspecified bind address (0.0.0.0, ::)
func IsWildcard(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsUnspecified()
}

// SameIP compares two addresses, treating IPv4 and IPv4-mapped IPv6 forms
// as equal. Non-IP strings are compared literally.
func SameIP(a, b string) bool {
	pa, pb := net.ParseIP(a), net.ParseIP(b)
	if pa == nil || pb == nil {
		return a == b
	}
	return pa.Equal(pb)
}

// HostMatches decides whether a peer known under remoteHost lives on one of
// the addresses in want. A server bound to the wildcard address also counts
// as present on any loopback or wildcard address that was asked for.
func HostMatches(want []string, remoteHost string, isServer bool) bool {
	for _, ip := range want {
		if SameIP(ip, remoteHost) {
			return true
		}
		if (IsLoopback(ip) || IsWildcard(ip)) && isServer && IsWildcard(remoteHost) {
			return true
		}
	}
	return false
}
