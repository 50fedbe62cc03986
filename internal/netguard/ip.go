package netguard

import (
	"net"
	"strconv"
	"strings"
)

// MetadataIP is the well-known cloud metadata endpoint, always blocked
// regardless of configuration.
const MetadataIP = "169.254.169.254"

// normalizeHost trims whitespace, lowercases, drops a trailing dot, and
// unwraps IPv6 brackets.
func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}

// IsPrivateIP reports whether addr (IPv4 or IPv6, as text) falls in a
// private, loopback, link-local, or metadata range that tools must never
// reach directly.
func IsPrivateIP(addr string) bool {
	norm := normalizeHost(addr)
	if norm == "" {
		return false
	}
	if norm == MetadataIP {
		return true
	}

	ip := net.ParseIP(norm)
	if ip == nil {
		return false
	}

	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		return isPrivateIPv4(ip4)
	}

	// IPv6: unique local fc00::/7, handled by checking the top 7 bits.
	if ip[0]&0xFE == 0xFC {
		return true
	}
	return false
}

func isPrivateIPv4(ip net.IP) bool {
	o1, o2 := ip[0], ip[1]
	switch {
	case o1 == 0:
		return true // 0.0.0.0/8
	case o1 == 10:
		return true // 10.0.0.0/8
	case o1 == 127:
		return true // 127.0.0.0/8
	case o1 == 169 && o2 == 254:
		return true // 169.254.0.0/16 incl. metadata
	case o1 == 172 && o2 >= 16 && o2 <= 31:
		return true // 172.16.0.0/12
	case o1 == 192 && o2 == 168:
		return true // 192.168.0.0/16
	case o1 == 100 && o2 >= 64 && o2 <= 127:
		return true // 100.64.0.0/10 CGNAT
	}
	return false
}

// IsBlockedPort reports whether port is in the default blocked-port set.
func IsBlockedPort(port int, extra []int) bool {
	for _, p := range defaultBlockedPorts {
		if p == port {
			return true
		}
	}
	for _, p := range extra {
		if p == port {
			return true
		}
	}
	return false
}

var defaultBlockedPorts = []int{22, 23, 25, 3389}

// SplitHostPort splits a host[:port] pair, defaulting port to 0 (unknown)
// if absent rather than erroring, since scheme-implied ports are resolved
// by the caller.
func SplitHostPort(hostport string) (host string, port int, ok bool) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return normalizeHost(hostport), 0, false
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return normalizeHost(h), 0, false
	}
	return normalizeHost(h), n, true
}
