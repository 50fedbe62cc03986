package netguard

import "strings"

// blockedHostnames are literal hostnames that always resolve to something
// sensitive regardless of what DNS says.
var blockedHostnames = map[string]bool{
	"localhost":                  true,
	"metadata.google.internal":   true,
	"metadata.internal":          true,
	"instance-data":              true,
	"instance-data.ec2.internal": true,
}

// dangerousSuffixes catches the rest of the internal-TLD family.
var dangerousSuffixes = []string{
	".localhost",
	".local",
	".internal",
	".home.arpa",
}

// isBlockedHostname reports whether host is a literal or suffix match for
// a known-internal name, before any DNS resolution happens.
func isBlockedHostname(host string) bool {
	h := normalizeHost(host)
	if blockedHostnames[h] {
		return true
	}
	for _, s := range dangerousSuffixes {
		if strings.HasSuffix(h, s) {
			return true
		}
	}
	return false
}
