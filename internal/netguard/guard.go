package netguard

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Config is the deployment-wide network policy (spec §6, `netguard{}`).
type Config struct {
	Allowlist       []HostMethodRule `yaml:"allowlist" json:"allowlist"`
	BlockPrivateIPs bool             `yaml:"blockPrivateIps" json:"blockPrivateIps"`
	BlockedPorts    []int            `yaml:"blockedPorts" json:"blockedPorts"`
	DNSCacheTTLMs   int              `yaml:"dnsCacheTtlMs" json:"dnsCacheTtlMs"`
}

// DefaultConfig returns the fail-closed baseline: private IPs and the
// metadata endpoint are always blocked, the standard sensitive ports are
// blocked, and DNS answers are cached for 30s.
func DefaultConfig() Config {
	return Config{
		BlockPrivateIPs: true,
		BlockedPorts:    append([]int(nil), defaultBlockedPorts...),
		DNSCacheTTLMs:   30_000,
	}
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	ResolvedIP string `json:"resolvedIp,omitempty"`
}

// Guard is the single choke point every network-capable tool must call
// before opening a socket (I-N1). It is safe for concurrent use.
type Guard struct {
	cfg      Config
	resolver Resolver
	cache    *dnsCache
}

// NewGuard builds a Guard from cfg using the system resolver.
func NewGuard(cfg Config) *Guard {
	return &Guard{
		cfg:      cfg,
		resolver: netResolver{},
		cache:    newDNSCache(time.Duration(cfg.DNSCacheTTLMs) * time.Millisecond),
	}
}

// WithResolver overrides the DNS resolver, for tests that need to force a
// rebinding scenario (tool allowlist permits a hostname, but the resolver
// hands back a private address).
func (g *Guard) WithResolver(r Resolver) *Guard {
	g.resolver = r
	return g
}

// Check validates a tool's intended request against global policy and the
// tool's own declared network policy before any socket is opened. The
// tool policy can only narrow what the global policy already allows
// (P-NET-INTERSECT) — it is never consulted to widen access.
func (g *Guard) Check(ctx context.Context, rawURL, method string, tool *ToolPolicy) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("netguard: invalid url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return Result{Allowed: false, Reason: "missing host"}, nil
	}
	host = normalizeHost(host)
	port := portFor(u)

	if isBlockedHostname(host) {
		return Result{Allowed: false, Reason: "hostname blocked by policy"}, nil
	}

	if !globalAllowed(g.cfg.Allowlist, host, method) {
		return Result{Allowed: false, Reason: "host/method not in global allowlist"}, nil
	}

	if ok, reason := toolAllows(tool, host); !ok {
		return Result{Allowed: false, Reason: reason}, nil
	}

	blockedPorts := g.cfg.BlockedPorts
	blockPrivate := g.cfg.BlockPrivateIPs
	if tool != nil {
		blockedPorts = append(append([]int(nil), blockedPorts...), tool.BlockedPorts...)
		blockPrivate = blockPrivate || tool.BlockPrivateIPs
	}
	if port != 0 && IsBlockedPort(port, blockedPorts) {
		return Result{Allowed: false, Reason: "port blocked by policy"}, nil
	}

	// A literal IP in the URL skips DNS but still gets the private-range check.
	if IsPrivateIP(host) {
		if blockPrivate {
			return Result{Allowed: false, Reason: "private IP not allowed"}, nil
		}
		return Result{Allowed: true, ResolvedIP: host}, nil
	}

	ips, err := g.cache.lookup(ctx, g.resolver, host)
	if err != nil {
		return Result{}, fmt.Errorf("netguard: dns lookup failed for %s: %w", host, err)
	}
	if len(ips) == 0 {
		return Result{Allowed: false, Reason: "dns resolution returned no addresses"}, nil
	}

	resolved := ips[0]
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			if blockPrivate {
				return Result{Allowed: false, Reason: "private IP not allowed"}, nil
			}
		}
	}

	return Result{Allowed: true, ResolvedIP: resolved}, nil
}

// CheckRedirect re-validates a redirect target with the same tool policy
// that authorized the original request. Tools must call this for every
// hop rather than trusting the first Check result to cover the whole
// request chain.
func (g *Guard) CheckRedirect(ctx context.Context, location, method string, tool *ToolPolicy) (Result, error) {
	return g.Check(ctx, location, method, tool)
}

func portFor(u *url.URL) int {
	if p := u.Port(); p != "" {
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return 0
			}
			n = n*10 + int(c-'0')
		}
		return n
	}
	switch u.Scheme {
	case "https":
		return 443
	case "http":
		return 80
	default:
		return 0
	}
}
