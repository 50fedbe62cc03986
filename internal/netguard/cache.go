package netguard

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Resolver matches net.DefaultResolver.LookupHost's signature so tests can
// substitute a fake without touching the network (I-N1 must hold even when
// resolution is mocked, per the seed DNS-rebinding scenario).
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type dnsEntry struct {
	ips       []string
	expiresAt time.Time
}

// dnsCache is a small TTL cache in front of the resolver, keyed by an
// xxhash of the normalized hostname so lookups stay O(1) without retaining
// the original string per entry.
type dnsCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint64]dnsEntry
	now     func() time.Time
}

func newDNSCache(ttl time.Duration) *dnsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &dnsCache{
		ttl:     ttl,
		entries: make(map[uint64]dnsEntry),
		now:     time.Now,
	}
}

func cacheKey(host string) uint64 {
	return xxhash.Sum64String(normalizeHost(host))
}

func (c *dnsCache) lookup(ctx context.Context, r Resolver, host string) ([]string, error) {
	key := cacheKey(host)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		ips := e.ips
		c.mu.Unlock()
		return ips, nil
	}
	c.mu.Unlock()

	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = dnsEntry{ips: ips, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return ips, nil
}

// netResolver adapts net.DefaultResolver to the Resolver interface.
type netResolver struct{}

func (netResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// formatHostPort mirrors net.JoinHostPort but tolerates port 0 (meaning
// "no explicit port was present in the original URL").
func formatHostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
