package netguard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	ips map[string][]string
}

func (f fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f.ips[host], nil
}

func TestGuard_DNSRebindingIsBlockedEvenWhenToolAllowlists(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGuard(cfg).WithResolver(fakeResolver{ips: map[string][]string{
		"localhost": {"127.0.0.1"},
	}})

	tool := &ToolPolicy{Mode: ModeAllowlist, AllowedHosts: []string{"localhost"}}

	res, err := g.Check(context.Background(), "http://localhost/admin", "GET", tool)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "hostname blocked by policy", res.Reason)
}

func TestGuard_DNSRebindingBlockedOnNonLiteralLocalhost(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGuard(cfg).WithResolver(fakeResolver{ips: map[string][]string{
		"attacker.example.com": {"127.0.0.1"},
	}})

	tool := &ToolPolicy{Mode: ModeAllowlist, AllowedHosts: []string{"attacker.example.com"}}

	res, err := g.Check(context.Background(), "http://attacker.example.com/", "GET", tool)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "private IP not allowed", res.Reason)
}

func TestGuard_AllowsPublicResolvedHost(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGuard(cfg).WithResolver(fakeResolver{ips: map[string][]string{
		"api.example.com": {"93.184.216.34"},
	}})

	res, err := g.Check(context.Background(), "https://api.example.com/v1/data", "GET", nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, "93.184.216.34", res.ResolvedIP)
}

func TestGuard_ToolAllowlistNarrowsGlobal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Allowlist = []HostMethodRule{{Host: "*.example.com", Methods: []string{"GET"}}}
	g := NewGuard(cfg).WithResolver(fakeResolver{ips: map[string][]string{
		"a.example.com": {"93.184.216.1"},
		"b.example.com": {"93.184.216.2"},
	}})

	tool := &ToolPolicy{Mode: ModeAllowlist, AllowedHosts: []string{"a.example.com"}}

	allowedA, err := g.Check(context.Background(), "http://a.example.com/", "GET", tool)
	require.NoError(t, err)
	assert.True(t, allowedA.Allowed)

	// Global allowlist covers b.example.com, but the tool's own (narrower)
	// allowlist does not — intersection must reject it (P-NET-INTERSECT).
	deniedB, err := g.Check(context.Background(), "http://b.example.com/", "GET", tool)
	require.NoError(t, err)
	assert.False(t, deniedB.Allowed)
}

func TestGuard_ToolPolicyCannotBroadenGlobalAllowlist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Allowlist = []HostMethodRule{{Host: "api.example.com", Methods: []string{"GET"}}}
	g := NewGuard(cfg).WithResolver(fakeResolver{ips: map[string][]string{
		"evil.example.org": {"93.184.216.9"},
	}})

	tool := &ToolPolicy{Mode: ModeAllowlist, AllowedHosts: []string{"evil.example.org"}}

	res, err := g.Check(context.Background(), "http://evil.example.org/", "GET", tool)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "host/method not in global allowlist", res.Reason)
}

func TestGuard_BlocksMetadataEndpointLiteralIP(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGuard(cfg)

	res, err := g.Check(context.Background(), "http://169.254.169.254/latest/meta-data", "GET", nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "private IP not allowed", res.Reason)
}

func TestGuard_BlocksSensitivePort(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGuard(cfg).WithResolver(fakeResolver{ips: map[string][]string{
		"ssh.example.com": {"93.184.216.5"},
	}})

	res, err := g.Check(context.Background(), "http://ssh.example.com:22/", "GET", nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "port blocked by policy", res.Reason)
}

func TestGuard_ToolBlocklistRejectsSpecificHost(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGuard(cfg).WithResolver(fakeResolver{ips: map[string][]string{
		"tracker.example.com": {"93.184.216.6"},
	}})

	tool := &ToolPolicy{Mode: ModeBlocklist, BlockedHosts: []string{"tracker.example.com"}}

	res, err := g.Check(context.Background(), "http://tracker.example.com/", "GET", tool)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "host in tool blocklist", res.Reason)
}

func TestGuard_DNSAnswersAreCached(t *testing.T) {
	cfg := DefaultConfig()
	calls := 0
	resolver := countingResolver{inner: fakeResolver{ips: map[string][]string{
		"cached.example.com": {"93.184.216.7"},
	}}, count: &calls}
	g := NewGuard(cfg).WithResolver(resolver)

	for i := 0; i < 3; i++ {
		res, err := g.Check(context.Background(), "http://cached.example.com/", "GET", nil)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	assert.Equal(t, 1, calls)
}

type countingResolver struct {
	inner Resolver
	count *int
}

func (c countingResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	*c.count++
	return c.inner.LookupHost(ctx, host)
}
