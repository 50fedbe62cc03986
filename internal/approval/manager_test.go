package approval

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPrompter struct {
	decision Decision
	delay    time.Duration
	calls    int32
}

func (p *scriptedPrompter) RequestApproval(ctx context.Context, req Request) (Decision, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Timeout, nil
		}
	}
	return p.decision, nil
}

func TestManager_GrantIsReusedWithinSession(t *testing.T) {
	p := &scriptedPrompter{decision: Granted}
	m := NewManager(p, nil)

	req := Request{ID: CanonicalID("fs", "", "write", "/tmp/x"), SessionID: "s1", Level: LevelAsk}

	d1, err := m.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Granted, d1)

	d2, err := m.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Granted, d2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

func TestManager_AlwaysLevelGrantsAreOneShot(t *testing.T) {
	p := &scriptedPrompter{decision: Granted}
	m := NewManager(p, nil)

	req1 := Request{ID: CanonicalID("fs", "", "delete", "/tmp/a"), SessionID: "s1", Level: LevelAlways}
	_, err := m.Request(context.Background(), req1)
	require.NoError(t, err)

	// A fresh id (as the caller must mint for `always`) re-prompts.
	req2 := Request{ID: CanonicalID("fs", "", "delete", "/tmp/b"), SessionID: "s1", Level: LevelAlways}
	_, err = m.Request(context.Background(), req2)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&p.calls))
}

func TestManager_DeniedIsNotCached(t *testing.T) {
	p := &scriptedPrompter{decision: Denied}
	m := NewManager(p, nil)

	req := Request{ID: CanonicalID("fs", "", "write", "/tmp/x"), SessionID: "s1", Level: LevelAsk}
	d1, _ := m.Request(context.Background(), req)
	assert.Equal(t, Denied, d1)

	d2, _ := m.Request(context.Background(), req)
	assert.Equal(t, Denied, d2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.calls))
}

func TestManager_TimeoutBehavesAsDenied(t *testing.T) {
	p := &scriptedPrompter{decision: Granted, delay: 100 * time.Millisecond}
	m := NewManager(p, nil)

	req := Request{ID: "tool:action:target", SessionID: "s1", Level: LevelAsk, Deadline: 10 * time.Millisecond}
	d, _ := m.Request(context.Background(), req)
	assert.Equal(t, Timeout, d)
}

func TestCanonicalID_IncludesCategoryWhenPresent(t *testing.T) {
	assert.Equal(t, "fs:file:write:/tmp/x", CanonicalID("fs", "file", "write", "/tmp/x"))
	assert.Equal(t, "fs:write:/tmp/x", CanonicalID("fs", "", "write", "/tmp/X"))
}
