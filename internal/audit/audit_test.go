package audit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, integrity bool) *Logger {
	t.Helper()
	l, err := NewLogger(Config{Dir: t.TempDir(), IntegrityMode: integrity, BufferSize: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogger_StripsNeverLogFieldsUnconditionally(t *testing.T) {
	l := newTestLogger(t, false)
	ts := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	l.Log(Entry{
		Timestamp: ts,
		Category:  "tool",
		Action:    "tool_completed",
		Severity:  SeverityInfo,
		Metadata: map[string]any{
			"tool": map[string]any{"output": "super secret raw output", "name": "web_fetch"},
			"message": map[string]any{
				"content": "should never persist",
			},
			"toolName": "web_fetch",
		},
	})
	require.NoError(t, l.Close())

	entries, err := l.QueryDay("2026-01-02")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	tool, ok := entries[0].Metadata["tool"].(map[string]any)
	require.True(t, ok)
	_, hasOutput := tool["output"]
	assert.False(t, hasOutput)
	assert.Equal(t, "web_fetch", tool["name"])

	msg, ok := entries[0].Metadata["message"].(map[string]any)
	require.True(t, ok)
	_, hasContent := msg["content"]
	assert.False(t, hasContent)
}

func TestLogger_IntegrityModeFormsVerifiableChain(t *testing.T) {
	l := newTestLogger(t, true)
	ts := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		l.Log(Entry{Timestamp: ts, Category: "tool", Action: "tool_completed", Severity: SeverityInfo})
	}
	require.NoError(t, l.Close())

	entries, err := l.QueryDay("2026-03-04")
	require.NoError(t, err)
	require.Len(t, entries, 5)

	result, err := VerifyChain(entries)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, -1, result.BrokenAt)

	entries[2].Category = "tampered"
	tampered, err := VerifyChain(entries)
	require.NoError(t, err)
	assert.False(t, tampered.Valid)
	assert.Equal(t, 2, tampered.BrokenAt)
}

func TestLogger_QueryFiltersByCategoryActionSeverityAndTime(t *testing.T) {
	l := newTestLogger(t, false)
	day := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	l.Log(Entry{Timestamp: day, Category: "tool", Action: "tool_denied", Severity: SeverityWarn})
	l.Log(Entry{Timestamp: day, Category: "tool", Action: "tool_completed", Severity: SeverityInfo})
	l.Log(Entry{Timestamp: day, Category: "session", Action: "session_created", Severity: SeverityInfo})
	require.NoError(t, l.Close())

	got, err := l.Query(Filter{Category: "tool", Action: "tool_denied"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, SeverityWarn, got[0].Severity)

	got2, err := l.Query(Filter{Since: day.Add(-time.Hour), Until: day.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, got2, 3)

	got3, err := l.Query(Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got3, 1)
}

func TestAlertEngine_FiresAtThresholdThenCoolsDown(t *testing.T) {
	e := NewAlertEngine([]AlertRule{
		{Category: "tool", Action: "tool_denied", Threshold: 3, Window: time.Minute, Cooldown: time.Hour},
	})
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixedNow }

	entry := Entry{Category: "tool", Action: "tool_denied"}

	assert.Empty(t, e.Evaluate(entry))
	assert.Empty(t, e.Evaluate(entry))
	fired := e.Evaluate(entry)
	require.Len(t, fired, 1)
	assert.Equal(t, 3, fired[0].Count)

	// Cooldown suppresses further firing even though the count would
	// still cross threshold.
	assert.Empty(t, e.Evaluate(entry))
	assert.Empty(t, e.Evaluate(entry))
	assert.Empty(t, e.Evaluate(entry))
}

func TestAlertEngine_WindowExpiresOldEvents(t *testing.T) {
	e := NewAlertEngine([]AlertRule{
		{Category: "auth", Action: "login_failed", Threshold: 2, Window: time.Minute, Cooldown: time.Minute},
	})
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return current }

	entry := Entry{Category: "auth", Action: "login_failed"}
	assert.Empty(t, e.Evaluate(entry))

	current = current.Add(2 * time.Minute) // outside the window, first event should have expired
	assert.Empty(t, e.Evaluate(entry))
}

func TestLogger_DeliversFiredAlertsToSink(t *testing.T) {
	var fired []AlertAction
	var mu sync.Mutex
	sink := func(a AlertAction) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, a)
	}

	l, err := NewLoggerWithAlertSink(Config{
		Dir:        t.TempDir(),
		BufferSize: 16,
		AlertRules: []AlertRule{{Category: "tool", Action: "tool_denied", Threshold: 2, Window: time.Minute, Cooldown: time.Hour}},
	}, sink)
	require.NoError(t, err)
	defer l.Close()

	l.Log(Entry{Category: "tool", Action: "tool_denied"})
	l.Log(Entry{Category: "tool", Action: "tool_denied"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, time.Millisecond)
}

func TestCanonicalJSON_SortsKeysAndOmitsHashFields(t *testing.T) {
	e := Entry{
		Category:  "tool",
		Action:    "tool_completed",
		EntryHash: "should-be-excluded",
		PrevHash:  "also-excluded",
	}
	body, err := canonicalJSON(e)
	require.NoError(t, err)
	s := string(body)
	assert.NotContains(t, s, "should-be-excluded")
	assert.NotContains(t, s, "also-excluded")
}
