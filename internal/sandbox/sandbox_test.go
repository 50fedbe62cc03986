package sandbox

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPath_AllowsWithinWorkDir(t *testing.T) {
	p := PathPolicy{WorkDir: "/tmp/work"}
	assert.NoError(t, CheckPath(p, "/tmp/work/file.txt"))
	assert.NoError(t, CheckPath(p, "/tmp/work"))
}

func TestCheckPath_DeniesEscapeViaDotDot(t *testing.T) {
	p := PathPolicy{WorkDir: "/tmp/work"}
	err := CheckPath(p, "/tmp/work/../../etc/passwd")
	require.Error(t, err)
	var pathErr *ErrPathDenied
	assert.ErrorAs(t, err, &pathErr)
}

func TestCheckPath_DenyListWinsOverAllow(t *testing.T) {
	p := PathPolicy{WorkDir: "/tmp/work", Allow: []string{"/tmp/work/secrets"}, Deny: []string{"/tmp/work/secrets"}}
	err := CheckPath(p, "/tmp/work/secrets/key.pem")
	assert.Error(t, err)
}

func TestCheckPath_AllowExtendsBeyondWorkDir(t *testing.T) {
	p := PathPolicy{WorkDir: "/tmp/work", Allow: []string{"/tmp/shared"}}
	assert.NoError(t, CheckPath(p, "/tmp/shared/data.csv"))
	assert.Error(t, CheckPath(p, "/tmp/other/data.csv"))
}

func TestRunProcess_CapturesOutputAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell only")
	}
	req := Request{
		Level:   LevelProcess,
		Command: "/bin/sh",
		Args:    []string{"-c", "echo hello; exit 3"},
		Limits:  DefaultLimits(),
	}
	res := runProcess(context.Background(), req)
	assert.Contains(t, res.Stdout, "hello")
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestRunProcess_EnforcesTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell only")
	}
	req := Request{
		Level:   LevelProcess,
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 5"},
		Limits:  Limits{Timeout: 50 * time.Millisecond, OutputCap: 1024},
	}
	res := runProcess(context.Background(), req)
	assert.True(t, res.TimedOut)
}

func TestRunProcess_TruncatesOutputAtCap(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell only")
	}
	req := Request{
		Level:   LevelProcess,
		Command: "/bin/sh",
		Args:    []string{"-c", "yes x | head -c 10000"},
		Limits:  Limits{Timeout: 2 * time.Second, OutputCap: 16},
	}
	res := runProcess(context.Background(), req)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Stdout, "[TRUNCATED")
}

func TestExecutor_FailsClosedWhenContainerUnavailableAndNoFallback(t *testing.T) {
	e := &Executor{prober: &ContainerProber{available: false}, image: "alpine:latest"}
	e.prober.once.Do(func() {}) // pretend the probe already ran and found nothing

	_, err := e.Run(context.Background(), Request{Level: LevelContainer, Command: "true"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I-SB1")
}

func TestExecutor_FallsBackToProcessWhenConfigured(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell only")
	}
	e := &Executor{prober: &ContainerProber{available: false}, image: "alpine:latest", allowProcessFall: true}
	e.prober.once.Do(func() {})

	res, err := e.Run(context.Background(), Request{
		Level:   LevelContainer,
		Command: "/bin/sh",
		Args:    []string{"-c", "echo fallback"},
		Limits:  DefaultLimits(),
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "fallback")
}

func TestExecutor_RejectsNetworkBelowNoneLevel(t *testing.T) {
	e := &Executor{prober: &ContainerProber{available: true}, image: "alpine:latest"}
	e.prober.once.Do(func() {})

	_, err := e.Run(context.Background(), Request{Level: LevelProcess, Command: "true", Network: true})
	require.Error(t, err)
}
