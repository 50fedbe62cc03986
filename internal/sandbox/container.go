package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// ContainerProber checks whether the container backend is reachable.
// Probed once at startup and cached; a live deployment doesn't want to
// shell out to `docker info` on every tool call.
type ContainerProber struct {
	once      sync.Once
	available bool
	image     string
}

// NewContainerProber builds a prober for the given base image (used for
// commands that don't declare a language-specific image of their own).
func NewContainerProber(image string) *ContainerProber {
	if image == "" {
		image = "alpine:latest"
	}
	return &ContainerProber{image: image}
}

// Available runs the probe exactly once and caches the result.
func (p *ContainerProber) Available(ctx context.Context) bool {
	p.once.Do(func() {
		cmd := exec.CommandContext(ctx, "docker", "info")
		p.available = cmd.Run() == nil
	})
	return p.available
}

// runContainer executes req inside a locked-down Docker container:
// network disabled, read-only root, all capabilities dropped, running as
// `nobody`, with resource and pid limits and a read-write bind mount of
// workDir (spec §4.4 container level).
func runContainer(ctx context.Context, req Request, image string) Result {
	start := time.Now()

	timeout := req.Limits.Timeout
	if timeout <= 0 {
		timeout = DefaultLimits().Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limits := req.Limits
	if limits.CPUMillis <= 0 {
		limits.CPUMillis = DefaultLimits().CPUMillis
	}
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = DefaultLimits().MemoryMB
	}
	if limits.PidsLimit <= 0 {
		limits.PidsLimit = DefaultLimits().PidsLimit
	}

	args := []string{
		"run", "--rm",
		"--network", "none", // I-SB2: always network=none for bash-style tools
		"--read-only",
		"--cap-drop", "ALL",
		"--user", "nobody",
		"--cpus", fmt.Sprintf("%.2f", float64(limits.CPUMillis)/1000.0),
		"--memory", fmt.Sprintf("%dm", limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", limits.MemoryMB),
		"--pids-limit", fmt.Sprintf("%d", limits.PidsLimit),
	}
	if req.Paths.WorkDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:rw", req.Paths.WorkDir), "-w", "/workspace")
	}
	if req.Stdin != "" {
		args = append(args, "-i")
	}
	args = append(args, image, req.Command)
	args = append(args, req.Args...)

	cmd := exec.CommandContext(execCtx, "docker", args...)
	if req.Stdin != "" {
		cmd.Stdin = bytesReader(req.Stdin)
	}

	outCap := req.Limits.OutputCap
	if outCap <= 0 {
		outCap = DefaultLimits().OutputCap
	}
	stdout := &capWriter{cap: outCap}
	stderr := &capWriter{cap: outCap}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  time.Since(start),
	}

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ErrorMessage = "execution timeout"
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ErrorMessage = err.Error()
		}
	}
	return res
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}
