package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// capWriter caps how many bytes are retained, setting Truncated once the
// limit is hit, without slowing down writes after that point.
type capWriter struct {
	buf       bytes.Buffer
	cap       int
	truncated bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	if w.cap <= 0 || w.buf.Len() >= w.cap {
		if w.buf.Len() >= w.cap && w.cap > 0 {
			w.truncated = true
		}
		return len(p), nil
	}
	remaining := w.cap - w.buf.Len()
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

func (w *capWriter) String() string {
	if w.truncated {
		return w.buf.String() + "[TRUNCATED: output exceeded cap]"
	}
	return w.buf.String()
}

// runProcess spawns req.Command as a child with a cleaned environment,
// enforced workDir, and byte-capped stdout/stderr (spec §4.4 process
// level).
func runProcess(ctx context.Context, req Request) Result {
	start := time.Now()

	if req.Paths.WorkDir != "" {
		if err := CheckPath(req.Paths, req.Paths.WorkDir); err != nil {
			return Result{ErrorMessage: err.Error(), Duration: time.Since(start)}
		}
	}

	timeout := req.Limits.Timeout
	if timeout <= 0 {
		timeout = DefaultLimits().Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	cmd.Dir = req.Paths.WorkDir
	cmd.Env = cleanedEnv(req.Env)
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
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
