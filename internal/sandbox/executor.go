package sandbox

import (
	"context"
	"fmt"
)

// Executor dispatches a Request to the right isolation level, enforcing
// I-SB1 (container unavailable + container required → fail closed unless
// process fallback is explicitly configured).
type Executor struct {
	prober           *ContainerProber
	image            string
	allowProcessFall bool
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithContainerImage sets the base image used for container-level runs.
func WithContainerImage(image string) Option {
	return func(e *Executor) { e.image = image }
}

// WithProcessFallback opts into falling back to process-level isolation
// when containers are required but unavailable. Off by default — the
// safer failure mode is to refuse the call (I-SB1).
func WithProcessFallback(allow bool) Option {
	return func(e *Executor) { e.allowProcessFall = allow }
}

// NewExecutor builds an Executor and probes container availability
// immediately so the first tool call doesn't pay that latency.
func NewExecutor(ctx context.Context, opts ...Option) *Executor {
	e := &Executor{image: "alpine:latest"}
	for _, opt := range opts {
		opt(e)
	}
	e.prober = NewContainerProber(e.image)
	e.prober.Available(ctx)
	return e
}

// Run dispatches req to the isolation level it names.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	if req.Network && req.Level != LevelNone {
		// I-SB2: MVP never grants network access below the `none` level.
		return Result{}, fmt.Errorf("sandbox: network access is not permitted at level %q", req.Level)
	}

	switch req.Level {
	case LevelNone:
		return Result{}, fmt.Errorf("sandbox: level 'none' must be executed in-process by the caller, not dispatched here")
	case LevelProcess:
		return runProcess(ctx, req), nil
	case LevelContainer:
		if !e.prober.Available(ctx) {
			if !e.allowProcessFall {
				return Result{}, fmt.Errorf("sandbox: container backend unavailable and process fallback disabled (I-SB1)")
			}
			return runProcess(ctx, req), nil
		}
		return runContainer(ctx, req, e.image), nil
	default:
		return Result{}, fmt.Errorf("sandbox: unknown level %q", req.Level)
	}
}
