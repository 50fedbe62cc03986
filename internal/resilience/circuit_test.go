package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(CircuitConfig{DependencyID: "dep", FailureThreshold: 3}, nil, nil)
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 2; i++ {
		err := b.Execute(context.Background(), failing)
		assert.Error(t, err)
		assert.Equal(t, StateClosed, b.State())
	}

	err := b.Execute(context.Background(), failing)
	assert.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	b := NewBreaker(CircuitConfig{DependencyID: "dep", FailureThreshold: 1, ResetTimeout: time.Hour}, nil, nil)
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker(CircuitConfig{DependencyID: "dep", FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}, nil, nil)
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	now = now.Add(20 * time.Millisecond)
	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(CircuitConfig{DependencyID: "dep", FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}, nil, nil)
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	now = now.Add(20 * time.Millisecond)
	err := b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still broken") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestExecuteWithResult_PropagatesValueAndState(t *testing.T) {
	b := NewBreaker(CircuitConfig{DependencyID: "dep", FailureThreshold: 2}, nil, nil)
	v, err := ExecuteWithResult(b, context.Background(), func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, StateClosed, b.State())
}

func TestRegistry_GetIsIdempotentPerDependency(t *testing.T) {
	r := NewRegistry(CircuitConfig{FailureThreshold: 2}, nil, nil)
	a := r.Get("dep-a")
	b := r.Get("dep-a")
	assert.Same(t, a, b)

	c := r.Get("dep-b")
	assert.NotSame(t, a, c)
}

func TestRegistry_OpenDependenciesListsOnlyOpenBreakers(t *testing.T) {
	r := NewRegistry(CircuitConfig{FailureThreshold: 1}, nil, nil)
	r.Get("healthy")
	broken := r.Get("broken")
	_ = broken.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })

	assert.Equal(t, []string{"broken"}, r.OpenDependencies())
}
