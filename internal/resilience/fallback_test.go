package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackChain_ReturnsFirstSuccessful(t *testing.T) {
	var tried []string
	opts := []FallbackOption[string]{
		{Name: "primary", Execute: func(ctx context.Context) (string, error) {
			tried = append(tried, "primary")
			return "", errors.New("down")
		}},
		{Name: "secondary", Execute: func(ctx context.Context) (string, error) {
			tried = append(tried, "secondary")
			return "ok", nil
		}},
		{Name: "tertiary", Execute: func(ctx context.Context) (string, error) {
			tried = append(tried, "tertiary")
			return "never", nil
		}},
	}

	result, err := FallbackChain(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"primary", "secondary"}, tried)
}

func TestFallbackChain_SkipsUnavailableOptions(t *testing.T) {
	var tried []string
	opts := []FallbackOption[int]{
		{
			Name:        "unavailable",
			IsAvailable: func(ctx context.Context) bool { return false },
			Execute: func(ctx context.Context) (int, error) {
				tried = append(tried, "unavailable")
				return 0, nil
			},
		},
		{
			Name: "available",
			Execute: func(ctx context.Context) (int, error) {
				tried = append(tried, "available")
				return 7, nil
			},
		},
	}

	result, err := FallbackChain(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, []string{"available"}, tried)
}

func TestFallbackChain_AllFailedReturnsErrorsByName(t *testing.T) {
	opts := []FallbackOption[string]{
		{Name: "a", Execute: func(ctx context.Context) (string, error) { return "", errors.New("a-down") }},
		{Name: "b", Execute: func(ctx context.Context) (string, error) { return "", errors.New("b-down") }},
	}

	_, err := FallbackChain(context.Background(), opts)
	require.Error(t, err)

	var failed *AllFallbacksFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "a-down", failed.Errors["a"].Error())
	assert.Equal(t, "b-down", failed.Errors["b"].Error())
}
