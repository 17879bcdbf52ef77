package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"zero policy retries immediately", RetryPolicy{}, 1, 0},
		{"zero attempt", RetryPolicy{InitialInterval: time.Second, Multiplier: 2}, 0, 0},
		{"first attempt", RetryPolicy{InitialInterval: 100 * time.Millisecond, Multiplier: 2}, 1, 100 * time.Millisecond},
		{"second attempt doubles", RetryPolicy{InitialInterval: 100 * time.Millisecond, Multiplier: 2}, 2, 200 * time.Millisecond},
		{"third attempt doubles again", RetryPolicy{InitialInterval: 100 * time.Millisecond, Multiplier: 2}, 3, 400 * time.Millisecond},
		{"capped at max interval", RetryPolicy{InitialInterval: 100 * time.Millisecond, MaxInterval: 250 * time.Millisecond, Multiplier: 2}, 3, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.policy.Delay(tt.attempt))
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	options := applyDefaults(nil)

	require.Equal(t, DefaultOptions.MaxConcurrentWorkflows, options.MaxConcurrentWorkflows)
	require.Equal(t, DefaultOptions.PollingInterval, options.PollingInterval)
	require.NotNil(t, options.Logger)
	require.NotNil(t, options.Publisher)
	require.NotNil(t, options.Clock)
}
