package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWeightLimiter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *WeightLimiterConfig
		wantErr bool
	}{
		{name: "nil config uses defaults", cfg: nil, wantErr: false},
		{name: "negative budget", cfg: &WeightLimiterConfig{Budget: -1}, wantErr: true},
		{name: "fraction above one", cfg: &WeightLimiterConfig{PauseFraction: 1.5}, wantErr: true},
		{name: "custom values", cfg: &WeightLimiterConfig{Budget: 600, PauseFraction: 0.5}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewWeightLimiter(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestReserveUnderBudget(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	now := func() time.Time { return start }

	l, err := NewWeightLimiter(&WeightLimiterConfig{Budget: 1200, Now: now})
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), l.Reserve(10))
	assert.Equal(t, 10, l.UsedWeight())
}

func TestReserveNearBudgetReturnsWait(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	now := func() time.Time { return start }

	l, err := NewWeightLimiter(&WeightLimiterConfig{Budget: 1200, Now: now})
	require.NoError(t, err)

	// The server reports 1150/1200 used: the next call must be delayed.
	l.SyncUsedWeight(1150)
	wait := l.Reserve(10)
	assert.Greater(t, wait, time.Duration(0))
	// Wait should not exceed the remaining window plus the safety buffer.
	assert.LessOrEqual(t, wait, 31*time.Second)
}

func TestWindowRollResetsCounter(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 55, 0, time.UTC)
	now := func() time.Time { return current }

	l, err := NewWeightLimiter(&WeightLimiterConfig{Budget: 1200, Now: now})
	require.NoError(t, err)

	l.SyncUsedWeight(1190)
	assert.Greater(t, l.Reserve(20), time.Duration(0))

	// Next minute: counter resets, calls proceed.
	current = current.Add(10 * time.Second)
	assert.Equal(t, time.Duration(0), l.Reserve(20))
	assert.Equal(t, 20, l.UsedWeight())
}

func TestServerReportIsAuthoritative(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	now := func() time.Time { return start }

	l, err := NewWeightLimiter(&WeightLimiterConfig{Budget: 1200, Now: now})
	require.NoError(t, err)

	l.Reserve(400)
	l.SyncUsedWeight(25)
	assert.Equal(t, 25, l.UsedWeight())
}

func TestCooldownUsesRetryHint(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	now := func() time.Time { return current }

	l, err := NewWeightLimiter(&WeightLimiterConfig{Budget: 1200, Now: now})
	require.NoError(t, err)

	wait := l.Cooldown(45 * time.Second)
	assert.Equal(t, 45*time.Second, wait)

	// During cool-down, Reserve reports the remaining time.
	blocked := l.Reserve(1)
	assert.Greater(t, blocked, 40*time.Second)

	// After the cool-down window passes, calls proceed again.
	current = current.Add(46 * time.Second)
	assert.Equal(t, time.Duration(0), l.Reserve(1))
}

func TestCooldownBackoffDoublesAndCaps(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	now := func() time.Time { return start }

	l, err := NewWeightLimiter(&WeightLimiterConfig{Budget: 1200, Now: now})
	require.NoError(t, err)

	var prev time.Duration
	for i := 0; i < 8; i++ {
		wait := l.Cooldown(0)
		assert.Greater(t, wait, time.Duration(0))
		// Even with jitter, the schedule never exceeds the cap plus 20%.
		assert.LessOrEqual(t, wait, maxCooldown+maxCooldown/5)
		if i > 0 && i < 5 {
			// The base delay doubles; jitter keeps this approximate.
			assert.Greater(t, wait, prev/2)
		}
		prev = wait
	}
}
