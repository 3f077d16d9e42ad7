// Package ratelimit tracks the request-weight budget the exchange enforces
// per rolling minute and computes how long callers must wait before the next
// request.
package ratelimit

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Default budget configuration values.
const (
	// DefaultWeightBudget is Binance's per-minute request weight limit.
	DefaultWeightBudget = 1200
	// DefaultPauseFraction pauses requests once projected usage crosses
	// this share of the budget.
	DefaultPauseFraction = 0.92
	// DefaultWindowSize is the rolling window the budget applies to.
	DefaultWindowSize = time.Minute

	// Cool-down backoff schedule applied on 429/418 without a retry hint.
	baseCooldown = 2 * time.Second
	maxCooldown  = 60 * time.Second
)

// WeightLimiter tracks consumed request weight in the current one-minute
// window. The counter is advisory between calls: whenever the server reports
// its own used-weight header the local counter is resynchronized to that
// authoritative value.
type WeightLimiter struct {
	mu sync.Mutex

	budget     int
	pauseAt    int
	windowSize time.Duration

	usedWeight  int
	windowStart time.Time

	cooldownUntil time.Time
	cooldownStep  time.Duration

	now func() time.Time
}

// WeightLimiterConfig holds configuration for the limiter.
type WeightLimiterConfig struct {
	// Budget is the total weight allowed per window. Default: 1200.
	Budget int

	// PauseFraction is the share of the budget at which Reserve starts
	// returning wait durations. Default: 0.92.
	PauseFraction float64

	// WindowSize is the rolling window duration. Default: 1 minute.
	WindowSize time.Duration

	// Now is an injectable clock for tests. Default: time.Now.
	Now func() time.Time
}

// NewWeightLimiter creates a limiter with the given configuration.
func NewWeightLimiter(cfg *WeightLimiterConfig) (*WeightLimiter, error) {
	if cfg == nil {
		cfg = &WeightLimiterConfig{}
	}
	budget := cfg.Budget
	if budget == 0 {
		budget = DefaultWeightBudget
	}
	if budget < 0 {
		return nil, errors.New("weight budget cannot be negative")
	}

	fraction := cfg.PauseFraction
	if fraction == 0 {
		fraction = DefaultPauseFraction
	}
	if fraction <= 0 || fraction > 1 {
		return nil, errors.New("pause fraction must be in (0, 1]")
	}

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &WeightLimiter{
		budget:       budget,
		pauseAt:      int(float64(budget) * fraction),
		windowSize:   windowSize,
		now:          now,
		cooldownStep: baseCooldown,
	}
	l.windowStart = now().Truncate(windowSize)
	return l, nil
}

// Reserve accounts for a call of the given weight and returns how long the
// caller must wait before dispatching it. A zero duration means the call may
// proceed immediately.
func (l *WeightLimiter) Reserve(weight int) time.Duration {
	if weight < 0 {
		weight = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollWindow(now)

	if wait := l.cooldownUntil.Sub(now); wait > 0 {
		return wait
	}

	if l.usedWeight+weight > l.pauseAt {
		// Wait out the remainder of the window, plus a small buffer so
		// we land inside the fresh one.
		wait := l.windowStart.Add(l.windowSize).Sub(now) + time.Second
		if wait < 0 {
			wait = time.Second
		}
		return wait
	}

	l.usedWeight += weight
	return 0
}

// SyncUsedWeight resynchronizes the local counter to the used weight the
// server reported. The server's accounting is the source of truth.
func (l *WeightLimiter) SyncUsedWeight(used int) {
	if used < 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollWindow(l.now())
	l.usedWeight = used
	// A successful response means the ban is over.
	l.cooldownStep = baseCooldown
}

// Cooldown enters a forced cool-down after a 429/418 response. retryAfter is
// the server's hint; when zero the limiter falls back to an exponential
// backoff schedule with jitter.
func (l *WeightLimiter) Cooldown(retryAfter time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	wait := retryAfter
	if wait <= 0 {
		wait = l.cooldownStep
		l.cooldownStep *= 2
		if l.cooldownStep > maxCooldown {
			l.cooldownStep = maxCooldown
		}
		// Jitter of up to ±20% keeps retries from synchronizing.
		jitter := time.Duration(rand.Int63n(int64(wait) / 5))
		if rand.Intn(2) == 0 {
			wait += jitter
		} else {
			wait -= jitter
		}
	}

	l.cooldownUntil = l.now().Add(wait)
	return wait
}

// UsedWeight returns the weight consumed in the current window.
func (l *WeightLimiter) UsedWeight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollWindow(l.now())
	return l.usedWeight
}

// Budget returns the configured per-window weight budget.
func (l *WeightLimiter) Budget() int {
	return l.budget
}

// rollWindow resets the counter when the current window has elapsed.
// Callers must hold the mutex.
func (l *WeightLimiter) rollWindow(now time.Time) {
	windowStart := now.Truncate(l.windowSize)
	if windowStart.After(l.windowStart) {
		l.windowStart = windowStart
		l.usedWeight = 0
	}
}
