package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (s *countingSyncer) SyncAll(context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(&SchedulerConfig{})
	assert.Error(t, err)

	_, err = NewScheduler(&SchedulerConfig{Syncer: &countingSyncer{}, Interval: time.Second})
	assert.Error(t, err)

	s, err := NewScheduler(&SchedulerConfig{Syncer: &countingSyncer{}})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, s.interval)
}

func TestSchedulerRunsImmediatelyOnStart(t *testing.T) {
	syncer := &countingSyncer{}
	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer, Interval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background()) // nolint:errcheck // cleanup in defer

	assert.Eventually(t, func() bool {
		return syncer.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)

	running, lastRun := s.Status()
	assert.True(t, running)
	assert.False(t, lastRun.IsZero())
}

func TestSchedulerStopIsGraceful(t *testing.T) {
	syncer := &countingSyncer{}
	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer, Interval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	running, _ := s.Status()
	assert.False(t, running)

	// A second stop reports the stopped state instead of blocking.
	assert.Error(t, s.Stop(context.Background()))
}

func TestSchedulerRejectsDoubleStart(t *testing.T) {
	s, err := NewScheduler(&SchedulerConfig{Syncer: &countingSyncer{}, Interval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background()) // nolint:errcheck // cleanup in defer

	assert.Error(t, s.Start(context.Background()))
}

func TestSchedulerKeepsRunningAfterSyncError(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("exchange down")}
	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer, Interval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return syncer.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)

	running, _ := s.Status()
	assert.True(t, running)
	require.NoError(t, s.Stop(context.Background()))
}
