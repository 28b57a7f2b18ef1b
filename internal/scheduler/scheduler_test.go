package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsInvalidJobs(t *testing.T) {
	s := New()
	assert.Error(t, s.Register(&Job{ID: "", Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Register(&Job{ID: "no-run", Every: time.Minute}))
	assert.Error(t, s.Register(&Job{ID: "no-cadence", Run: func(context.Context) error { return nil }}))

	require.NoError(t, s.Register(&Job{ID: "ok", Every: time.Minute, Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Register(&Job{ID: "ok", Every: time.Minute, Run: func(context.Context) error { return nil }}), "duplicate ids are rejected")
}

func TestComputeNextIntervalJob(t *testing.T) {
	j := &Job{Every: 30 * time.Minute}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(30*time.Minute), j.computeNext(now))
}

func TestComputeNextDailyJob(t *testing.T) {
	j := &Job{At: "02:00"}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	next := j.computeNext(now)
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(now))
	assert.Equal(t, now.Day()+1, next.Day(), "past today's 02:00, so tomorrow")
}

func TestComputeNextWeekdayJob(t *testing.T) {
	sunday := time.Sunday
	j := &Job{At: "02:45", Weekday: &sunday}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday

	next := j.computeNext(now)
	assert.Equal(t, time.Sunday, next.Weekday())
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 45, next.Minute())
}

func TestTriggerRunsJobImmediately(t *testing.T) {
	s := New()
	var ran atomic.Int32
	require.NoError(t, s.Register(&Job{
		ID: "manual", Every: time.Hour,
		Run: func(context.Context) error { ran.Add(1); return nil },
	}))

	require.NoError(t, s.Trigger(context.Background(), "manual"))
	s.wg.Wait()
	assert.Equal(t, int32(1), ran.Load())

	assert.Error(t, s.Trigger(context.Background(), "missing"))
}

func TestFireDueRunsOnlyDueJobs(t *testing.T) {
	s := New()
	var due, notDue atomic.Int32
	require.NoError(t, s.Register(&Job{ID: "due", Every: time.Millisecond, Run: func(context.Context) error { due.Add(1); return nil }}))
	require.NoError(t, s.Register(&Job{ID: "later", Every: time.Hour, Run: func(context.Context) error { notDue.Add(1); return nil }}))

	s.fireDue(context.Background(), time.Now().Add(time.Second))
	s.wg.Wait()

	assert.Equal(t, int32(1), due.Load())
	assert.Zero(t, notDue.Load())
}

func TestJobErrorsDoNotStopOtherJobs(t *testing.T) {
	s := New()
	var ok atomic.Int32
	require.NoError(t, s.Register(&Job{ID: "a-failing", Every: time.Millisecond, Run: func(context.Context) error { return fmt.Errorf("boom") }}))
	require.NoError(t, s.Register(&Job{ID: "b-passing", Every: time.Millisecond, Run: func(context.Context) error { ok.Add(1); return nil }}))

	s.fireDue(context.Background(), time.Now().Add(time.Second))
	s.wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestStartAndStop(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(&Job{ID: "noop", Every: time.Hour, Run: func(context.Context) error { return nil }}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()

	jobs := s.Jobs()
	assert.Contains(t, jobs, "noop")
}
