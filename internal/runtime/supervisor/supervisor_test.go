package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	var siblingStopped atomic.Bool
	s.Go("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		siblingStopped.Store(true)
		return ctx.Err()
	})
	s.Go("writer", func(ctx context.Context) error {
		return errors.New("disk full")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.EqualError(t, err, "writer: disk full")
	assert.True(t, siblingStopped.Load())
	assert.Zero(t, s.Counters().Active)
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("boom", func(ctx context.Context) error { panic("unexpected") })

	err := s.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom: panic: unexpected")

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.EqualValues(t, 1, snap.Tasks[0].Panics)
	assert.Equal(t, "unexpected", snap.Tasks[0].LastPanic)
	assert.NotEmpty(t, snap.FirstError)
}

func TestCanceledIsCleanStop(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(context.Background()))
	assert.Empty(t, s.Snapshot().FirstError)
}

func TestWaitHonorsDeadline(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	release := make(chan struct{})
	s.Go("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Wait(context.Background()))
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("server", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("bind: address in use")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	require.NoError(t, s.Wait(context.Background()))
	assert.EqualValues(t, 3, runs.Load())

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.EqualValues(t, 2, snap.Tasks[0].Restarts)
	assert.Contains(t, snap.Tasks[0].LastErr, "address in use")
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	s.GoRestart("watcher", func(ctx context.Context) error {
		runs.Add(1)
		panic("bad state")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2), WithFatalOnGiveUp(true))

	err := s.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watcher")
	assert.EqualValues(t, 3, runs.Load())
	assert.Error(t, s.Context().Err())
}
