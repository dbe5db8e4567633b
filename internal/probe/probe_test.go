package probe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netmon/internal/observation"
)

type collectSink struct {
	mu  sync.Mutex
	obs []observation.Observation
}

func (s *collectSink) Put(o observation.Observation) bool {
	s.mu.Lock()
	s.obs = append(s.obs, o)
	s.mu.Unlock()
	return false
}

func (s *collectSink) snapshot() []observation.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]observation.Observation(nil), s.obs...)
}

type countingMetrics struct{ n atomic.Int64 }

func (m *countingMetrics) ObserveProbe(observation.Observation, time.Duration) { m.n.Add(1) }

// runFor runs p until d elapses and returns how long Run took to return after cancellation.
func runFor(t *testing.T, p *Probe, d time.Duration) time.Duration {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(d)
	cancel()
	stopped := time.Now()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("probe did not stop after cancellation")
	}
	return time.Since(stopped)
}

func TestLatencyProbeScenario(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	var dest atomic.Value
	p := NewLatency("1.1.1.1", func(ctx context.Context, d string) (float64, error) {
		dest.Store(d)
		return 10.0, nil
	}, Config{Schedule: Every(time.Second), Timeout: time.Second}, sink)

	runFor(t, p, 3*time.Second)

	got := sink.snapshot()
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "1.1.1.1", dest.Load())
	for _, o := range got {
		ms, ok := o.LatencyMs()
		assert.True(t, ok)
		assert.InDelta(t, 10.0, ms, 1e-9)
		rec := o.Record()
		assert.Equal(t, "10.00", rec[1])
		assert.Equal(t, observation.NA, rec[2])
		assert.Equal(t, observation.NA, rec[3])
	}
}

func TestLatencyFailureBecomesNA(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	metrics := &countingMetrics{}
	var calls atomic.Int64
	p := NewLatency("192.0.2.1", func(ctx context.Context, d string) (float64, error) {
		calls.Add(1)
		return 0, errors.New("destination unreachable")
	}, Config{Schedule: Every(50 * time.Millisecond)}, sink, WithMetrics(metrics))

	runFor(t, p, 400*time.Millisecond)

	got := sink.snapshot()
	require.GreaterOrEqual(t, len(got), 3, "loop must keep running on failures")
	assert.GreaterOrEqual(t, calls.Load(), int64(len(got)))
	assert.EqualValues(t, len(got), metrics.n.Load())
	for _, o := range got {
		assert.Equal(t, []string{o.Time().Format(observation.TimeLayout), observation.NA, observation.NA, observation.NA}, o.Record())
		assert.Equal(t, observation.KindLatency, o.Kind())
	}
}

func TestThroughputProbe(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	var n atomic.Int64
	p := NewThroughput(func(ctx context.Context) (float64, float64, error) {
		if n.Add(1)%2 == 0 {
			return 0, 0, errors.New("no servers available")
		}
		return 94.5, 12.25, nil
	}, Config{Schedule: Every(30 * time.Millisecond)}, sink)

	runFor(t, p, 300*time.Millisecond)

	got := sink.snapshot()
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, []string{got[0].Time().Format(observation.TimeLayout), observation.NA, "94.50", "12.25"}, got[0].Record())
	assert.False(t, got[1].OK())
	for _, o := range got {
		_, hasLatency := o.LatencyMs()
		assert.False(t, hasLatency)
	}
}

func TestTimeoutIsAMeasurementFailure(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	p := NewLatency("1.1.1.1", func(ctx context.Context, d string) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, Config{Schedule: Every(time.Hour), Timeout: 20 * time.Millisecond}, sink)

	runFor(t, p, 200*time.Millisecond)

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.False(t, got[0].OK())
}

func TestShutdownIsPromptDespiteLongInterval(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	p := NewThroughput(func(ctx context.Context) (float64, float64, error) {
		return 1, 1, nil
	}, Config{Schedule: Every(time.Hour)}, sink)

	took := runFor(t, p, 100*time.Millisecond)
	assert.Less(t, took, 2*time.Second)
	assert.Len(t, sink.snapshot(), 1)
}

func TestCancelledMeasurementIsDiscarded(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	started := make(chan struct{})
	p := NewLatency("1.1.1.1", func(ctx context.Context, d string) (float64, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, Config{Schedule: Every(time.Hour)}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	<-started
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, sink.snapshot())
}

func TestRunRejectsMissingCollaborators(t *testing.T) {
	t.Parallel()
	assert.Error(t, NewLatency("x", nil, Config{}, &collectSink{}).Run(context.Background()))
	assert.Error(t, NewThroughput(func(context.Context) (float64, float64, error) { return 0, 0, nil }, Config{}, nil).Run(context.Background()))
}

func TestClockStampsObservations(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	fixed := time.Date(2023, 6, 1, 12, 30, 45, 0, time.Local)
	p := NewLatency("1.1.1.1", func(ctx context.Context, d string) (float64, error) {
		return 3.14159, nil
	}, Config{Schedule: Every(time.Hour)}, sink, WithClock(func() time.Time { return fixed }))

	runFor(t, p, 50*time.Millisecond)

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"01/06/2023 12:30:45", "3.14", observation.NA, observation.NA}, got[0].Record())
	assert.Equal(t, "probe.latency", p.Name())
}

func TestMeasurementPanicBecomesNA(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	var calls atomic.Int64
	p := NewLatency("1.1.1.1", func(ctx context.Context, d string) (float64, error) {
		if calls.Add(1) == 1 {
			var m map[string]int
			m["boom"] = 1
		}
		return 7, nil
	}, Config{Schedule: Every(50 * time.Millisecond)}, sink)

	runFor(t, p, 300*time.Millisecond)

	got := sink.snapshot()
	require.GreaterOrEqual(t, len(got), 2, "loop must survive a panicking measurement")
	first, ok := got[0].LatencyMs()
	assert.False(t, ok, "panicking call is recorded as NA, got %v", first)
	v, ok := got[1].LatencyMs()
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestThroughputPanicBecomesNA(t *testing.T) {
	t.Parallel()
	sink := &collectSink{}
	p := NewThroughput(func(ctx context.Context) (float64, float64, error) {
		panic("bad server response")
	}, Config{Schedule: Every(time.Hour)}, sink)

	runFor(t, p, 100*time.Millisecond)

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, []string{observation.NA, observation.NA, observation.NA}, got[0].Record()[1:])
}
