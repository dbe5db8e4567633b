package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netmon/internal/config"
	"netmon/internal/observation"
	"netmon/internal/probe"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Ping.Interval = "200ms"
	cfg.Speedtest.Interval = "1h"
	cfg.Output.Path = filepath.Join(t.TempDir(), "network_data.csv")
	cfg.Queue.PollTimeout = "50ms"
	cfg.Logging.Level = "error"
	return cfg
}

func fakeMeasurers() Measurers {
	return Measurers{
		Latency: func(ctx context.Context, dest string) (float64, error) { return 12.5, nil },
		Throughput: func(ctx context.Context) (float64, float64, error) {
			return 93.456, 11.2, nil
		},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	cfg := config.Default()
	cfg.Ping.Destination = ""
	cfg.Output.Path = " "
	_, err = New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping.destination")
	assert.Contains(t, err.Error(), "output.path")
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speedtest.Schedule = "not a schedule"
	_, err := New(cfg, WithMeasurers(fakeMeasurers()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speedtest.schedule")
}

func TestRunWritesRowsAndStopsCleanly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "netmon.db")}

	a, err := New(cfg, WithMeasurers(fakeMeasurers()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))
	assert.Equal(t, "stopped", a.Monitor().State().String())

	f, err := os.Open(cfg.Output.Path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, observation.Header, rows[0])

	var latency, throughput int
	for _, r := range rows[1:] {
		switch {
		case r[1] == "12.50":
			latency++
			assert.Equal(t, observation.NA, r[2])
		case r[2] == "93.46":
			throughput++
			assert.Equal(t, "11.20", r[3])
			assert.Equal(t, observation.NA, r[1])
		default:
			t.Fatalf("unexpected row %v", r)
		}
	}
	assert.GreaterOrEqual(t, latency, 2)
	assert.Equal(t, 1, throughput)
}

func TestFailedMeasurementsBecomeNARows(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, WithMeasurers(Measurers{
		Latency: func(ctx context.Context, dest string) (float64, error) { return 0, errors.New("unreachable") },
		Throughput: func(ctx context.Context) (float64, float64, error) {
			return 0, 0, errors.New("no servers")
		},
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	b, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(rows), 2)
	for _, r := range rows[1:] {
		assert.Equal(t, []string{observation.NA, observation.NA, observation.NA}, r[1:])
	}
}

func TestUnwritableOutputIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Path = t.TempDir()

	a, err := New(cfg, WithMeasurers(fakeMeasurers()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.Run(ctx)
	require.Error(t, err)
	assert.NoError(t, ctx.Err(), "fatal error must stop the monitor before the deadline")
}

func TestApplyReloadLogging(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, WithMeasurers(fakeMeasurers()), WithOverrides(func(c *config.Config) {
		c.Ping.Destination = "9.9.9.9"
	}))
	require.NoError(t, err)
	defer a.logs.Close()

	cfg.Ping.Destination = "9.9.9.9"

	next := *cfg
	next.Logging.Level = "debug"
	next.Ping.Destination = "8.8.8.8"

	got := a.applyReload(cfg, &next)
	assert.Equal(t, "debug", a.logs.Config().Level)
	assert.Equal(t, "9.9.9.9", got.Ping.Destination, "overrides win over the file")
	assert.Equal(t, "8.8.8.8", next.Ping.Destination, "reloaded config is not mutated")

	same := a.applyReload(got, got)
	assert.Same(t, got, same)
}

func TestConfigWatcherAppliesFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netmon.yaml")
	out := filepath.Join(dir, "network_data.csv")
	write := func(level string) {
		body := "ping:\n  interval: 1h\nspeedtest:\n  interval: 1h\noutput:\n  path: " + out + "\nlogging:\n  level: " + level + "\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("error")

	m := config.NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)

	a, err := New(cfg, WithConfigManager(m), WithMeasurers(fakeMeasurers()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Monitor().State().String() == "running" }, 2*time.Second, 10*time.Millisecond)
	// fsnotify needs the watch registered before the write.
	time.Sleep(200 * time.Millisecond)
	write("warn")

	require.Eventually(t, func() bool { return a.logs.Config().Level == "warn" }, 5*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestMapSchedule(t *testing.T) {
	s, err := mapSchedule("ping.schedule", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, probe.Every(5*time.Second), s)

	base := time.Date(2024, 1, 1, 10, 0, 3, 0, time.UTC)
	s, err = mapSchedule("ping.schedule", "@every 10s", time.Second)
	require.NoError(t, err)
	assert.Equal(t, base.Add(10*time.Second), s.Next(base))

	_, err = mapSchedule("ping.schedule", "bogus", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping.schedule")
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	_, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"}
	sc, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)

	cfg.Storage = config.StorageConfig{Driver: "sqlite"}
	_, _, err = mapStorageConfig(cfg)
	require.Error(t, err)

	cfg.Storage = config.StorageConfig{Driver: "postgres", Path: "x"}
	_, _, err = mapStorageConfig(cfg)
	require.Error(t, err)
}
