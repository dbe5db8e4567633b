package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netmon/internal/observation"
	logx "netmon/pkg/logx"
)

func TestOpenMirrorDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		m, err := OpenMirror(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, m)
	}
}

func TestOpenMirrorUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := OpenMirror(Config{Driver: "postgres"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = OpenMirror(Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
}

func TestSQLiteMirrorInsert(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "mirror.db")
	m, err := OpenMirror(Config{Driver: "sqlite", Path: path, BusyTimeout: 2 * time.Second}, logx.Logger{})
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, m.Insert(ctx, observation.Latency(at, 12.5)))
	require.NoError(t, m.Insert(ctx, observation.Throughput(at, 90, 10)))
	require.NoError(t, m.Insert(ctx, observation.LatencyFailed(at)))
	require.NoError(t, m.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&n))
	assert.Equal(t, 3, n)

	var (
		probe string
		lat   sql.NullFloat64
		down  sql.NullFloat64
	)
	require.NoError(t, db.QueryRow(`SELECT probe, latency_ms, download_mbps FROM observations WHERE id = 1`).Scan(&probe, &lat, &down))
	assert.Equal(t, "latency", probe)
	assert.True(t, lat.Valid)
	assert.InDelta(t, 12.5, lat.Float64, 1e-9)
	assert.False(t, down.Valid)

	require.NoError(t, db.QueryRow(`SELECT latency_ms FROM observations WHERE id = 3`).Scan(&lat))
	assert.False(t, lat.Valid)
}

func TestSQLiteMirrorReopenKeepsRows(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "mirror.db")
	for i := 0; i < 2; i++ {
		m, err := OpenMirror(Config{Driver: "sqlite3", Path: path}, logx.Nop())
		require.NoError(t, err)
		require.NoError(t, m.Insert(context.Background(), observation.Latency(time.Now(), float64(i))))
		require.NoError(t, m.Close())
	}

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&n))
	assert.Equal(t, 2, n)
}
