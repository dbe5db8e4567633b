package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `timestamp,latency_ms,download_mbps,upload_mbps
01/06/2023 12:00:00,10.00,NA,NA
01/06/2023 12:00:05,NA,NA,NA
01/06/2023 12:00:10,20.00,NA,NA
01/06/2023 12:00:12,NA,90.00,10.00
01/06/2023 12:00:15,30.00,NA,NA
`

func TestParse(t *testing.T) {
	t.Parallel()
	rows, err := Parse(strings.NewReader(sample), false)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, time.Date(2023, 6, 1, 12, 0, 0, 0, time.Local), rows[0].Time, "day-first timestamps")
	assert.Equal(t, Value{V: 10, OK: true}, rows[0].LatencyMs)
	assert.False(t, rows[1].LatencyMs.OK)
	assert.Equal(t, Value{V: 90, OK: true}, rows[3].DownloadMbps)
}

func TestParseForwardFill(t *testing.T) {
	t.Parallel()
	rows, err := Parse(strings.NewReader(sample), true)
	require.NoError(t, err)

	assert.Equal(t, Value{V: 10, OK: true}, rows[1].LatencyMs)
	assert.Equal(t, Value{V: 20, OK: true}, rows[3].LatencyMs)
	assert.False(t, rows[0].DownloadMbps.OK, "nothing to fill from yet")
	assert.Equal(t, Value{V: 90, OK: true}, rows[4].DownloadMbps)
	assert.Equal(t, Value{V: 10, OK: true}, rows[4].UploadMbps)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"bad header": "time,latency\n",
		"bad time":   "timestamp,latency_ms,download_mbps,upload_mbps\n2023-06-01,1,NA,NA\n",
		"bad value":  "timestamp,latency_ms,download_mbps,upload_mbps\n01/06/2023 12:00:00,fast,NA,NA\n",
		"short row":  "timestamp,latency_ms,download_mbps,upload_mbps\n01/06/2023 12:00:00,1\n",
	}
	for name, in := range tests {
		_, err := Parse(strings.NewReader(in), false)
		assert.Error(t, err, name)
	}

	rows, err := Parse(strings.NewReader(""), false)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	rows, err := Parse(strings.NewReader(sample), false)
	require.NoError(t, err)

	s := Summarize(rows, time.Time{})
	assert.Equal(t, 5, s.Rows)
	assert.Equal(t, 3, s.Latency.Count)
	assert.Equal(t, 2, s.Latency.Missing)
	assert.InDelta(t, 20, s.Latency.Avg, 1e-9)
	assert.Equal(t, 10.0, s.Latency.Min)
	assert.Equal(t, 30.0, s.Latency.Max)
	assert.Equal(t, 1, s.Download.Count)
	assert.Equal(t, rows[0].Time, s.From)
	assert.Equal(t, rows[4].Time, s.To)

	recent := Summarize(rows, rows[2].Time)
	assert.Equal(t, 3, recent.Rows)
	assert.Equal(t, 25.0, recent.Latency.Avg)
}

func TestLoadAndFormat(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "network_data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	rows, err := Load(path, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Format(&buf, Summarize(rows, time.Time{})))
	out := buf.String()
	assert.Contains(t, out, "rows:")
	assert.Contains(t, out, "01/06/2023 12:00:15")
	assert.Regexp(t, `latency_ms\s+3\s+2\s+10.00\s+20.00\s+30.00`, out)
	assert.Regexp(t, `download_mbps\s+1\s+4\s+90.00`, out)

	buf.Reset()
	require.NoError(t, Format(&buf, Summary{}))
	assert.Equal(t, "no observations\n", buf.String())

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), false)
	assert.Error(t, err)
}
