// Package observation defines the record flowing from probes to the writer.
package observation

import (
	"math"
	"strconv"
	"time"
)

// NA is written in place of a value that was not measured or whose
// measurement failed.
const NA = "NA"

// TimeLayout renders timestamps as DD/MM/YYYY HH:MM:SS in local time.
const TimeLayout = "02/01/2006 15:04:05"

// Header is the fixed column order of the persisted log.
var Header = []string{"timestamp", "latency_ms", "download_mbps", "upload_mbps"}

// Kind identifies the probe an Observation came from.
type Kind uint8

const (
	KindLatency Kind = iota + 1
	KindThroughput
)

func (k Kind) String() string {
	switch k {
	case KindLatency:
		return "latency"
	case KindThroughput:
		return "throughput"
	default:
		return "unknown"
	}
}

// Observation is an immutable, timestamped measurement from exactly one probe.
// Fields of the other probe kind are always unset.
type Observation struct {
	kind Kind
	at   time.Time

	latency    float64
	hasLatency bool

	down, up      float64
	hasThroughput bool
}

func stamp(at time.Time) time.Time { return at.Local().Truncate(time.Second) }

// Latency returns a successful latency observation.
func Latency(at time.Time, ms float64) Observation {
	return Observation{kind: KindLatency, at: stamp(at), latency: ms, hasLatency: true}
}

// LatencyFailed returns a latency observation whose value is not available.
func LatencyFailed(at time.Time) Observation {
	return Observation{kind: KindLatency, at: stamp(at)}
}

// Throughput returns a successful throughput observation.
func Throughput(at time.Time, downMbps, upMbps float64) Observation {
	return Observation{kind: KindThroughput, at: stamp(at), down: downMbps, up: upMbps, hasThroughput: true}
}

// ThroughputFailed returns a throughput observation whose values are not available.
func ThroughputFailed(at time.Time) Observation {
	return Observation{kind: KindThroughput, at: stamp(at)}
}

func (o Observation) Kind() Kind      { return o.kind }
func (o Observation) Time() time.Time { return o.at }
func (o Observation) IsZero() bool    { return o.kind == 0 }

// OK reports whether the probe produced a value (as opposed to a failure record).
func (o Observation) OK() bool { return o.hasLatency || o.hasThroughput }

func (o Observation) LatencyMs() (float64, bool)    { return o.latency, o.hasLatency }
func (o Observation) DownloadMbps() (float64, bool) { return o.down, o.hasThroughput }
func (o Observation) UploadMbps() (float64, bool)   { return o.up, o.hasThroughput }

// Record renders the observation as the four persisted columns.
func (o Observation) Record() []string {
	return []string{
		o.at.Format(TimeLayout),
		FormatValue(o.LatencyMs()),
		FormatValue(o.DownloadMbps()),
		FormatValue(o.UploadMbps()),
	}
}

// FormatValue renders a measured value with two decimals, or NA.
func FormatValue(v float64, ok bool) string {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return NA
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ParseValue is the inverse of FormatValue.
func ParseValue(s string) (float64, bool, error) {
	if s == NA || s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// ParseTime parses a persisted timestamp in the local time zone.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.Local)
}
