// Package report reads a netmon CSV log back and summarizes it.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"time"

	"netmon/internal/observation"
)

// Value is one cell; OK is false for NA.
type Value struct {
	V  float64
	OK bool
}

type Row struct {
	Time         time.Time
	LatencyMs    Value
	DownloadMbps Value
	UploadMbps   Value
}

// Load reads the log at path. With fillNA, every NA cell takes the last
// known value of its column (cells before the first known value stay NA).
func Load(path string, fillNA bool) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := Parse(f, fillNA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func Parse(r io.Reader, fillNA bool) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(observation.Header)
	cr.ReuseRecord = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !slices.Equal(head, observation.Header) {
		return nil, fmt.Errorf("unexpected header %v", head)
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if fillNA {
		forwardFill(rows)
	}
	return rows, nil
}

func parseRow(rec []string) (Row, error) {
	at, err := observation.ParseTime(rec[0])
	if err != nil {
		return Row{}, err
	}
	row := Row{Time: at}
	for i, dst := range []*Value{&row.LatencyMs, &row.DownloadMbps, &row.UploadMbps} {
		v, ok, err := observation.ParseValue(rec[i+1])
		if err != nil {
			return Row{}, fmt.Errorf("%s: %w", observation.Header[i+1], err)
		}
		*dst = Value{V: v, OK: ok}
	}
	return row, nil
}

func forwardFill(rows []Row) {
	cols := []func(*Row) *Value{
		func(r *Row) *Value { return &r.LatencyMs },
		func(r *Row) *Value { return &r.DownloadMbps },
		func(r *Row) *Value { return &r.UploadMbps },
	}
	for _, col := range cols {
		var last Value
		for i := range rows {
			v := col(&rows[i])
			if v.OK {
				last = *v
			} else if last.OK {
				*v = last
			}
		}
	}
}

// Stats summarizes one column.
type Stats struct {
	Count   int
	Missing int
	Min     float64
	Max     float64
	Avg     float64
}

func (s *Stats) add(v Value) {
	if !v.OK {
		s.Missing++
		return
	}
	if s.Count == 0 {
		s.Min, s.Max = v.V, v.V
	}
	s.Min = math.Min(s.Min, v.V)
	s.Max = math.Max(s.Max, v.V)
	// running mean
	s.Count++
	s.Avg += (v.V - s.Avg) / float64(s.Count)
}

type Summary struct {
	Rows     int
	From, To time.Time
	Latency  Stats
	Download Stats
	Upload   Stats
}

// Summarize aggregates rows at or after since; a zero since keeps all rows.
func Summarize(rows []Row, since time.Time) Summary {
	var s Summary
	for _, r := range rows {
		if !since.IsZero() && r.Time.Before(since) {
			continue
		}
		if s.Rows == 0 || r.Time.Before(s.From) {
			s.From = r.Time
		}
		if r.Time.After(s.To) {
			s.To = r.Time
		}
		s.Rows++
		s.Latency.add(r.LatencyMs)
		s.Download.add(r.DownloadMbps)
		s.Upload.add(r.UploadMbps)
	}
	return s
}
