package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"netmon/internal/observation"
)

// CSVLog is the append-only observation log.
//
// Every Append is flushed and fsynced before it returns, so a crash can only
// lose a row whose Append had not returned yet. CSVLog is not safe for
// concurrent use; it has a single owner (the writer).
type CSVLog struct {
	path    string
	f       *os.File
	w       *csv.Writer
	created bool
}

// OpenCSV opens path for appending. The header row is written only when the
// file does not exist yet or is empty, so reopening never duplicates it.
func OpenCSV(path string) (*CSVLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("csv log path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	fresh := true
	var size int64
	if st, err := os.Stat(path); err == nil {
		if st.IsDir() {
			return nil, fmt.Errorf("csv log path %q is a directory", path)
		}
		size = st.Size()
		fresh = size == 0
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat csv log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log: %w", err)
	}
	l := &CSVLog{path: path, f: f, w: csv.NewWriter(f), created: fresh}

	if fresh {
		if err := l.writeRecord(observation.Header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		return l, nil
	}
	if err := terminateLastLine(path, size, f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// terminateLastLine appends a newline when the log ends mid-line, so a row
// torn by a crash is not joined with the next one.
func terminateLastLine(path string, size int64, f *os.File) error {
	r, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv log: %w", err)
	}
	defer func() { _ = r.Close() }()

	last := make([]byte, 1)
	if _, err := r.ReadAt(last, size-1); err != nil {
		return fmt.Errorf("read csv log tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("terminate csv log: %w", err)
	}
	return f.Sync()
}

func (l *CSVLog) Path() string { return l.path }

// Created reports whether OpenCSV wrote the header (new log).
func (l *CSVLog) Created() bool { return l.created }

// Append writes o as one row and forces it to stable storage.
func (l *CSVLog) Append(o observation.Observation) error {
	if l.f == nil {
		return errors.New("csv log closed")
	}
	if err := l.writeRecord(o.Record()); err != nil {
		return fmt.Errorf("append csv row: %w", err)
	}
	return nil
}

func (l *CSVLog) writeRecord(rec []string) error {
	if err := l.w.Write(rec); err != nil {
		return err
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *CSVLog) Close() error {
	if l.f == nil {
		return nil
	}
	l.w.Flush()
	werr := l.w.Error()
	cerr := l.f.Close()
	l.f = nil
	if werr != nil {
		return werr
	}
	return cerr
}
