package storage

import (
	"context"
	"errors"
	"time"

	"netmon/internal/observation"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the optional mirror.
//
// Driver values:
//   - "sqlite": SQLite database file (pure-Go driver)
//
// If Driver is empty or "none", no mirror is opened.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Mirror keeps a secondary copy of every persisted observation.
// Mirror failures never invalidate a row already in the CSV log.
type Mirror interface {
	Insert(ctx context.Context, o observation.Observation) error
	Close() error
}
