// Package monitor coordinates the lifecycle of the probes and the recorder.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"netmon/internal/runtime/supervisor"
	logx "netmon/pkg/logx"
	"netmon/pkg/systemd"
)

const DefaultStopTimeout = 5 * time.Second

// State is the coordinator lifecycle position. It only moves forward.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Component is a long-running loop that returns once ctx is done.
// A non-nil error is fatal and stops every other component.
type Component interface {
	Name() string
	Run(ctx context.Context) error
}

// ErrStopTimeout is returned when components outlive the stop timeout.
var ErrStopTimeout = errors.New("monitor: components did not stop in time")

type Monitor struct {
	components  []Component
	stopTimeout time.Duration
	log         logx.Logger

	state   atomic.Int32
	started atomic.Bool

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

type Option func(*Monitor)

func WithLogger(log logx.Logger) Option { return func(m *Monitor) { m.log = log } }

// WithStopTimeout bounds how long Run waits for components after shutdown begins.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

func New(components []Component, opts ...Option) *Monitor {
	m := &Monitor{components: components, stopTimeout: DefaultStopTimeout}
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

func (m *Monitor) State() State { return State(m.state.Load()) }

// Status is the health view served on /healthz and /debug/supervisor.
type Status struct {
	State      string              `json:"state"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
}

func (m *Monitor) Snapshot() Status {
	st := Status{State: m.State().String()}
	m.mu.Lock()
	sup := m.sup
	m.mu.Unlock()
	if sup != nil {
		st.Supervisor = sup.Snapshot()
	}
	return st
}

func (m *Monitor) advance(to State) {
	for {
		cur := m.state.Load()
		if State(cur) >= to {
			return
		}
		if m.state.CompareAndSwap(cur, int32(to)) {
			m.log.Debug("monitor state", logx.String("from", State(cur).String()), logx.String("to", to.String()))
			return
		}
	}
}

// Run starts every component and blocks until ctx is cancelled or one of them
// fails. It returns the first component error, ErrStopTimeout if shutdown
// exceeded the stop timeout, or nil on a clean interrupt. Run may be called once.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("monitor: already started")
	}
	if len(m.components) == 0 {
		m.advance(StateStopped)
		return errors.New("monitor: no components")
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(m.log), supervisor.WithCancelOnError(true))
	m.mu.Lock()
	m.sup = sup
	m.mu.Unlock()

	for _, c := range m.components {
		if c == nil {
			continue
		}
		sup.Go(c.Name(), c.Run)
	}
	if wd := systemd.WatchdogInterval(); wd > 0 {
		sup.Go("systemd.watchdog", func(ctx context.Context) error {
			return keepAlive(ctx, wd/2)
		})
	}

	m.advance(StateRunning)
	m.log.Info("monitor running", logx.Int("components", len(m.components)))
	if _, err := systemd.Ready(); err != nil {
		m.log.Warn("sd_notify ready failed", logx.Err(err))
	}

	select {
	case <-sup.Context().Done():
	case <-sup.Done():
	}

	m.advance(StateStopping)
	if cause := sup.Err(); cause != nil {
		m.log.Error("monitor stopping after fatal error", logx.Err(cause))
	} else {
		m.log.Info("monitor stopping")
	}
	if _, err := systemd.Stopping(); err != nil {
		m.log.Warn("sd_notify stopping failed", logx.Err(err))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), m.stopTimeout)
	defer cancel()
	err := sup.Stop(stopCtx)
	m.advance(StateStopped)

	if errors.Is(err, context.DeadlineExceeded) && stopCtx.Err() != nil {
		m.log.Error("monitor: stop timeout exceeded", logx.Duration("timeout", m.stopTimeout), logx.Int64("active", sup.Counters().Active))
		if cause := sup.Err(); cause != nil {
			return cause
		}
		return ErrStopTimeout
	}
	m.log.Info("monitor stopped")
	return err
}

func keepAlive(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = systemd.Watchdog()
		}
	}
}
