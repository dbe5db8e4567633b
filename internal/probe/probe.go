// Package probe runs periodic link measurements and hands the resulting
// observations to a sink.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"netmon/internal/observation"
	logx "netmon/pkg/logx"
)

// LatencyFunc measures round-trip latency to destination in milliseconds.
// It must honor ctx; deadline expiry is reported as an error.
type LatencyFunc func(ctx context.Context, destination string) (float64, error)

// ThroughputFunc measures download and upload throughput in Mbit/s.
type ThroughputFunc func(ctx context.Context) (downMbps, upMbps float64, err error)

// Sink receives observations. Put must not block.
type Sink interface {
	Put(o observation.Observation) bool
}

// Metrics is notified once per completed measurement.
type Metrics interface {
	ObserveProbe(o observation.Observation, took time.Duration)
}

// Config controls a probe's cadence.
type Config struct {
	// Schedule yields the start of the next cycle given the end of the previous one.
	Schedule cron.Schedule
	// Timeout bounds a single measurement call; 0 disables it.
	Timeout time.Duration
}

// Probe is a periodic measurement loop of a single kind.
type Probe struct {
	kind observation.Kind
	cfg  Config

	destination string
	latency     LatencyFunc
	throughput  ThroughputFunc

	sink    Sink
	log     logx.Logger
	metrics Metrics
	now     func() time.Time
}

type Option func(*Probe)

func WithLogger(log logx.Logger) Option { return func(p *Probe) { p.log = log } }

func WithMetrics(m Metrics) Option { return func(p *Probe) { p.metrics = m } }

// WithClock overrides the clock used to timestamp observations.
func WithClock(now func() time.Time) Option { return func(p *Probe) { p.now = now } }

// NewLatency builds the latency probe for destination.
func NewLatency(destination string, fn LatencyFunc, cfg Config, sink Sink, opts ...Option) *Probe {
	p := newProbe(observation.KindLatency, cfg, sink, opts...)
	p.destination = destination
	p.latency = fn
	return p
}

// NewThroughput builds the throughput probe.
func NewThroughput(fn ThroughputFunc, cfg Config, sink Sink, opts ...Option) *Probe {
	p := newProbe(observation.KindThroughput, cfg, sink, opts...)
	p.throughput = fn
	return p
}

func newProbe(kind observation.Kind, cfg Config, sink Sink, opts ...Option) *Probe {
	p := &Probe{kind: kind, cfg: cfg, sink: sink, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	if p.cfg.Schedule == nil {
		p.cfg.Schedule = Every(time.Minute)
	}
	return p
}

// Name identifies the probe in logs and supervisor stats.
func (p *Probe) Name() string { return "probe." + p.kind.String() }

func (p *Probe) Kind() observation.Kind { return p.kind }

// Run measures, enqueues and waits for the next cycle until ctx is done.
// Measurement failures are recorded as NA observations and never end the loop.
func (p *Probe) Run(ctx context.Context) error {
	if p.sink == nil {
		return fmt.Errorf("%s: nil sink", p.Name())
	}
	if p.kind == observation.KindLatency && p.latency == nil || p.kind == observation.KindThroughput && p.throughput == nil {
		return fmt.Errorf("%s: nil measurement func", p.Name())
	}

	p.log.Info("probe started", logx.String("destination", p.destination), logx.Duration("timeout", p.cfg.Timeout))
	defer p.log.Info("probe stopped")

	for ctx.Err() == nil {
		obs, ok := p.cycle(ctx)
		if !ok {
			break
		}
		p.sink.Put(obs)

		if !sleepUntil(ctx, p.cfg.Schedule.Next(time.Now())) {
			break
		}
	}
	return nil
}

// cycle runs one measurement. ok is false when shutdown interrupted it, in
// which case the result is discarded.
func (p *Probe) cycle(ctx context.Context) (observation.Observation, bool) {
	mctx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		obs observation.Observation
		err error
	)
	switch p.kind {
	case observation.KindLatency:
		var ms float64
		err = guard(func() (err error) {
			ms, err = p.latency(mctx, p.destination)
			return err
		})
		if err != nil {
			obs = observation.LatencyFailed(p.now())
		} else {
			obs = observation.Latency(p.now(), ms)
		}
	case observation.KindThroughput:
		var down, up float64
		err = guard(func() (err error) {
			down, up, err = p.throughput(mctx)
			return err
		})
		if err != nil {
			obs = observation.ThroughputFailed(p.now())
		} else {
			obs = observation.Throughput(p.now(), down, up)
		}
	}
	took := time.Since(start)

	if ctx.Err() != nil {
		return obs, false
	}

	if err != nil {
		if errors.Is(mctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", p.cfg.Timeout, err)
		}
		p.log.Warn(p.kind.String()+" probe: measurement failed", logx.Err(err), logx.Duration("took", took))
	} else {
		p.logResult(obs, took)
	}
	if p.metrics != nil {
		p.metrics.ObserveProbe(obs, took)
	}
	return obs, true
}

func (p *Probe) logResult(obs observation.Observation, took time.Duration) {
	switch p.kind {
	case observation.KindLatency:
		ms, _ := obs.LatencyMs()
		p.log.Debug("latency probe: ping", logx.Float64("latency_ms", ms), logx.String("destination", p.destination))
	case observation.KindThroughput:
		down, _ := obs.DownloadMbps()
		up, _ := obs.UploadMbps()
		p.log.Info("throughput probe: speed test", logx.Float64("download_mbps", down), logx.Float64("upload_mbps", up), logx.Duration("took", took))
	}
}

// guard runs a measurement call, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// sleepUntil waits until t or ctx is done; it reports false on cancellation.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
