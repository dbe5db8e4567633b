// Package app wires configuration to the monitor components.
package app

import (
	"context"
	"errors"
	"fmt"

	"netmon/internal/config"
	"netmon/internal/monitor"
	"netmon/internal/observability"
	"netmon/internal/probe"
	"netmon/internal/queue"
	"netmon/internal/recorder"
	"netmon/internal/storage"
	logx "netmon/pkg/logx"
	"netmon/pkg/ping"
	"netmon/pkg/speedtest"
)

// Measurers lets callers replace the network-facing measurement functions.
type Measurers struct {
	Latency    probe.LatencyFunc
	Throughput probe.ThroughputFunc
}

type App struct {
	cfg  *config.Config
	cfgm *config.Manager

	// overrides re-applies command-line values on top of reloaded configs.
	overrides func(*config.Config)
	measurers Measurers

	log  logx.Logger
	logs *logx.Service

	queue   *queue.Queue
	metrics *observability.Metrics
	mon     *monitor.Monitor
}

type Option func(*App)

// WithConfigManager enables hot reload from the manager's file.
func WithConfigManager(m *config.Manager) Option { return func(a *App) { a.cfgm = m } }

func WithOverrides(fn func(*config.Config)) Option { return func(a *App) { a.overrides = fn } }

// WithMeasurers replaces the ping and speedtest implementations.
func WithMeasurers(m Measurers) Option {
	return func(a *App) { a.measurers = m }
}

// New validates cfg and builds every component. Nothing runs until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	if a.cfgm != nil {
		a.cfgm.SetLogger(log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
			return validateSchedules(c)
		})
	}

	if err := a.build(log); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(log logx.Logger) error {
	cfg := a.cfg
	r, err := cfg.Resolve()
	if err != nil {
		return err
	}

	a.metrics = observability.NewMetrics()
	a.queue = queue.New(cfg.Queue.Capacity, queue.WithDropHook(a.metrics.QueueDropped))

	pingCfg, pingerCfg, err := mapPingProbe(cfg, r)
	if err != nil {
		return err
	}
	stCfg, runnerCfg, err := mapSpeedtestProbe(cfg, r)
	if err != nil {
		return err
	}

	latency := a.measurers.Latency
	if latency == nil {
		latency = ping.New(pingerCfg, log.With(logx.String("comp", "ping"))).Measure
	}
	throughput := a.measurers.Throughput
	if throughput == nil {
		throughput = speedtest.NewRunner(runnerCfg, log.With(logx.String("comp", "speedtest"))).Measure
	}

	latencyProbe := probe.NewLatency(cfg.Ping.Destination, latency, pingCfg, a.queue,
		probe.WithLogger(log.With(logx.String("comp", "probe.latency"), logx.String("probe", "latency"))),
		probe.WithMetrics(a.metrics),
	)
	throughputProbe := probe.NewThroughput(throughput, stCfg, a.queue,
		probe.WithLogger(log.With(logx.String("comp", "probe.throughput"), logx.String("probe", "throughput"))),
		probe.WithMetrics(a.metrics),
	)

	writerOpts := []recorder.Option{
		recorder.WithLogger(log.With(logx.String("comp", "recorder"))),
		recorder.WithMetrics(a.metrics),
		recorder.WithPollTimeout(r.PollTimeout),
	}
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		mirror, err := storage.OpenMirror(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fmt.Errorf("open storage mirror: %w", err)
		}
		writerOpts = append(writerOpts, recorder.WithMirror(mirror))
		a.log.Info("storage mirror enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}
	writer := recorder.New(a.queue, cfg.Output.Path, writerOpts...)

	components := []monitor.Component{latencyProbe, throughputProbe, writer}
	if cfg.Metrics.Enabled {
		srv := observability.NewServer(mapServerConfig(cfg, r), a.metrics, a.status,
			log.With(logx.String("comp", "http")))
		components = append(components, srv)
	}
	if a.cfgm != nil {
		components = append(components, &configWatcher{app: a})
	}

	a.mon = monitor.New(components,
		monitor.WithLogger(log.With(logx.String("comp", "monitor"))),
		monitor.WithStopTimeout(r.ShutdownTimeout),
	)
	return nil
}

func (a *App) status() monitor.Status { return a.mon.Snapshot() }

func (a *App) Monitor() *monitor.Monitor { return a.mon }

func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Run blocks until ctx is cancelled or a component fails. It returns nil on
// a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	defer func() { _ = a.logs.Close() }()

	a.log.Info("network monitor starting",
		logx.String("destination", a.cfg.Ping.Destination),
		logx.String("ping_interval", a.cfg.Ping.Interval),
		logx.String("speedtest_interval", a.cfg.Speedtest.Interval),
		logx.String("output", a.cfg.Output.Path),
	)
	err := a.mon.Run(ctx)
	if err != nil {
		a.log.Error("network monitor stopped with error", logx.Err(err))
		return err
	}
	a.log.Info("network monitor stopped", logx.Uint64("dropped", a.queue.Dropped()))
	return nil
}
