package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	DefaultDestination       = "1.1.1.1"
	DefaultPingInterval      = 5 * time.Second
	DefaultPingTimeout       = 5 * time.Second
	DefaultSpeedtestInterval = time.Hour
	DefaultSpeedtestTimeout  = 2 * time.Minute
	DefaultOutputPath        = "network_data.csv"
	DefaultQueueCapacity     = 1024
	DefaultPollTimeout       = time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultMetricsAddr       = "127.0.0.1:9465"
	DefaultPprofPrefix       = "/debug/pprof/"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Ping: PingConfig{
			Destination: DefaultDestination,
			Interval:    DefaultPingInterval.String(),
			Timeout:     DefaultPingTimeout.String(),
			Count:       2,
		},
		Speedtest: SpeedtestConfig{
			Interval:        DefaultSpeedtestInterval.String(),
			Timeout:         DefaultSpeedtestTimeout.String(),
			ServerCount:     5,
			FullTestServers: 1,
		},
		Output:  OutputConfig{Path: DefaultOutputPath},
		Queue:   QueueConfig{Capacity: DefaultQueueCapacity, PollTimeout: DefaultPollTimeout.String()},
		Storage: StorageConfig{Driver: "none"},
		Logging: LoggingConfig{Level: "info", Console: true},
		Metrics: MetricsConfig{
			Addr:        DefaultMetricsAddr,
			PprofPrefix: DefaultPprofPrefix,
			ReadTimeout: "10s",
		},
		ShutdownTimeout: DefaultShutdownTimeout.String(),
	}
}

// Resolved holds the parsed durations of a Config.
type Resolved struct {
	PingInterval      time.Duration
	PingTimeout       time.Duration
	SpeedtestInterval time.Duration
	SpeedtestTimeout  time.Duration
	PollTimeout       time.Duration
	BusyTimeout       time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

// Resolve parses every duration field, falling back to defaults for empty or
// zero values.
func (c *Config) Resolve() (Resolved, error) {
	var (
		r    Resolved
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}
	parse(&r.PingInterval, "ping.interval", c.Ping.Interval, DefaultPingInterval)
	parse(&r.PingTimeout, "ping.timeout", c.Ping.Timeout, DefaultPingTimeout)
	parse(&r.SpeedtestInterval, "speedtest.interval", c.Speedtest.Interval, DefaultSpeedtestInterval)
	parse(&r.SpeedtestTimeout, "speedtest.timeout", c.Speedtest.Timeout, DefaultSpeedtestTimeout)
	parse(&r.PollTimeout, "queue.poll_timeout", c.Queue.PollTimeout, DefaultPollTimeout)
	parse(&r.BusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout, time.Second)
	parse(&r.ReadTimeout, "metrics.read_timeout", c.Metrics.ReadTimeout, 10*time.Second)
	parse(&r.WriteTimeout, "metrics.write_timeout", c.Metrics.WriteTimeout, 0)
	parse(&r.ShutdownTimeout, "shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout)
	return r, errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Ping.Destination) == "" {
		errs = append(errs, errors.New("ping.destination is required"))
	}
	if c.Ping.Count < 0 {
		errs = append(errs, fmt.Errorf("ping.count must be >= 0, got %d", c.Ping.Count))
	}
	if c.Speedtest.ServerCount < 0 || c.Speedtest.FullTestServers < 0 || c.Speedtest.MaxConnections < 0 {
		errs = append(errs, errors.New("speedtest counts must be >= 0"))
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	if c.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must be >= 0, got %d", c.Queue.Capacity))
	}
	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	if c.Metrics.Enabled {
		addr := strings.TrimSpace(c.Metrics.Addr)
		if addr == "" {
			addr = DefaultMetricsAddr
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr: %w", err))
		} else if !IsLoopbackAddr(addr) && !c.Metrics.AllowInsecure {
			errs = append(errs, fmt.Errorf("metrics.addr %q is not loopback; set metrics.allow_insecure", addr))
		}
	}
	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether host:port binds only to the local machine.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
