package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"netmon/internal/config"
	"netmon/internal/observability"
	"netmon/internal/probe"
	logx "netmon/pkg/logx"
	"netmon/pkg/ping"
	"netmon/pkg/speedtest"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapSchedule prefers an explicit schedule expression over the fixed interval.
func mapSchedule(path, expr string, interval time.Duration) (cron.Schedule, error) {
	if s := strings.TrimSpace(expr); s != "" {
		sched, err := probe.ParseSchedule(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return sched, nil
	}
	return probe.Every(interval), nil
}

func mapPingProbe(cfg *config.Config, r config.Resolved) (probe.Config, ping.Config, error) {
	sched, err := mapSchedule("ping.schedule", cfg.Ping.Schedule, r.PingInterval)
	if err != nil {
		return probe.Config{}, ping.Config{}, err
	}
	return probe.Config{Schedule: sched, Timeout: r.PingTimeout},
		ping.Config{Count: cfg.Ping.Count, Privileged: cfg.Ping.Privileged},
		nil
}

func mapSpeedtestProbe(cfg *config.Config, r config.Resolved) (probe.Config, speedtest.RunConfig, error) {
	sched, err := mapSchedule("speedtest.schedule", cfg.Speedtest.Schedule, r.SpeedtestInterval)
	if err != nil {
		return probe.Config{}, speedtest.RunConfig{}, err
	}
	return probe.Config{Schedule: sched, Timeout: r.SpeedtestTimeout},
		speedtest.RunConfig{
			ServerCount:     cfg.Speedtest.ServerCount,
			FullTestServers: cfg.Speedtest.FullTestServers,
			SavingMode:      cfg.Speedtest.SavingMode,
			MaxConnections:  cfg.Speedtest.MaxConnections,
		},
		nil
}

func mapServerConfig(cfg *config.Config, r config.Resolved) observability.ServerConfig {
	return observability.ServerConfig{
		Addr:          cfg.Metrics.Addr,
		AllowInsecure: cfg.Metrics.AllowInsecure,
		Pprof:         cfg.Metrics.Pprof,
		PprofPrefix:   cfg.Metrics.PprofPrefix,
		ReadTimeout:   r.ReadTimeout,
		WriteTimeout:  r.WriteTimeout,
	}
}

// validateSchedules rejects configs whose schedule expressions do not parse.
func validateSchedules(cfg *config.Config) error {
	r, err := cfg.Resolve()
	if err != nil {
		return err
	}
	if _, _, err := mapPingProbe(cfg, r); err != nil {
		return err
	}
	_, _, err = mapSpeedtestProbe(cfg, r)
	return err
}
