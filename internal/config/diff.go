package config

import (
	"strings"

	logx "netmon/pkg/logx"
)

// Change summarizes what differs between two configs.
type Change struct {
	// Sections lists the top-level keys that changed, in file order.
	Sections []string
	// Attrs are log fields describing the new values.
	Attrs []logx.Field
	// LiveSections can be applied without restarting (currently: logging).
	LiveSections []string
	// RestartSections only take effect after a restart.
	RestartSections []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares oldCfg and newCfg section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, live bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if live {
			ch.LiveSections = append(ch.LiveSections, section)
		} else {
			ch.RestartSections = append(ch.RestartSections, section)
		}
	}
	trim := strings.TrimSpace

	if oldCfg.Ping != newCfg.Ping {
		mark("ping", false,
			logx.String("ping.destination", trim(newCfg.Ping.Destination)),
			logx.String("ping.interval", trim(newCfg.Ping.Interval)),
			logx.String("ping.schedule", trim(newCfg.Ping.Schedule)),
		)
	}
	if oldCfg.Speedtest != newCfg.Speedtest {
		mark("speedtest", false,
			logx.String("speedtest.interval", trim(newCfg.Speedtest.Interval)),
			logx.String("speedtest.schedule", trim(newCfg.Speedtest.Schedule)),
			logx.Int("speedtest.server_count", newCfg.Speedtest.ServerCount),
		)
	}
	if oldCfg.Output != newCfg.Output {
		mark("output", false, logx.String("output.path", trim(newCfg.Output.Path)))
	}
	if oldCfg.Queue != newCfg.Queue {
		mark("queue", false, logx.Int("queue.capacity", newCfg.Queue.Capacity))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", false, logx.String("storage.driver", trim(newCfg.Storage.Driver)))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", true,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		mark("metrics", false,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", trim(newCfg.Metrics.Addr)),
		)
	}
	if trim(oldCfg.ShutdownTimeout) != trim(newCfg.ShutdownTimeout) {
		mark("shutdown_timeout", false, logx.String("shutdown_timeout", trim(newCfg.ShutdownTimeout)))
	}
	return ch
}
