package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"netmon/internal/app"
	"netmon/internal/config"
	"netmon/internal/report"
)

type runFlags struct {
	configPath        string
	destination       string
	pingInterval      int
	speedtestInterval int
	filename          string
}

func rootCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "netmon",
		Short: "netmon records ping latency and internet throughput to a CSV log.",
		Long: `netmon periodically pings a destination and runs speed tests, appending
every result to a CSV log as it happens. Failed measurements are written
as NA so gaps stay visible.

Settings can also come from a YAML or JSON file (--config). Flags that are
set explicitly take precedence over the file, including after a reload.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "optional YAML/JSON config file")
	fl.StringVarP(&f.destination, "ping-destination", "d", config.DefaultDestination, "host to ping")
	fl.IntVarP(&f.pingInterval, "ping-interval", "p", int(config.DefaultPingInterval/time.Second), "seconds between pings")
	fl.IntVarP(&f.speedtestInterval, "speedtest-interval", "s", int(config.DefaultSpeedtestInterval/time.Second), "seconds between speed tests")
	fl.StringVarP(&f.filename, "filename", "f", config.DefaultOutputPath, "CSV log file")

	cmd.AddCommand(reportCmd())
	return cmd
}

// overrides returns a func that copies explicitly set flags onto a config.
func (f runFlags) overrides(cmd *cobra.Command) func(*config.Config) {
	changed := cmd.Flags().Changed
	return func(c *config.Config) {
		if changed("ping-destination") {
			c.Ping.Destination = f.destination
		}
		if changed("ping-interval") {
			c.Ping.Interval = config.Seconds(f.pingInterval)
			c.Ping.Schedule = ""
		}
		if changed("speedtest-interval") {
			c.Speedtest.Interval = config.Seconds(f.speedtestInterval)
			c.Speedtest.Schedule = ""
		}
		if changed("filename") {
			c.Output.Path = f.filename
		}
	}
}

func runMonitor(cmd *cobra.Command, f runFlags) error {
	if f.pingInterval <= 0 || f.speedtestInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}

	var (
		cfg  *config.Config
		opts []app.Option
		err  error
	)
	overrides := f.overrides(cmd)
	if f.configPath != "" {
		m := config.NewManager(f.configPath)
		cfg, err = m.Parse()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		opts = append(opts, app.WithConfigManager(m), app.WithOverrides(overrides))
		overrides(cfg)
		m.Commit(cfg)
	} else {
		cfg = config.Default()
		overrides(cfg)
	}

	a, err := app.New(cfg, opts...)
	if err != nil {
		return err
	}
	return a.Run(cmd.Context())
}

func reportCmd() *cobra.Command {
	var (
		input  string
		fillNA bool
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a CSV log written by netmon.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := report.Load(input, fillNA)
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			return report.Format(cmd.OutOrStdout(), report.Summarize(rows, from))
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&input, "input", config.DefaultOutputPath, "CSV log to read")
	fl.BoolVar(&fillNA, "fill-na", false, "replace NA values with the previous measurement")
	fl.DurationVar(&since, "since", 0, "only include rows newer than this (e.g. 24h)")
	cmd.SetErr(os.Stderr)
	return cmd
}
