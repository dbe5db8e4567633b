package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1h").
// Omitted fields keep the values from Default().
type Config struct {
	Ping      PingConfig      `json:"ping"`
	Speedtest SpeedtestConfig `json:"speedtest"`
	Output    OutputConfig    `json:"output"`
	Queue     QueueConfig     `json:"queue"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`

	// ShutdownTimeout bounds how long components get to stop after a signal.
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// PingConfig controls the latency probe.
//
// Schedule, when set, replaces Interval. It accepts cron expressions
// ("*/5 * * * * *", "@every 10s"), Go durations or HH:MM.
type PingConfig struct {
	Destination string `json:"destination"`
	Interval    string `json:"interval"`
	Timeout     string `json:"timeout,omitempty"`
	Schedule    string `json:"schedule,omitempty"`

	// Count is the number of echo requests per measurement.
	Count int `json:"count,omitempty"`
	// Privileged uses raw ICMP sockets instead of unprivileged UDP pings.
	Privileged bool `json:"privileged,omitempty"`
}

// SpeedtestConfig controls the throughput probe.
type SpeedtestConfig struct {
	Interval string `json:"interval"`
	Timeout  string `json:"timeout,omitempty"`
	Schedule string `json:"schedule,omitempty"`

	// ServerCount is how many nearby servers are pinged before picking one.
	ServerCount int `json:"server_count,omitempty"`
	// FullTestServers is how many of the lowest-latency servers get a full
	// download/upload test; the best result wins.
	FullTestServers int  `json:"full_test_servers,omitempty"`
	MaxConnections  int  `json:"max_connections,omitempty"`
	SavingMode      bool `json:"saving_mode,omitempty"`
}

type OutputConfig struct {
	Path string `json:"path"`
}

type QueueConfig struct {
	Capacity    int    `json:"capacity,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StorageConfig controls the optional mirror of the CSV log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./netmon.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MetricsConfig controls the optional HTTP server exposing /metrics,
// /healthz and /debug endpoints.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9465").
//   - A non-loopback address requires allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	// WriteTimeout defaults to 0 so long pprof profiles complete.
	WriteTimeout string `json:"write_timeout,omitempty"`
}
