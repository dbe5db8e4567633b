// Package speedtest measures download and upload throughput against the
// speedtest.net server network.
package speedtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	logx "netmon/pkg/logx"
)

// RunConfig controls how a run picks servers and tests them.
type RunConfig struct {
	// ServerCount is how many of the nearest servers are pinged.
	ServerCount int
	// FullTestServers is how many of the lowest-latency servers get a full
	// download/upload test. Tests run sequentially; results are averaged.
	FullTestServers int

	SavingMode     bool
	MaxConnections int

	// PingConcurrency caps concurrent candidate pings.
	PingConcurrency int
	// DialTimeout bounds each TCP connect.
	DialTimeout time.Duration
}

var (
	ErrNoServers  = errors.New("no servers available")
	ErrAllPingsKO = errors.New("all latency tests failed")
	ErrAllTestsKO = errors.New("full test failed for all servers")
)

type Runner struct {
	cfg RunConfig
	log logx.Logger
}

func NewRunner(cfg RunConfig, log logx.Logger) *Runner {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.FullTestServers <= 0 {
		cfg.FullTestServers = 1
	}
	if cfg.FullTestServers > cfg.ServerCount {
		cfg.FullTestServers = cfg.ServerCount
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if cfg.PingConcurrency <= 0 {
		cfg.PingConcurrency = 4
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, log: log}
}

// Measure runs one speed test and returns download and upload in Mbit/s,
// rounded to two decimals.
func (r *Runner) Measure(ctx context.Context) (downMbps, upMbps float64, err error) {
	res, err := r.Run(ctx)
	if err != nil {
		return 0, 0, err
	}
	return round2(res.DownloadMbps), round2(res.UploadMbps), nil
}

// Run executes a single speed test. ctx bounds the whole run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := r.cfg

	runCtx, cancelRun := context.WithCancel(ctx)
	ctx = runCtx
	start := time.Now()

	// Dedicated transport so connections are dropped once the run ends.
	hc, tr := newHTTPClient(cfg)
	stc := st.New(
		st.WithUserConfig(&st.UserConfig{SavingMode: cfg.SavingMode, MaxConnections: cfg.MaxConnections}),
		st.WithDoer(hc),
	)
	stc.SetNThread(cfg.MaxConnections)

	defer func() {
		cancelRun()
		stc.Snapshots().Clean()
		stc.Reset()
		tr.CloseIdleConnections()
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidates := servers[:min(cfg.ServerCount, len(servers))]

	pinged := pingCandidates(ctx, candidates, cfg.PingConcurrency)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrAllPingsKO
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	var results []serverTestResult
	for _, s := range pinged[:min(cfg.FullTestServers, len(pinged))] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			r.log.Debug("speedtest download failed", logx.String("server", s.Host), logx.Err(err))
			continue
		}
		if err := s.UploadTestContext(ctx); err != nil {
			r.log.Debug("speedtest upload failed", logx.String("server", s.Host), logx.Err(err))
			continue
		}
		results = append(results, serverTestResult{
			Host:     s.Host,
			Name:     s.Sponsor,
			Download: s.DLSpeed.Mbps(),
			Upload:   s.ULSpeed.Mbps(),
			Ping:     s.Latency,
		})
		stc.Snapshots().Clean()
		stc.Reset()
	}
	if len(results) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrAllTestsKO
	}

	avg := calculateAverage(results)
	best := findBest(results)
	return &Result{
		Timestamp:      time.Now(),
		DownloadMbps:   avg.Download,
		UploadMbps:     avg.Upload,
		PingMs:         float64(avg.Ping) / float64(time.Millisecond),
		ISP:            user.Isp,
		ServerName:     best.Name,
		ServerHost:     best.Host,
		Duration:       time.Since(start),
		CandidateCount: len(candidates),
		FullTestCount:  len(results),
	}, nil
}

// pingCandidates pings servers with bounded concurrency and keeps those that answered.
func pingCandidates(ctx context.Context, servers []*st.Server, maxConcurrent int) []*st.Server {
	sem := make(chan struct{}, maxConcurrent)
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		pinged = make([]*st.Server, 0, len(servers))
	)
	for _, s := range servers {
		wg.Add(1)
		go func(s *st.Server) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			mu.Lock()
			pinged = append(pinged, s)
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return pinged
}

type serverTestResult struct {
	Host     string
	Name     string
	Download float64
	Upload   float64
	Ping     time.Duration
}

func calculateAverage(results []serverTestResult) serverTestResult {
	if len(results) == 0 {
		return serverTestResult{}
	}
	var out serverTestResult
	for _, r := range results {
		out.Download += r.Download
		out.Upload += r.Upload
		out.Ping += r.Ping
	}
	n := len(results)
	out.Download /= float64(n)
	out.Upload /= float64(n)
	out.Ping /= time.Duration(n)
	return out
}

// findBest prefers lower ping, then higher download.
func findBest(results []serverTestResult) serverTestResult {
	if len(results) == 0 {
		return serverTestResult{}
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Ping < best.Ping || (r.Ping == best.Ping && r.Download > best.Download) {
			best = r
		}
	}
	return best
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func newHTTPClient(cfg RunConfig) (*http.Client, *http.Transport) {
	d := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   max(cfg.MaxConnections, 2),
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}, tr
}
