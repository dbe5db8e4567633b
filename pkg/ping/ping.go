// Package ping measures ICMP round-trip latency with go-ping.
package ping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	probing "github.com/go-ping/ping"

	logx "netmon/pkg/logx"
)

const (
	DefaultCount        = 2
	DefaultReplyTimeout = time.Second
)

// ErrNoReply is returned when no echo reply arrived in time.
var ErrNoReply = errors.New("no echo reply")

type Config struct {
	// Count is the number of echo requests per measurement.
	Count int
	// ReplyTimeout is the wait granted to each request.
	ReplyTimeout time.Duration
	// Privileged sends raw ICMP (needs CAP_NET_RAW); otherwise UDP pings are used.
	Privileged bool
}

// pinger is the subset of *probing.Pinger used here.
type pinger interface {
	Run() error
	Stop()
	Statistics() *probing.Statistics
}

type Pinger struct {
	cfg Config
	log logx.Logger
	new func(addr string, cfg Config) (pinger, error)
}

func New(cfg Config, log logx.Logger) *Pinger {
	if cfg.Count <= 0 {
		cfg.Count = DefaultCount
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pinger{cfg: cfg, log: log, new: newGoPinger}
}

func newGoPinger(addr string, cfg Config) (pinger, error) {
	p, err := probing.NewPinger(addr)
	if err != nil {
		return nil, err
	}
	p.Count = cfg.Count
	p.Interval = cfg.ReplyTimeout
	p.Timeout = time.Duration(cfg.Count) * cfg.ReplyTimeout
	p.SetPrivileged(cfg.Privileged)
	return p, nil
}

// Measure pings destination and returns the average RTT in milliseconds,
// rounded to two decimals. Cancelling ctx stops the run early.
func (p *Pinger) Measure(ctx context.Context, destination string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	pr, err := p.new(destination, p.cfg)
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", destination, err)
	}

	done := make(chan error, 1)
	go func() { done <- pr.Run() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		pr.Stop()
		<-done
		return 0, ctx.Err()
	}
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", destination, err)
	}

	st := pr.Statistics()
	if st == nil || st.PacketsRecv == 0 {
		return 0, fmt.Errorf("ping %s: %w", destination, ErrNoReply)
	}
	ms := Round2(float64(st.AvgRtt) / float64(time.Millisecond))
	p.log.Trace("ping done",
		logx.String("destination", destination),
		logx.Int("sent", st.PacketsSent),
		logx.Int("recv", st.PacketsRecv),
		logx.Float64("avg_ms", ms),
	)
	return ms, nil
}

// Round2 rounds v to two decimals.
func Round2(v float64) float64 { return math.Round(v*100) / 100 }
