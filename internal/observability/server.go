package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"netmon/internal/config"
	"netmon/internal/monitor"
	rtsup "netmon/internal/runtime/supervisor"
	logx "netmon/pkg/logx"
)

// ServerConfig controls the metrics/health HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback address is refused unless AllowInsecure is set.
type ServerConfig struct {
	Addr          string
	AllowInsecure bool
	Pprof         bool
	PprofPrefix   string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StatusFunc reports the coordinator state for /healthz.
type StatusFunc func() monitor.Status

// Server serves /metrics, /healthz, /debug/supervisor and optionally pprof.
// It runs under its own restart loop and never fails the monitor.
type Server struct {
	cfg     ServerConfig
	metrics *Metrics
	status  StatusFunc
	log     logx.Logger

	mu   sync.Mutex
	addr string
	sup  *rtsup.Supervisor
}

func NewServer(cfg ServerConfig, metrics *Metrics, status StatusFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, metrics: metrics, status: status, log: log}
}

func (s *Server) Name() string { return "http" }

// Addr is the bound listen address once serving, "" otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is done. Listener failures are retried with backoff
// and reported in the server's own supervisor snapshot; Run returns nil.
func (s *Server) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = config.DefaultMetricsAddr
	}
	if !config.IsLoopbackAddr(addr) {
		if !s.cfg.AllowInsecure {
			s.log.Error("http server refused to start: non-loopback addr requires allow_insecure", logx.String("addr", addr))
			<-ctx.Done()
			return nil
		}
		s.log.Warn("http server listening on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", func(c context.Context) error {
		return s.serveOnce(c, addr)
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	<-ctx.Done()
	_ = sup.Wait(context.Background())
	return nil
}

// Handler builds the mux; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/debug/supervisor", s.handleSupervisor)

	if s.cfg.Pprof {
		prefix := normalizePrefix(s.cfg.PprofPrefix)
		base := strings.TrimSuffix(prefix, "/")
		mux.HandleFunc(prefix, pprofIndexAt(prefix))
		mux.HandleFunc(base+"/cmdline", hpprof.Cmdline)
		mux.HandleFunc(base+"/profile", hpprof.Profile)
		mux.HandleFunc(base+"/symbol", hpprof.Symbol)
		mux.HandleFunc(base+"/trace", hpprof.Trace)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := "unknown"
	if s.status != nil {
		state = s.status().State
	}
	code := http.StatusOK
	if state != monitor.StateRunning.String() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(state + "\n"))
}

type debugView struct {
	Monitor monitor.Status `json:"monitor"`
	HTTP    rtsup.Snapshot `json:"http"`
}

func (s *Server) handleSupervisor(w http.ResponseWriter, _ *http.Request) {
	var v debugView
	if s.status != nil {
		v.Monitor = s.status()
	}
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	v.HTTP = sup.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (s *Server) serveOnce(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	bound := ln.Addr().String()
	s.mu.Lock()
	s.addr = bound
	s.mu.Unlock()
	s.log.Info("http server started", logx.String("addr", bound), logx.Bool("pprof", s.cfg.Pprof))

	err = srv.Serve(ln)

	s.mu.Lock()
	s.addr = ""
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = config.DefaultPprofPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprofIndexAt serves pprof.Index under an arbitrary prefix; Index itself
// only understands /debug/pprof/.
func pprofIndexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	}
}
