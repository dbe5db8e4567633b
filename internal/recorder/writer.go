// Package recorder is the single consumer of the observation queue. It owns
// the CSV log and the optional mirror for the lifetime of the process.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netmon/internal/observation"
	"netmon/internal/queue"
	"netmon/internal/storage"
	logx "netmon/pkg/logx"
)

const DefaultPollTimeout = time.Second

// Source is the consumer side of the queue.
type Source interface {
	Get(ctx context.Context, timeout time.Duration) (observation.Observation, error)
	Drain() []observation.Observation
	Len() int
}

// Appender is the primary log.
type Appender interface {
	Append(o observation.Observation) error
	Close() error
}

// Opener opens the primary log at path.
type Opener func(path string) (Appender, error)

// Metrics is notified of every persisted row and mirror failure.
type Metrics interface {
	ObserveWrite(o observation.Observation, took time.Duration)
	MirrorFailed()
	SetQueueDepth(n int)
}

type Writer struct {
	src         Source
	path        string
	pollTimeout time.Duration
	open        Opener
	mirror      storage.Mirror
	log         logx.Logger
	metrics     Metrics
}

type Option func(*Writer)

func WithLogger(log logx.Logger) Option { return func(w *Writer) { w.log = log } }

func WithMetrics(m Metrics) Option { return func(w *Writer) { w.metrics = m } }

// WithMirror adds a secondary store. Nil disables mirroring.
func WithMirror(m storage.Mirror) Option { return func(w *Writer) { w.mirror = m } }

// WithPollTimeout bounds each wait on the queue, which in turn bounds how long
// the writer takes to notice shutdown.
func WithPollTimeout(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.pollTimeout = d
		}
	}
}

// WithOpener replaces the CSV log opener.
func WithOpener(fn Opener) Option {
	return func(w *Writer) {
		if fn != nil {
			w.open = fn
		}
	}
}

func New(src Source, path string, opts ...Option) *Writer {
	w := &Writer{
		src:         src,
		path:        path,
		pollTimeout: DefaultPollTimeout,
		open:        func(p string) (Appender, error) { return storage.OpenCSV(p) },
	}
	for _, o := range opts {
		o(w)
	}
	if w.log.IsZero() {
		w.log = logx.Nop()
	}
	return w
}

func (w *Writer) Name() string { return "recorder" }

// Run opens the log and persists observations in arrival order until ctx is
// done. Items still queued at shutdown are written before Run returns.
// A failure to open or append to the log is returned and is fatal.
func (w *Writer) Run(ctx context.Context) (err error) {
	if w.src == nil {
		return errors.New("recorder: nil source")
	}
	dst, err := w.open(w.path)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	w.log.Info("recorder started", logx.String("path", w.path), logx.Bool("mirror", w.mirror != nil))

	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("recorder: close log: %w", cerr)
		}
		if w.mirror != nil {
			if cerr := w.mirror.Close(); cerr != nil {
				w.log.Warn("recorder: close mirror failed", logx.Err(cerr))
			}
		}
		w.log.Info("recorder stopped")
	}()

	for {
		o, gerr := w.src.Get(ctx, w.pollTimeout)
		switch {
		case gerr == nil:
			if err := w.persist(ctx, dst, o); err != nil {
				return err
			}
		case errors.Is(gerr, queue.ErrEmpty):
			w.setDepth()
		case ctx.Err() != nil:
			return w.drain(dst)
		default:
			return fmt.Errorf("recorder: %w", gerr)
		}
	}
}

func (w *Writer) drain(dst Appender) error {
	rest := w.src.Drain()
	for _, o := range rest {
		if err := w.persist(context.Background(), dst, o); err != nil {
			return err
		}
	}
	if len(rest) > 0 {
		w.log.Info("recorder: drained pending observations", logx.Int("count", len(rest)))
	}
	w.setDepth()
	return nil
}

func (w *Writer) persist(ctx context.Context, dst Appender, o observation.Observation) error {
	start := time.Now()
	if err := dst.Append(o); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	took := time.Since(start)

	if w.mirror != nil {
		mctx := ctx
		if mctx.Err() != nil {
			mctx = context.Background()
		}
		if err := w.mirror.Insert(mctx, o); err != nil {
			w.log.Warn("recorder: mirror insert failed", logx.Err(err), logx.String("probe", o.Kind().String()))
			if w.metrics != nil {
				w.metrics.MirrorFailed()
			}
		}
	}
	if w.metrics != nil {
		w.metrics.ObserveWrite(o, took)
	}
	w.setDepth()
	w.log.Trace("recorder: row written", logx.String("probe", o.Kind().String()), logx.Duration("took", took))
	return nil
}

func (w *Writer) setDepth() {
	if w.metrics != nil {
		w.metrics.SetQueueDepth(w.src.Len())
	}
}
