// Package queue is the handoff buffer between probes and the writer.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"netmon/internal/observation"
)

// DefaultCapacity bounds memory if the writer stalls while probes keep producing.
const DefaultCapacity = 1024

// ErrEmpty is returned by Get when nothing arrived within the timeout.
var ErrEmpty = errors.New("queue: no observation within timeout")

// Queue is a bounded FIFO safe for many producers and a single consumer.
//
// Put never blocks: when the buffer is full the oldest queued observation is
// discarded to make room for the new one.
type Queue struct {
	ch chan observation.Observation

	// putMu serializes producers so a drop and its replacement send are atomic.
	putMu   sync.Mutex
	dropped atomic.Uint64
	onDrop  func(observation.Observation)
}

type Option func(*Queue)

// WithDropHook is called (under the producer lock) for every discarded observation.
func WithDropHook(fn func(observation.Observation)) Option {
	return func(q *Queue) { q.onDrop = fn }
}

func New(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{ch: make(chan observation.Observation, capacity)}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Put enqueues o and reports whether an older observation had to be dropped.
func (q *Queue) Put(o observation.Observation) bool {
	q.putMu.Lock()
	defer q.putMu.Unlock()

	dropped := false
	for {
		select {
		case q.ch <- o:
			return dropped
		default:
		}
		// Full: drop the oldest (if the consumer has not taken it meanwhile) and retry.
		select {
		case old := <-q.ch:
			dropped = true
			q.dropped.Add(1)
			if q.onDrop != nil {
				q.onDrop(old)
			}
		default:
		}
	}
}

// Get returns the oldest observation. It waits at most timeout and returns
// ErrEmpty if nothing arrived, or ctx.Err() once ctx is done.
// A timeout <= 0 makes Get non-blocking.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (observation.Observation, error) {
	select {
	case o := <-q.ch:
		return o, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return observation.Observation{}, err
	}
	if timeout <= 0 {
		return observation.Observation{}, ErrEmpty
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case o := <-q.ch:
		return o, nil
	case <-ctx.Done():
		return observation.Observation{}, ctx.Err()
	case <-t.C:
		return observation.Observation{}, ErrEmpty
	}
}

// Drain removes and returns everything currently buffered, oldest first.
func (q *Queue) Drain() []observation.Observation {
	var out []observation.Observation
	for {
		select {
		case o := <-q.ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped is the number of observations discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
