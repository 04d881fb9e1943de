// Package readiness implements the one-shot "page ready" broadcast.
//
// A Signal fires at most once. Listeners attached before Fire are invoked
// when it fires; listeners attached afterwards are refused and never run.
// Listeners run concurrently with each other, bounded by the signal's
// concurrency limit, and a failing listener does not affect the others.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Listener reacts to the readiness broadcast.
type Listener func(ctx context.Context) error

// Result records how one listener finished.
type Result struct {
	Name     string        `json:"name"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

type entry struct {
	name string
	fn   Listener
}

// Signal is a one-shot broadcast scoped to a single page load.
type Signal struct {
	mu        sync.Mutex
	fired     bool
	firedAt   time.Time
	listeners []entry
	results   []Result
	done      chan struct{}
	group     errgroup.Group
}

// New creates a Signal that runs at most limit listeners at a time.
// A limit <= 0 means no bound.
func New(limit int) *Signal {
	s := &Signal{done: make(chan struct{})}
	if limit > 0 {
		s.group.SetLimit(limit)
	}
	return s
}

// On attaches a listener. It returns false, and the listener is dropped,
// if the signal has already fired.
func (s *Signal) On(name string, fn Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		return false
	}
	s.listeners = append(s.listeners, entry{name: name, fn: fn})
	return true
}

// Fire broadcasts to every attached listener. Only the first call has any
// effect; it reports whether this call fired the signal.
func (s *Signal) Fire(ctx context.Context) bool {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return false
	}
	s.fired = true
	s.firedAt = time.Now()
	listeners := s.listeners
	s.listeners = nil
	close(s.done)
	s.mu.Unlock()

	for _, l := range listeners {
		s.group.Go(func() error {
			start := time.Now()
			err := run(ctx, l.fn)
			res := Result{Name: l.name, Duration: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
				slog.Warn("ready listener failed", "listener", l.name, "err", err)
			}
			s.mu.Lock()
			s.results = append(s.results, res)
			s.mu.Unlock()
			return nil
		})
	}
	return true
}

// Fired reports whether Fire has been called.
func (s *Signal) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// FiredAt returns when the signal fired, or the zero time.
func (s *Signal) FiredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firedAt
}

// Done is closed when the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every listener dispatched by Fire has returned, then
// reports their results in completion order.
func (s *Signal) Wait() []Result {
	s.group.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

func run(ctx context.Context, fn Listener) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panicked: %v", p)
		}
	}()
	return fn(ctx)
}
