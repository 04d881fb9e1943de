// Package registry is the capability registry of a page load.
//
// Modules register named initializers and shared capabilities (the
// formatter, the chart renderer) when they load. The orchestrator and the
// overlay layer invoke initializers by name through Invoke, which is
// best-effort: a missing name is skipped and a failing or panicking
// initializer is reported, never propagated. Invoke also records successful
// runs, so both callers share one answer to "has this panel initialized".
package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Initializer starts (or refreshes) one panel.
type Initializer func(ctx context.Context) error

// Outcome classifies an invocation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeMissing
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeMissing:
		return "missing"
	default:
		return "error"
	}
}

// MarshalText renders the outcome by name in JSON reports.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ok":
		*o = OutcomeOK
	case "missing":
		*o = OutcomeMissing
	case "error":
		*o = OutcomeFailed
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

// Result describes one invocation.
type Result struct {
	Name     string        `json:"name"`
	Outcome  Outcome       `json:"outcome"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Registry maps initializer and capability names to their providers.
type Registry struct {
	mu    sync.RWMutex
	inits map[string]Initializer
	caps  map[string]any
	runs  map[string]int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		inits: make(map[string]Initializer),
		caps:  make(map[string]any),
		runs:  make(map[string]int),
	}
}

// Register binds name to fn, replacing any earlier binding.
func (r *Registry) Register(name string, fn Initializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits[name] = fn
}

// Lookup returns the initializer bound to name.
func (r *Registry) Lookup(name string) (Initializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.inits[name]
	return fn, ok
}

// Names returns the registered initializer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.inits))
	for n := range r.inits {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Provide publishes a shared capability under name.
func (r *Registry) Provide(name string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[name] = v
}

// Capability returns the capability published under name.
func (r *Registry) Capability(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.caps[name]
	return v, ok
}

// Get returns the capability under name if it exists and has type T.
func Get[T any](r *Registry, name string) (T, bool) {
	var zero T
	v, ok := r.Capability(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Invoke runs the initializer bound to name, if any. It never panics.
func (r *Registry) Invoke(ctx context.Context, name string) Result {
	fn, ok := r.Lookup(name)
	if !ok {
		return Result{Name: name, Outcome: OutcomeMissing}
	}

	start := time.Now()
	err := call(ctx, fn)
	res := Result{Name: name, Duration: time.Since(start)}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		res.Error = err.Error()
		return res
	}

	r.mu.Lock()
	r.runs[name]++
	r.mu.Unlock()
	res.Outcome = OutcomeOK
	return res
}

// Runs returns how many times name completed successfully.
func (r *Registry) Runs(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[name]
}

// Initialized reports whether name has completed successfully at least once.
func (r *Registry) Initialized(name string) bool {
	return r.Runs(name) > 0
}

func call(ctx context.Context, fn Initializer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("initializer panicked: %v\n%s", p, debug.Stack())
		}
	}()
	return fn(ctx)
}
