// Package health runs liveness and readiness probes in the background and
// serves their results over HTTP.
//
// A probe flips to failing only after FailureThreshold consecutive errors
// and back to passing on the first success.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// FailureThreshold is the number of consecutive errors that marks a probe
// as failing.
const FailureThreshold = 3

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects which endpoint a probe contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

type probe struct {
	name    string
	kind    Kind
	timeout time.Duration
	check   CheckFunc

	passing atomic.Bool
	lastErr atomic.Pointer[string]

	// fails is only touched by the probe's own goroutine.
	fails int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.check(ctx); err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.fails++
		if p.fails >= FailureThreshold {
			p.passing.Store(false)
		}
		return
	}
	p.lastErr.Store(nil)
	p.fails = 0
	p.passing.Store(true)
}

func (p *probe) failure() string {
	if msg := p.lastErr.Load(); msg != nil {
		return *msg
	}
	return "check is failing"
}

// Registry holds the probes of one process.
type Registry struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New creates a Registry. It reports not ready until SetReady(true).
func New() *Registry {
	return &Registry{}
}

// Register adds a probe. Probes start passing.
func (r *Registry) Register(kind Kind, name string, timeout time.Duration, check CheckFunc) {
	p := &probe{name: name, kind: kind, timeout: timeout, check: check}
	p.passing.Store(true)

	r.mu.Lock()
	r.probes = append(r.probes, p)
	r.mu.Unlock()
}

// Start runs every probe immediately and then on each interval until Stop
// or ctx is done.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	probes := append([]*probe(nil), r.probes...)
	r.mu.Unlock()

	for _, p := range probes {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				p.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts the background probes. It is safe to call more than once.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// SetReady marks the process as able (or no longer able) to serve.
func (r *Registry) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Report is the state of the probes of one kind.
type Report struct {
	OK       bool
	Failures map[string]string
}

// Report collects the current state without re-running any probe.
func (r *Registry) Report(kind Kind) Report {
	r.mu.RLock()
	probes := append([]*probe(nil), r.probes...)
	r.mu.RUnlock()

	failures := make(map[string]string)
	for _, p := range probes {
		if p.kind == kind && !p.passing.Load() {
			failures[p.name] = p.failure()
		}
	}
	if kind == Readiness && !r.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	return Report{OK: len(failures) == 0, Failures: failures}
}

// Handler serves the report of kind: 200 {"status":"ok"} or
// 503 {"status":"unhealthy","checks":{...}}.
func (r *Registry) Handler(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rep := r.Report(kind)

		var e jx.Encoder
		e.Obj(func(e *jx.Encoder) {
			if rep.OK {
				e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
				return
			}
			e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
			e.Field("checks", func(e *jx.Encoder) {
				names := make([]string, 0, len(rep.Failures))
				for name := range rep.Failures {
					names = append(names, name)
				}
				sort.Strings(names)
				e.Obj(func(e *jx.Encoder) {
					for _, name := range names {
						e.Field(name, func(e *jx.Encoder) { e.Str(rep.Failures[name]) })
					}
				})
			})
		})

		w.Header().Set("Content-Type", "application/json")
		if rep.OK {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(e.Bytes())
	}
}
