// Package health serves liveness and readiness probes.
//
// Every registered check runs on its own ticker. A check flips to unhealthy
// only after FailureThreshold consecutive failures and back after
// SuccessThreshold consecutive successes, so a single slow ping does not
// take the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Check describes a registered check. Zero thresholds default to 3 failures
// and 1 success.
type Check struct {
	Name             string
	Timeout          time.Duration
	Func             CheckFunc
	FailureThreshold int
	SuccessThreshold int
}

// probe is the runtime state of a Check. Only its ticker goroutine touches
// the counters; handlers read healthy and lastErr atomically.
type probe struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	err := p.Func(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.FailureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= p.SuccessThreshold {
		p.healthy.Store(true)
	}
}

// reason returns why the probe is unhealthy, or "" if it is healthy.
func (p *probe) reason() string {
	if p.healthy.Load() {
		return ""
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error()
	}
	return "check is unhealthy"
}

// Health tracks the checks of one process.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes [2][]*probe
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers a check of the given kind. Checks start healthy.
func (h *Health) Add(kind Kind, c Check) {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	p := &probe{Check: c}
	p.healthy.Store(true)

	h.mu.Lock()
	h.probes[kind] = append(h.probes[kind], p)
	h.mu.Unlock()
}

// Start runs every check now and then on each interval until Stop or ctx
// cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	all := slices.Concat(h.probes[Liveness], h.probes[Readiness])
	h.mu.Unlock()

	for _, p := range all {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.run(ctx)
				}
			}
		}()
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the process as accepting traffic or draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the process is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	probes := slices.Clone(h.probes[kind])
	h.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range probes {
		if r := p.reason(); r != "" {
			out[p.Name] = r
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz. A process that is not marked ready reports
// a synthetic "_readiness" failure.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

// writeStatus writes {"status":"ok"} or 503 with
// {"status":"unhealthy","checks":{name:reason}}.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				names := make([]string, 0, len(failures))
				for name := range failures {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	status := http.StatusOK
	if len(failures) > 0 {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
