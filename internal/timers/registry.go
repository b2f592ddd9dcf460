// Package timers provides the TimerRegistry: named, taggable handles for
// scheduled callbacks (one-shot or periodic), so that shutdown can cancel
// every timer registered here in one pass. The session store's cleanup
// sweep and the coordinator's execution-window deadlines are registered
// here. The rate limiter's cleanup ticker and the WebSocket server's
// per-connection heartbeat tickers and send timeouts are not; they use the
// time package directly and stop with Limiter.Stop and with each
// connection's teardown.
package timers

import (
	"sync"
	"time"

	"github.com/sigcoord/coordinator/internal/coordinatorlog"
)

// Handle identifies one scheduled timer.
type Handle struct {
	id        uint64
	name      string
	component string
}

// ID returns the opaque numeric identifier for this handle.
func (h Handle) ID() uint64 { return h.id }

type entry struct {
	handle    Handle
	timer     *time.Timer
	ticker    *time.Ticker
	stop      chan struct{}
	cancelled bool
}

// Registry owns every scheduled callback registered with it.
type Registry struct {
	mu       sync.Mutex
	entries  map[uint64]*entry
	nextID   uint64
	shutdown bool
	log      coordinatorlog.Logger
}

// NewRegistry creates an empty TimerRegistry.
func NewRegistry(log coordinatorlog.Logger) *Registry {
	if log == nil {
		log = coordinatorlog.GetDefaultLogger()
	}
	return &Registry{
		entries: make(map[uint64]*entry),
		log:     log,
	}
}

// AfterFunc registers a one-shot timer. After shutdown, registration is a
// no-op that returns an inert handle and logs the attempt.
func (r *Registry) AfterFunc(name, component string, d time.Duration, fn func()) Handle {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		r.log.Warn("timer registration after shutdown", coordinatorlog.String("name", name), coordinatorlog.String("component", component))
		return Handle{}
	}
	r.nextID++
	id := r.nextID
	h := Handle{id: id, name: name, component: component}
	e := &entry{handle: h}
	r.entries[id] = e
	r.mu.Unlock()

	e.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		cancelled := e.cancelled
		delete(r.entries, id)
		r.mu.Unlock()
		if cancelled {
			return
		}
		fn()
	})
	return h
}

// Every registers a periodic timer that fires fn on each tick until cancelled.
func (r *Registry) Every(name, component string, d time.Duration, fn func()) Handle {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		r.log.Warn("timer registration after shutdown", coordinatorlog.String("name", name), coordinatorlog.String("component", component))
		return Handle{}
	}
	r.nextID++
	id := r.nextID
	h := Handle{id: id, name: name, component: component}
	ticker := time.NewTicker(d)
	stop := make(chan struct{})
	e := &entry{handle: h, ticker: ticker, stop: stop}
	r.entries[id] = e
	r.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()

	return h
}

// Cancel cancels a single timer by handle. Safe to call more than once.
func (r *Registry) Cancel(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h.id]
	if !ok {
		return
	}
	e.cancelled = true
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.stop != nil {
		close(e.stop)
	}
	delete(r.entries, h.id)
}

// CancelByPrefix cancels every timer whose name starts with prefix.
func (r *Registry) CancelByPrefix(prefix string) int {
	return r.cancelWhere(func(e *entry) bool {
		return len(e.handle.name) >= len(prefix) && e.handle.name[:len(prefix)] == prefix
	})
}

// CancelByComponent cancels every timer tagged with the given component.
func (r *Registry) CancelByComponent(component string) int {
	return r.cancelWhere(func(e *entry) bool { return e.handle.component == component })
}

func (r *Registry) cancelWhere(match func(*entry) bool) int {
	r.mu.Lock()
	var toCancel []*entry
	for _, e := range r.entries {
		if match(e) {
			toCancel = append(toCancel, e)
		}
	}
	r.mu.Unlock()

	for _, e := range toCancel {
		r.Cancel(e.handle)
	}
	return len(toCancel)
}

// Shutdown cancels every outstanding timer and rejects further registrations.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	var all []*entry
	for _, e := range r.entries {
		all = append(all, e)
	}
	r.mu.Unlock()

	for _, e := range all {
		r.Cancel(e.handle)
	}
}

// Count returns the number of live (uncancelled) timers, for diagnostics/tests.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
