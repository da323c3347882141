package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Kind classifies a registered handle. Teardown order is driven by kind:
// timers are cancelled first, observers next, stream subscriptions last.
type Kind string

const (
	KindSubscription Kind = "subscription"
	KindTimer        Kind = "timer"
	KindObserver     Kind = "observer"
)

// DisposeFunc releases the underlying resource of a handle. It must be
// safe to call while events for that handle are still in flight.
type DisposeFunc func() error

// TeardownError reports a single handle that failed to dispose. Teardown
// is best-effort: these are aggregated, never raised mid-pass.
type TeardownError struct {
	Key  string
	Kind Kind
	Err  error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown %s (%s): %v", e.Key, e.Kind, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

type handle struct {
	key     string
	kind    Kind
	dispose DisposeFunc
	seq     int
}

// Registry tracks every live subscription, timer and observer tied to one
// room session, keyed by logical name, and owns their teardown.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle
	seq     int
	log     zerolog.Logger
}

func New(log zerolog.Logger) *Registry {
	return &Registry{
		handles: make(map[string]*handle),
		log:     log.With().Str("component", "registry").Logger(),
	}
}

// Register stores dispose under key. If the key is already taken, the
// previous handle is disposed before the new one is stored, so a replaced
// handle can never leak.
func (r *Registry) Register(key string, kind Kind, dispose DisposeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.handles[key]; ok {
		delete(r.handles, key)
		if err := prev.dispose(); err != nil {
			r.log.Warn().Str("key", key).Err(err).Msg("dispose of replaced handle failed")
		}
	}

	r.seq++
	r.handles[key] = &handle{key: key, kind: kind, dispose: dispose, seq: r.seq}
}

// Cleanup disposes and removes a single handle. It reports success;
// dispose failures are logged, not propagated.
func (r *Registry) Cleanup(key string) bool {
	r.mu.Lock()
	h, ok := r.handles[key]
	if ok {
		delete(r.handles, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := h.dispose(); err != nil {
		r.log.Warn().Str("key", key).Err(err).Msg("cleanup failed")
		return false
	}
	return true
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CleanupAll tears down every handle in three strict passes: timers
// first, observers second, then stream subscriptions in reverse
// registration order, since later subscriptions may depend on earlier
// ones. Per-handle failures are collected and returned; no failure stops
// the remaining passes. Calling it again on an already empty registry
// returns nil.
func (r *Registry) CleanupAll() []error {
	r.mu.Lock()
	snapshot := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		snapshot = append(snapshot, h)
	}
	r.handles = make(map[string]*handle)
	r.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	var errs []error
	disposePass := func(kind Kind, reverse bool) {
		pass := make([]*handle, 0, len(snapshot))
		for _, h := range snapshot {
			if h.kind == kind {
				pass = append(pass, h)
			}
		}
		sort.Slice(pass, func(i, j int) bool {
			if reverse {
				return pass[i].seq > pass[j].seq
			}
			return pass[i].seq < pass[j].seq
		})
		for _, h := range pass {
			if err := h.dispose(); err != nil {
				errs = append(errs, &TeardownError{Key: h.key, Kind: h.kind, Err: err})
			}
		}
	}

	disposePass(KindTimer, false)
	disposePass(KindObserver, false)
	disposePass(KindSubscription, true)

	for _, err := range errs {
		r.log.Warn().Err(err).Msg("teardown error")
	}
	return errs
}
