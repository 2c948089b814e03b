package hal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// Registry tracks live adapter instances by ID. It is an explicit object
// with a defined lifetime, passed by reference to whoever needs it; the
// layer keeps no ambient global state. All methods are safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter

	log logging.Logger
	rec MetricsRecorder
}

// RegistryOption customises Registry construction.
type RegistryOption func(*Registry)

// WithRegistryMetrics attaches a metrics recorder for the live-adapter
// gauge.
func WithRegistryMetrics(rec MetricsRecorder) RegistryOption {
	return func(r *Registry) { r.rec = rec }
}

// NewRegistry builds an empty adapter registry.
func NewRegistry(log logging.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	r := &Registry{
		adapters: make(map[string]Adapter),
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds an adapter; a duplicate ID is an error.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return errors.New("registry: nil adapter")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.ID()]; exists {
		return fmt.Errorf("%w: %q", ErrAdapterExists, a.ID())
	}
	r.adapters[a.ID()] = a
	r.updateGaugeLocked()
	return nil
}

// Get returns the adapter with the given ID.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, id)
	}
	return a, nil
}

// Remove drops an adapter from the registry without disconnecting it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[id]; !ok {
		return fmt.Errorf("%w: %q", ErrAdapterNotFound, id)
	}
	delete(r.adapters, id)
	r.updateGaugeLocked()
	return nil
}

// List returns a snapshot of all registered adapters.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// ByProtocol returns registered adapters of one transport family.
func (r *Registry) ByProtocol(proto model.Protocol) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Adapter
	for _, a := range r.adapters {
		if a.Protocol() == proto {
			out = append(out, a)
		}
	}
	return out
}

// Len reports the number of live adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// DisconnectAll disconnects every registered adapter and empties the
// registry. Individual failures are aggregated; one bad adapter does not
// stop the teardown of the rest.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	adapters := r.List()

	var errs []error
	for _, a := range adapters {
		if err := a.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("adapter %s: %w", a.ID(), err))
		}
	}

	r.mu.Lock()
	r.adapters = make(map[string]Adapter)
	r.updateGaugeLocked()
	r.mu.Unlock()

	return errors.Join(errs...)
}

// updateGaugeLocked pushes the live-adapter count to the metrics recorder.
// Caller must hold r.mu.
func (r *Registry) updateGaugeLocked() {
	if r.rec != nil {
		r.rec.SetLiveAdapters(len(r.adapters))
	}
}
