package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/juju/clock"
)

// Registry owns one breaker per destination key. Breakers are created on
// first use and kept for the lifetime of the registry.
type Registry struct {
	cfg      Config
	clock    clock.Clock
	onChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock handed to every breaker.
func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithStateChange installs a transition observer on every breaker.
func WithStateChange(fn StateChangeFunc) RegistryOption {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:      cfg.withDefaults(),
		clock:    clock.WallClock,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for key, creating it if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.cfg, r.clock, r.onChange)
		r.breakers[key] = b
	}
	return b
}

// Snapshot returns the stats of every known breaker ordered by name.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(list))
	for _, b := range list {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
