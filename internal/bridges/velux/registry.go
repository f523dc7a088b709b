package velux

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps device IDs to covers. It is populated once during device
// registration and cleared at shutdown.
type Registry struct {
	mu     sync.Mutex
	covers map[string]*Cover
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{covers: make(map[string]*Cover)}
}

// Add registers a cover under its ID. A colliding ID is rejected with
// ErrDuplicateID: the first registration wins, because silently replacing
// a device would leave its MQTT subscriptions orphaned.
func (r *Registry) Add(c *Cover) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.covers[c.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID())
	}
	r.covers[c.ID()] = c
	return nil
}

// Get looks up a cover by ID.
func (r *Registry) Get(id string) (*Cover, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.covers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return c, nil
}

// Snapshot returns all registered covers ordered by ID.
func (r *Registry) Snapshot() []*Cover {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Cover, 0, len(r.covers))
	for _, c := range r.covers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered covers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.covers)
}

// Clear removes all covers. Called during shutdown after each cover has
// been stopped.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.covers = make(map[string]*Cover)
}
