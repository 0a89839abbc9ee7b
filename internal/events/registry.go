package events

import (
	"context"
	"fmt"
	"sort"
)

// HandlerFunc processes one event.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Registry maps event names to handlers.  It is built once at startup and
// read-only afterwards.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

// Register binds name to h.  Registering a name twice is an error.
func (r *Registry) Register(name string, h HandlerFunc) error {
	if name == "" || h == nil {
		return fmt.Errorf("events: invalid registration for %q", name)
	}
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("events: %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered event names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name has a registered handler.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}
