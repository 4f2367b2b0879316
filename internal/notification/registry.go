package notification

import (
	"context"
	"sync"
)

// Registry maps predicate names to their evaluation functions. Modules
// register predicates at startup; the dispatcher resolves them at fire
// time, so a scheduled row never captures a closure.
type Registry struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
}

func NewRegistry() *Registry {
	return &Registry{predicates: make(map[string]Predicate)}
}

func (r *Registry) Register(name string, fn Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[name] = fn
}

// Evaluate runs the named predicate. Unknown predicates evaluate to false:
// an email we cannot vet is an email we do not send.
func (r *Registry) Evaluate(ctx context.Context, name string, data map[string]any) (bool, error) {
	r.mu.RLock()
	fn, ok := r.predicates[name]
	r.mu.RUnlock()
	if !ok {
		return false, ErrUnknownPredicate
	}
	return fn(ctx, data)
}
