package host

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/roach88/intenthost/internal/snapshot"
)

// EffectHandler performs one effect and returns data patches.
//
// ctx is cancelled when the dispatch is cancelled or the registration
// timeout elapses. Honoring it is up to the handler; the engine never kills
// an in-flight handler. params and snap are copies the handler may keep.
type EffectHandler func(ctx context.Context, effectType string, params map[string]any, snap *snapshot.Snapshot) ([]snapshot.Patch, error)

// EffectOptions configures one registration.
type EffectOptions struct {
	// Timeout bounds the handler context. Zero means no timeout.
	Timeout time.Duration
}

type registeredEffect struct {
	handler EffectHandler
	opts    EffectOptions
}

// EffectRegistry maps effect types to handlers.
//
// A registry belongs to one Host. Lookups take a read lock, so registering
// while dispatches run is safe; a requirement resolves its handler when the
// effect starts, not when the requirement was emitted.
type EffectRegistry struct {
	mu       sync.RWMutex
	handlers map[string]registeredEffect
}

// NewEffectRegistry creates an empty registry.
func NewEffectRegistry() *EffectRegistry {
	return &EffectRegistry{handlers: make(map[string]registeredEffect)}
}

// Register installs handler for effectType, replacing any previous one.
// At most one EffectOptions value is honored.
func (r *EffectRegistry) Register(effectType string, handler EffectHandler, opts ...EffectOptions) error {
	if effectType == "" {
		return errors.New("register effect: empty type")
	}
	if handler == nil {
		return errors.New("register effect: nil handler")
	}
	var o EffectOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[effectType] = registeredEffect{handler: handler, opts: o}
	return nil
}

// Unregister removes the handler for effectType and reports whether one
// was present.
func (r *EffectRegistry) Unregister(effectType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.handlers[effectType]
	delete(r.handlers, effectType)
	return ok
}

// Has reports whether a handler is registered for effectType.
func (r *EffectRegistry) Has(effectType string) bool {
	_, ok := r.lookup(effectType)
	return ok
}

// Types returns the registered effect types in sorted order.
func (r *EffectRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *EffectRegistry) lookup(effectType string) (registeredEffect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[effectType]
	return e, ok
}
