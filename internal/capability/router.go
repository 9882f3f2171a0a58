package capability

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages registered capabilities and routes each worker's
// invocations to the capability bound to it, falling back as configured.
type Router struct {
	capabilities map[string]Capability
	bindings     map[string]string   // workerID -> capabilityID
	fallbacks    map[string][]string // workerID -> fallback chain
	defaults     string              // default capability ID
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewRouter creates an empty capability router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		capabilities: make(map[string]Capability),
		bindings:     make(map[string]string),
		fallbacks:    make(map[string][]string),
		logger:       logger,
	}
}

// Register adds a capability. The first registered capability becomes the
// default.
func (r *Router) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[c.ID()] = c
	if r.defaults == "" {
		r.defaults = c.ID()
	}
	r.logger.Info("registered capability",
		zap.String("id", c.ID()), zap.String("name", c.Name()))
}

// SetDefault sets the default capability.
func (r *Router) SetDefault(capabilityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = capabilityID
}

// Bind routes a worker's invocations to a specific capability.
func (r *Router) Bind(workerID, capabilityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[workerID] = capabilityID
}

// SetFallbacks configures fallback capabilities for a worker.
func (r *Router) SetFallbacks(workerID string, capabilityIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[workerID] = capabilityIDs
}

// Invoke routes an invocation through the worker's bound capability, then
// through its fallback chain on failure.
func (r *Router) Invoke(ctx context.Context, workerID string, inv *Invocation) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := r.capabilityFor(workerID)
	if primary == nil {
		return nil, fmt.Errorf("%w: no capability available for worker %s", ErrInvocation, workerID)
	}

	result, err := primary.Invoke(ctx, inv)
	if err == nil {
		return result, nil
	}
	r.logger.Warn("primary capability failed, trying fallbacks",
		zap.String("worker", workerID), zap.Error(err))

	for _, fbID := range r.fallbacks[workerID] {
		fb, ok := r.capabilities[fbID]
		if !ok {
			continue
		}
		result, err = fb.Invoke(ctx, inv)
		if err == nil {
			return result, nil
		}
		r.logger.Warn("fallback capability failed",
			zap.String("capability", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all capabilities failed for worker %s: %w", workerID, err)
}

func (r *Router) capabilityFor(workerID string) Capability {
	if cid, ok := r.bindings[workerID]; ok {
		if c, ok := r.capabilities[cid]; ok {
			return c
		}
	}
	if c, ok := r.capabilities[r.defaults]; ok {
		return c
	}
	return nil
}

// Get returns a capability by ID.
func (r *Router) Get(id string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[id]
	return c, ok
}
