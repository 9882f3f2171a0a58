package worker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Spec defines a worker's identity: who it is, what it pursues, and how it
// behaves. Specs are immutable once registered.
type Spec struct {
	ID        string `yaml:"id" json:"id"`
	Role      string `yaml:"role" json:"role"`
	Goal      string `yaml:"goal" json:"goal"`
	Backstory string `yaml:"backstory" json:"backstory"`
	Verbose   bool   `yaml:"verbose" json:"verbose"`
}

var (
	// ErrDuplicateWorker is returned when registering an ID twice.
	ErrDuplicateWorker = errors.New("duplicate worker id")
	// ErrUnknownWorker is returned when resolving an ID that was never registered.
	ErrUnknownWorker = errors.New("unknown worker id")
)

// Registry holds named worker specs. Lookup only; no behavior.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Spec
	logger  *zap.Logger
}

// NewRegistry creates an empty worker registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		workers: make(map[string]Spec),
		logger:  logger,
	}
}

// Register adds a worker spec.
func (r *Registry) Register(s Spec) error {
	if s.ID == "" {
		return fmt.Errorf("register worker: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[s.ID]; ok {
		return fmt.Errorf("register worker %q: %w", s.ID, ErrDuplicateWorker)
	}
	r.workers[s.ID] = s
	r.logger.Info("registered worker",
		zap.String("id", s.ID),
		zap.String("role", s.Role))
	return nil
}

// Resolve returns the spec for an ID.
func (r *Registry) Resolve(id string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.workers[id]
	if !ok {
		return Spec{}, fmt.Errorf("resolve worker %q: %w", id, ErrUnknownWorker)
	}
	return s, nil
}

// List returns all registered specs sorted by ID.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.workers))
	for _, s := range r.workers {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}
