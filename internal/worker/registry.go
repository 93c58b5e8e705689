package worker

import (
	"fmt"
	"sync"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

// Kind identifies a worker implementation.
type Kind string

const (
	KindProcess   Kind = "process"
	KindFunc      Kind = "func"
	KindSynthesis Kind = "synthesis"
)

// Factory is a constructor that creates a Worker.
type Factory func() Worker

// Registry maps worker kinds to their factory constructors. The dispatcher
// asks it for a worker per attempt: synthesis tasks get the synthesis
// worker, everything else the default kind.
type Registry struct {
	mu        sync.Mutex
	factories map[Kind]Factory
	def       Kind
}

// NewRegistry creates an empty registry whose ForTask falls back to the
// given default kind.
func NewRegistry(def Kind) *Registry {
	return &Registry{
		factories: make(map[Kind]Factory),
		def:       def,
	}
}

// Register installs a factory for a kind, replacing any previous one.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Spawn creates a single worker by kind using the registered factory.
func (r *Registry) Spawn(kind Kind) (Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("no factory registered for kind %q", kind)
	}
	return factory(), nil
}

// ForTask picks the worker for a task attempt.
func (r *Registry) ForTask(task *graph.Task) (Worker, error) {
	if task.Synthesis {
		return r.Spawn(KindSynthesis)
	}
	return r.Spawn(r.def)
}
