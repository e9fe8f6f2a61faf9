package dispatch

import (
	"context"
	"fmt"
	"sync"

	"montage/internal/remote"
	"montage/internal/state"
	"montage/internal/store"
)

// FinalizeFunc consumes a completed remote task for one job. Handlers must
// be idempotent: a redelivered message finds the job already completed and
// returns without side effects.
type FinalizeFunc func(ctx context.Context, job *store.Job, status remote.TaskStatus) error

type registryKey struct {
	pipeline state.Pipeline
	jobType  string
}

// Registry maps (pipeline, job type) to finalize handlers. It is populated
// once at startup; the pipeline key lets one poller serve every pipeline.
type Registry struct {
	mu       sync.RWMutex
	handlers map[registryKey]FinalizeFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[registryKey]FinalizeFunc)}
}

// Register binds a finalize handler. Rebinding a key panics; duplicate
// registrations are wiring bugs, not runtime conditions.
func (r *Registry) Register(pipeline state.Pipeline, jobType string, fn FinalizeFunc) {
	if fn == nil {
		panic(fmt.Sprintf("dispatch: nil finalize handler for %s/%s", pipeline, jobType))
	}
	key := registryKey{pipeline: pipeline, jobType: jobType}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		panic(fmt.Sprintf("dispatch: finalize handler for %s/%s already registered", pipeline, jobType))
	}
	r.handlers[key] = fn
}

// Lookup returns the handler for a pipeline and job type.
func (r *Registry) Lookup(pipeline state.Pipeline, jobType string) (FinalizeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[registryKey{pipeline: pipeline, jobType: jobType}]
	return fn, ok
}
