// Package dispatch performs the external side effect of each step kind.
//
// A Dispatcher makes at most one outbound call per invocation and reports the
// outcome as a (result, error) pair. Configuration problems are reported as
// *ConfigError before anything leaves the process; failures of the outbound
// call itself are reported as *DispatchError.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ignatij/seqflow/pkg/models"
)

// Request carries a resolved step (templates already expanded) to a dispatcher.
type Request struct {
	ExecutionID string
	Step        models.Step
	Input       map[string]any
	// MayBlock allows dispatchers to suspend, e.g. delay steps in background runs.
	MayBlock bool
}

// InputString returns Input[key] when it is a string.
func (r Request) InputString(key string) string {
	if v, ok := r.Input[key].(string); ok {
		return v
	}
	return ""
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to the Dispatcher interface.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Dispatch(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Registry maps step kinds to dispatchers.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[models.StepKind]Dispatcher
}

func NewRegistry() *Registry {
	return &Registry{dispatchers: make(map[models.StepKind]Dispatcher)}
}

// Register binds kind to d, replacing any previous binding.
func (r *Registry) Register(kind models.StepKind, d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[kind] = d
}

func (r *Registry) Lookup(kind models.StepKind) (Dispatcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispatchers[kind]
	return d, ok
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []models.StepKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]models.StepKind, 0, len(r.dispatchers))
	for k := range r.dispatchers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// configOf extracts the typed config of req. A step without config gets the zero value.
func configOf[C models.StepConfig](req Request) (C, error) {
	var zero C
	if req.Step.Config == nil {
		return zero, nil
	}
	cfg, ok := req.Step.Config.(C)
	if !ok {
		return zero, &ConfigError{
			Field:   "config",
			Message: fmt.Sprintf("Step %s has %T config, expected %T", req.Step.DisplayName(), req.Step.Config, zero),
		}
	}
	return cfg, nil
}
