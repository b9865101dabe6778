// Package registry implements the Service Registry: the dynamically
// assembled, dependency-ordered list of indexer plugins each contributing
// batch mutations per block, with declared dependencies, topological
// ordering, and lifecycle hooks.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/shruggr/chainindex/kvstore"
	"github.com/shruggr/chainindex/models"
)

// ErrServiceContract reports that a service declaration is malformed: an
// empty name, a duplicate name, or a dependency naming a service that was
// never registered.
var ErrServiceContract = errors.New("registry: invalid service contract")

// ErrDependencyCycle reports that the declared dependency graph is not a
// DAG.
var ErrDependencyCycle = errors.New("registry: dependency cycle")

// Service is the plugin contract every indexer implements.
type Service interface {
	Name() string
	Dependencies() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// BlockHandler is implemented by services that contribute ops serially,
// in declared order, and so may read the side effects of earlier serial
// handlers within the same block apply.
type BlockHandler interface {
	HandleBlock(ctx context.Context, block *models.Block, connect bool) ([]kvstore.Op, error)
}

// ConcurrentBlockHandler is implemented by services that contribute ops in
// parallel with every other concurrent handler. Implementations must not
// depend on another handler's in-flight side effects.
type ConcurrentBlockHandler interface {
	HandleBlockConcurrent(ctx context.Context, block *models.Block, connect bool) ([]kvstore.Op, error)
}

// Registry holds the validated, dependency-ordered set of services.
type Registry struct {
	ordered []Service
}

// New validates service declarations and topologically sorts them by
// declared dependency. Services with no handler capability at all are
// still valid members (e.g. a pure lifecycle-only service).
func New(services []Service) (*Registry, error) {
	byName := make(map[string]Service, len(services))
	for _, s := range services {
		name := s.Name()
		if name == "" {
			return nil, fmt.Errorf("%w: service with empty name", ErrServiceContract)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate service name %q", ErrServiceContract, name)
		}
		byName[name] = s
	}
	for _, s := range services {
		for _, dep := range s.Dependencies() {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("%w: service %q depends on unregistered service %q", ErrServiceContract, s.Name(), dep)
			}
		}
	}

	ordered, err := topoSort(services, byName)
	if err != nil {
		return nil, err
	}

	return &Registry{ordered: ordered}, nil
}

// topoSort performs Kahn's algorithm over the declared dependency edges
// (dependency -> dependent), breaking ties by input order for determinism.
func topoSort(services []Service, byName map[string]Service) ([]Service, error) {
	indegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))
	for _, s := range services {
		indegree[s.Name()] = len(s.Dependencies())
		for _, dep := range s.Dependencies() {
			dependents[dep] = append(dependents[dep], s.Name())
		}
	}

	var ready []string
	for _, s := range services {
		if indegree[s.Name()] == 0 {
			ready = append(ready, s.Name())
		}
	}

	var orderedNames []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		orderedNames = append(orderedNames, name)

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(orderedNames) != len(services) {
		return nil, ErrDependencyCycle
	}

	ordered := make([]Service, len(orderedNames))
	for i, name := range orderedNames {
		ordered[i] = byName[name]
	}
	return ordered, nil
}

// Services returns all registered services in dependency order.
func (r *Registry) Services() []Service {
	return r.ordered
}

// BlockHandlers returns the registered BlockHandler services, in the same
// dependency order used for Start.
func (r *Registry) BlockHandlers() []BlockHandler {
	var handlers []BlockHandler
	for _, s := range r.ordered {
		if h, ok := s.(BlockHandler); ok {
			handlers = append(handlers, h)
		}
	}
	return handlers
}

// ConcurrentBlockHandlers returns the registered ConcurrentBlockHandler
// services. Order is irrelevant since they must be independent.
func (r *Registry) ConcurrentBlockHandlers() []ConcurrentBlockHandler {
	var handlers []ConcurrentBlockHandler
	for _, s := range r.ordered {
		if h, ok := s.(ConcurrentBlockHandler); ok {
			handlers = append(handlers, h)
		}
	}
	return handlers
}

// Start starts every service in dependency order, stopping at the first
// error.
func (r *Registry) Start(ctx context.Context) error {
	for _, s := range r.ordered {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("registry: start %q: %w", s.Name(), err)
		}
	}
	return nil
}

// Stop stops every service in reverse dependency order, continuing past
// individual failures and returning a joined error so one stuck service
// doesn't prevent the others from shutting down.
func (r *Registry) Stop(ctx context.Context) error {
	var errs []error
	for i := len(r.ordered) - 1; i >= 0; i-- {
		s := r.ordered[i]
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("registry: stop %q: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
