package registry

import (
	"fmt"
	"sort"

	"github.com/cuemby/stackup/pkg/types"
)

// Registry holds the validated, immutable set of service specs
type Registry struct {
	specs      []*types.ServiceSpec
	byID       map[string]*types.ServiceSpec
	dependents map[string][]string
	layers     [][]string
}

// New validates specs and builds a registry. It fails with
// *types.UnknownDependencyError or *types.CycleError before anything runs.
func New(specs []*types.ServiceSpec) (*Registry, error) {
	r := &Registry{
		byID:       make(map[string]*types.ServiceSpec, len(specs)),
		dependents: make(map[string][]string, len(specs)),
	}

	for _, spec := range specs {
		if spec == nil || spec.ID == "" {
			return nil, fmt.Errorf("service spec without id")
		}
		if _, exists := r.byID[spec.ID]; exists {
			return nil, fmt.Errorf("duplicate service id %q", spec.ID)
		}
		r.byID[spec.ID] = spec
		r.specs = append(r.specs, spec)
	}

	for _, spec := range r.specs {
		for _, dep := range spec.DependsOn {
			if _, ok := r.byID[dep]; !ok {
				return nil, &types.UnknownDependencyError{ServiceID: spec.ID, Dependency: dep}
			}
			r.dependents[dep] = append(r.dependents[dep], spec.ID)
		}
	}

	if err := r.checkCycles(); err != nil {
		return nil, err
	}

	r.layers = r.computeLayers()
	return r, nil
}

// List returns every spec in declaration order
func (r *Registry) List() []*types.ServiceSpec {
	out := make([]*types.ServiceSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Get returns the spec with the given id
func (r *Registry) Get(id string) (*types.ServiceSpec, bool) {
	spec, ok := r.byID[id]
	return spec, ok
}

// DependenciesOf returns the sorted direct dependency ids of id
func (r *Registry) DependenciesOf(id string) []string {
	spec, ok := r.byID[id]
	if !ok {
		return nil
	}
	deps := append([]string(nil), spec.DependsOn...)
	sort.Strings(deps)
	return deps
}

// Dependents returns the sorted ids that directly depend on id
func (r *Registry) Dependents(id string) []string {
	out := append([]string(nil), uniq(r.dependents[id])...)
	sort.Strings(out)
	return out
}

// TransitiveDependents returns every id that depends on id, directly or not
func (r *Registry) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range r.Dependents(cur) {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Layers returns the topological layering: every service appears in the
// first layer after all of its dependencies. Ids within a layer are sorted.
func (r *Registry) Layers() [][]string {
	out := make([][]string, len(r.layers))
	for i, layer := range r.layers {
		out[i] = append([]string(nil), layer...)
	}
	return out
}

func (r *Registry) computeLayers() [][]string {
	indegree := make(map[string]int, len(r.specs))
	for _, spec := range r.specs {
		indegree[spec.ID] = len(uniq(spec.DependsOn))
	}

	var current []string
	for id, n := range indegree {
		if n == 0 {
			current = append(current, id)
		}
	}

	var layers [][]string
	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)

		var next []string
		for _, id := range current {
			for _, d := range uniq(r.dependents[id]) {
				indegree[d]--
				if indegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		current = next
	}
	return layers
}

// checkCycles runs a three-colour DFS in sorted id order so the reported
// cycle is deterministic.
func (r *Registry) checkCycles() error {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]uint8, len(r.specs))
	var stack []string

	var dfs func(string) error
	dfs = func(id string) error {
		switch state[id] {
		case visiting:
			return &types.CycleError{Path: cyclePath(stack, id)}
		case visited:
			return nil
		}

		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range r.DependenciesOf(id) {
			if err := dfs(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		return nil
	}

	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if state[id] == unvisited {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func cyclePath(stack []string, start string) []string {
	for i, id := range stack {
		if id == start {
			path := append([]string(nil), stack[i:]...)
			return append(path, start)
		}
	}
	return []string{start, start}
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
