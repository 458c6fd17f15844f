package definition

import (
	"sort"
	"sync/atomic"

	"github.com/noah-isme/parks-console/internal/models"
)

type snapshot struct {
	pages map[string]models.PageDefinition
	order []string
}

// Registry is a read-optimised store of page definitions swapped atomically on reload.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry builds a registry from the given definitions.
func NewRegistry(defs []models.PageDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents.
func (r *Registry) Replace(defs []models.PageDefinition) {
	s := &snapshot{pages: make(map[string]models.PageDefinition, len(defs))}
	for _, def := range defs {
		if _, exists := s.pages[def.ID]; !exists {
			s.order = append(s.order, def.ID)
		}
		s.pages[def.ID] = def
	}
	sort.Strings(s.order)
	r.snap.Store(s)
}

// Get returns the page definition with the given id.
func (r *Registry) Get(id string) (models.PageDefinition, bool) {
	def, ok := r.snap.Load().pages[id]
	return def, ok
}

// All returns every definition sorted by id.
func (r *Registry) All() []models.PageDefinition {
	s := r.snap.Load()
	out := make([]models.PageDefinition, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pages[id])
	}
	return out
}

// DependentsOf returns the collection keys to invalidate after a write to key.
func (r *Registry) DependentsOf(key string) []string {
	seen := map[string]struct{}{key: {}}
	out := []string{key}
	for _, def := range r.All() {
		if def.CollectionKey() != key {
			continue
		}
		for _, dep := range def.Dependents {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			out = append(out, dep)
		}
	}
	return out
}
