// Package registry holds the catalog of registered data sources and their
// capabilities. Loaded at startup, shared read-mostly across investigations.
package registry

import (
	"os"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fedprobe/internal/model"
)

// Registry indexes source descriptors by id and capability domain.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]model.SourceDescriptor
}

// New creates an empty source registry.
func New() *Registry {
	return &Registry{sources: make(map[string]model.SourceDescriptor)}
}

// Register adds or replaces a source descriptor.
func (r *Registry) Register(d model.SourceDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[d.ID] = d
}

// Get returns the descriptor for the source id.
func (r *Registry) Get(id string) (model.SourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sources[id]
	return d, ok
}

// ByDomain returns all sources capable of serving the domain, ranked by
// tier descending. Ties break on id so ranking is deterministic.
func (r *Registry) ByDomain(domain model.Domain) []model.SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.SourceDescriptor
	for _, d := range r.sources {
		if d.Serves(domain) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier > out[j].Tier
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// All returns every registered descriptor sorted by id.
func (r *Registry) All() []model.SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.SourceDescriptor, 0, len(r.sources))
	for _, d := range r.sources {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// catalogFile is the YAML shape of the source catalog on disk.
type catalogFile struct {
	Sources []model.SourceDescriptor `yaml:"sources"`
}

// LoadCatalog reads a YAML source catalog and registers every entry.
func (r *Registry) LoadCatalog(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "registry: read catalog %s", path)
	}

	var cat catalogFile
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return eris.Wrapf(err, "registry: parse catalog %s", path)
	}

	for _, d := range cat.Sources {
		if d.ID == "" {
			return eris.Errorf("registry: catalog %s has a source without id", path)
		}
		r.Register(d)
	}
	return nil
}
