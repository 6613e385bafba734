package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nulzo/refract/pkg/api"
)

// registry is a private helper struct holding the merged model catalog.
// It is thread-safe.
type registry struct {
	models map[string]api.ModelDefinition
	mu     sync.RWMutex
}

func newRegistry() *registry {
	return &registry{
		models: make(map[string]api.ModelDefinition),
	}
}

func (r *registry) addModel(m api.ModelDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
}

func (r *registry) getModel(id string) (api.ModelDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// replaceProvider swaps out every entry owned by providerID in one step, so
// readers never observe a half-refreshed catalog.
func (r *registry) replaceProvider(providerID string, models []api.ModelDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, m := range r.models {
		if m.ProviderID == providerID {
			delete(r.models, id)
		}
	}
	for _, m := range models {
		r.models[m.ID] = m
	}
}

func (r *registry) listModels() []api.ModelDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]api.ModelDefinition, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveRoute maps a catalog id onto its provider and upstream model id.
func (r *registry) ResolveRoute(modelID string) (string, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.models[modelID]; ok {
		upstreamID := m.UpstreamID
		if upstreamID == "" {
			upstreamID = modelID
		}
		return m.ProviderID, upstreamID, nil
	}

	return "", "", fmt.Errorf("model not found: %s", modelID)
}
