package integration

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a connector for one carrier.
type Factory func(cfg Config, opts ...Option) (Carrier, error)

// TransformerFactory builds the transformer attached to a new connector.
type TransformerFactory func(cfg Config) Transformer

// Info documents a registered carrier.
type Info struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	AuthMethod  string   `json:"authMethod"`
	DataFormats []string `json:"dataFormats"`
	Operations  []string `json:"operations"`
	DocsURL     string   `json:"docsUrl,omitempty"`
	RateLimit   int      `json:"rateLimit,omitempty"`
}

type registration struct {
	factory     Factory
	transformer TransformerFactory
	info        Info
}

// Registry maps carrier ids to connector factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]registration{}}
}

// Register adds a carrier. The transformer factory is optional; without one
// the connector keeps whatever transformer its factory attached.
func (r *Registry) Register(id string, f Factory, t TransformerFactory, info Info) {
	id = strings.ToUpper(id)
	if f == nil {
		panic("integration: nil factory for " + id)
	}
	if info.ID == "" {
		info.ID = id
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = registration{factory: f, transformer: t, info: info}
}

// CreateIntegration builds a connector for id with cfg.
func (r *Registry) CreateIntegration(id string, cfg Config, opts ...Option) (Carrier, error) {
	id = strings.ToUpper(id)
	r.mu.RLock()
	reg, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCarrier, id)
	}
	if cfg.CarrierID == "" {
		cfg.CarrierID = id
	}
	c, err := reg.factory(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating %s connector: %w", id, err)
	}
	if reg.transformer != nil {
		c.Base().SetTransformer(reg.transformer(c.Base().Config()))
	}
	return c, nil
}

// List returns registered carrier ids in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[strings.ToUpper(id)]
	return ok
}

// Describe returns the documentation for id.
func (r *Registry) Describe(id string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[strings.ToUpper(id)]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownCarrier, id)
	}
	return reg.info, nil
}
