package cache

import (
	"context"
	"time"
)

// Default TTLs for the service's named caches.
const (
	MappingsTTL   = time.Hour
	EmbeddingsTTL = 24 * time.Hour
	SearchTTL     = 5 * time.Minute
	FHIRTTL       = 10 * time.Minute
)

// Named cache identifiers used by admin endpoints.
const (
	NameMappings   = "mappings"
	NameEmbeddings = "embeddings"
	NameSearch     = "search"
	NameFHIR       = "fhir"
)

// Sizes configures the capacity of each named cache. Zero values fall back
// to defaults.
type Sizes struct {
	Mappings   int
	Embeddings int
	Search     int
	FHIR       int
}

func (s Sizes) withDefaults() Sizes {
	if s.Mappings <= 0 {
		s.Mappings = 5000
	}
	if s.Embeddings <= 0 {
		s.Embeddings = 2000
	}
	if s.Search <= 0 {
		s.Search = 1000
	}
	if s.FHIR <= 0 {
		s.FHIR = 1000
	}
	return s
}

// Registry holds the four service caches: completed mapping responses keyed
// by (system, source code), embedding vectors keyed by input text prefix,
// search results, and FHIR operation responses.
type Registry struct {
	Mappings   *Cache
	Embeddings *Cache
	Search     *Cache
	FHIR       *Cache
}

// NewRegistry builds the four named caches with the given capacities.
func NewRegistry(sizes Sizes) *Registry {
	sizes = sizes.withDefaults()
	return &Registry{
		Mappings:   New(NameMappings, sizes.Mappings, MappingsTTL),
		Embeddings: New(NameEmbeddings, sizes.Embeddings, EmbeddingsTTL),
		Search:     New(NameSearch, sizes.Search, SearchTTL),
		FHIR:       New(NameFHIR, sizes.FHIR, FHIRTTL),
	}
}

func (r *Registry) all() []*Cache {
	return []*Cache{r.Mappings, r.Embeddings, r.Search, r.FHIR}
}

// Lookup returns the named cache, or nil if the name is unknown.
func (r *Registry) Lookup(name string) *Cache {
	for _, c := range r.all() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// StatsAll returns a snapshot of every cache's counters in a stable order.
func (r *Registry) StatsAll() []Stats {
	out := make([]Stats, 0, 4)
	for _, c := range r.all() {
		out = append(out, c.Stats())
	}
	return out
}

// ClearAll empties every cache.
func (r *Registry) ClearAll() {
	for _, c := range r.all() {
		c.Clear()
	}
}

// Clear empties the named cache and reports whether the name was known.
func (r *Registry) Clear(name string) bool {
	c := r.Lookup(name)
	if c == nil {
		return false
	}
	c.Clear()
	return true
}

// StartSweeper runs a background goroutine that periodically drops expired
// entries from every cache. It stops when the context is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, c := range r.all() {
					c.Sweep()
				}
			}
		}
	}()
}
