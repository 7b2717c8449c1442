// Package registry holds field metadata discovered from sources and a bounded
// cache of sample rows keyed by the operator or source that produced them.
//
// A Registry is an explicit handle passed to every validator; there is no
// package-level instance.
package registry

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rpattn/dataflow/internal/domain"
)

// DefaultSampleCacheSize bounds the number of owners whose sample rows are kept.
const DefaultSampleCacheSize = 256

// Row is one sample record keyed by field id.
type Row map[string]any

// Entry is the metadata recorded for a field.
type Entry struct {
	Field     domain.Field
	Sensitive bool
}

// Registry stores field metadata and sample rows
type Registry struct {
	mu        sync.RWMutex
	fields    map[string]Entry
	order     []string
	sensitive map[domain.FieldKey]bool
	samples   *lru.Cache[string, []Row]
}

// New creates a registry whose sample cache keeps at most size owners.
func New(size int) (*Registry, error) {
	if size <= 0 {
		size = DefaultSampleCacheSize
	}
	samples, err := lru.New[string, []Row](size)
	if err != nil {
		return nil, fmt.Errorf("create sample cache: %w", err)
	}
	return &Registry{
		fields:    make(map[string]Entry),
		sensitive: make(map[domain.FieldKey]bool),
		samples:   samples,
	}, nil
}

// MustNew is New for callers with a static, valid size.
func MustNew(size int) *Registry {
	r, err := New(size)
	if err != nil {
		panic(err)
	}
	return r
}

// AddData records fields discovered for a source. Fields are deduplicated by
// id; a later registration replaces the earlier one.
func (r *Registry) AddData(sourceID string, fields []domain.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, field := range fields {
		if field.SourceID == "" {
			field.SourceID = sourceID
		}
		if _, exists := r.fields[field.ID]; !exists {
			r.order = append(r.order, field.ID)
		}
		r.fields[field.ID] = Entry{Field: field, Sensitive: r.sensitive[field.Key()]}
	}
}

// MarkSensitive flags fields of a source as policy protected.
func (r *Registry) MarkSensitive(keys []domain.FieldKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range keys {
		r.sensitive[key] = true
		if entry, ok := r.fields[key.ID]; ok && entry.Field.Key() == key {
			entry.Sensitive = true
			r.fields[key.ID] = entry
		}
	}
}

// IsSensitive reports whether a field has been flagged.
func (r *Registry) IsSensitive(key domain.FieldKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sensitive[key]
}

// Field returns the registered metadata for a field id.
func (r *Registry) Field(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.fields[id]
	return entry, ok
}

// Fields returns all registered fields in registration order.
func (r *Registry) Fields() []domain.Field {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fields := make([]domain.Field, 0, len(r.order))
	for _, id := range r.order {
		fields = append(fields, r.fields[id].Field)
	}
	return fields
}

// AddExampleData caches sample rows for an owner. Existing rows are kept
// unless overwrite is set. It reports whether the cache changed.
func (r *Registry) AddExampleData(ownerID string, rows []Row, overwrite bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !overwrite && r.samples.Contains(ownerID) {
		return false
	}
	clone := make([]Row, len(rows))
	copy(clone, rows)
	r.samples.Add(ownerID, clone)
	return true
}

// ExampleData returns cached sample rows for an owner.
func (r *Registry) ExampleData(ownerID string) ([]Row, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.samples.Peek(ownerID)
}
