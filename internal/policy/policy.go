// Package policy decides whether an aggregation touches sensitivity-flagged
// fields in a restricted way.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/dataflow/internal/domain"
)

// Provider returns the fields of a view that an external sensitivity service
// has flagged.
type Provider interface {
	SensitiveFields(ctx context.Context, viewID string) ([]domain.FieldKey, error)
}

// Flags reports sensitivity flags recorded elsewhere, typically by the field registry.
type Flags interface {
	IsSensitive(key domain.FieldKey) bool
}

// Grouping is one group-by field as seen by the filter.
type Grouping struct {
	Field    domain.Field
	Bucketed bool
}

// Decision is the outcome of a policy check.
type Decision struct {
	Restricted bool
	Reason     string
}

// Filter applies restriction rules to aggregations
type Filter struct {
	provider Provider
	// restrictedMeasure lists aggregates that reveal individual values of a
	// sensitive measure.
	restrictedMeasure map[domain.AggregateFunc]bool
}

// NewFilter creates a policy filter. A nil provider only consults Flags.
func NewFilter(provider Provider) *Filter {
	return &Filter{
		provider: provider,
		restrictedMeasure: map[domain.AggregateFunc]bool{
			domain.AggregateMax: true,
			domain.AggregateMin: true,
		},
	}
}

// Check evaluates the aggregation. Errors from the provider are returned so
// the caller can fail closed.
func (f *Filter) Check(ctx context.Context, flags Flags, measure domain.Field, aggregate domain.AggregateFunc, groups []Grouping) (Decision, error) {
	lookup := newLookup(ctx, f.provider, flags)

	sensitive, err := lookup.sensitive(measure)
	if err != nil {
		return Decision{}, err
	}
	if sensitive && f.restrictedMeasure[aggregate] {
		return Decision{
			Restricted: true,
			Reason:     fmt.Sprintf("aggregate %s is not allowed on protected field %s", aggregate, measure.Alias),
		}, nil
	}

	var exposed []string
	for _, group := range groups {
		sensitive, err := lookup.sensitive(group.Field)
		if err != nil {
			return Decision{}, err
		}
		if sensitive && !group.Bucketed {
			exposed = append(exposed, group.Field.Alias)
		}
	}
	if len(exposed) > 0 {
		return Decision{
			Restricted: true,
			Reason:     "grouping by protected fields exposes raw values: " + strings.Join(exposed, ", "),
		}, nil
	}
	return Decision{}, nil
}

// SensitiveFields returns the fields of a view flagged by the provider, or
// nothing when the filter has no provider.
func (f *Filter) SensitiveFields(ctx context.Context, viewID string) ([]domain.FieldKey, error) {
	if f.provider == nil {
		return nil, nil
	}
	return f.provider.SensitiveFields(ctx, viewID)
}

// lookup caches provider responses per view for the duration of one check.
type lookup struct {
	ctx      context.Context
	provider Provider
	flags    Flags
	views    map[string]map[domain.FieldKey]bool
}

func newLookup(ctx context.Context, provider Provider, flags Flags) *lookup {
	return &lookup{ctx: ctx, provider: provider, flags: flags, views: make(map[string]map[domain.FieldKey]bool)}
}

func (l *lookup) sensitive(field domain.Field) (bool, error) {
	key := field.Key()
	if l.flags != nil && l.flags.IsSensitive(key) {
		return true, nil
	}
	if l.provider == nil || field.SourceID == "" {
		return false, nil
	}
	view, ok := l.views[field.SourceID]
	if !ok {
		keys, err := l.provider.SensitiveFields(l.ctx, field.SourceID)
		if err != nil {
			return false, fmt.Errorf("sensitive fields of %s: %w", field.SourceID, err)
		}
		view = make(map[domain.FieldKey]bool, len(keys))
		for _, k := range keys {
			view[k] = true
		}
		l.views[field.SourceID] = view
	}
	return view[key], nil
}

// StaticProvider serves sensitivity flags from memory.
type StaticProvider map[string][]domain.FieldKey

func (p StaticProvider) SensitiveFields(_ context.Context, viewID string) ([]domain.FieldKey, error) {
	return p[viewID], nil
}
