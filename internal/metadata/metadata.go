// Package metadata provides the field-list and sample-row services consumed
// by source operators.
package metadata

import (
	"context"
	"errors"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/registry"
)

var (
	// ErrNotFound means the referenced table or view does not exist.
	ErrNotFound = errors.New("reference not found")
	// ErrOffline means the referenced table or view cannot currently be reached.
	ErrOffline = errors.New("reference offline")
)

// IsUnavailable reports whether err carries a known not-found or offline reason.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrOffline)
}

// FieldLister returns the fields of a referenced table or view.
type FieldLister interface {
	FieldList(ctx context.Context, referenceID string) ([]domain.Field, error)
}

// SampleSource returns up to limit sample rows keyed by field id.
type SampleSource interface {
	SampleRows(ctx context.Context, referenceID string, limit int) ([]registry.Row, error)
}

// Catalog is a metadata backend able to serve both field lists and samples.
type Catalog interface {
	FieldLister
	SampleSource
}

// stamp fills identity and naming defaults for fields read from a backend.
func stamp(referenceID string, fields []domain.Field) []domain.Field {
	for i := range fields {
		if fields[i].SourceID == "" {
			fields[i].SourceID = referenceID
		}
		if fields[i].NameEn == "" {
			fields[i].NameEn = fields[i].ID
		}
		if fields[i].Alias == "" {
			fields[i].Alias = fields[i].NameEn
		}
		if fields[i].OriginName == "" {
			fields[i].OriginName = fields[i].Alias
		}
	}
	return fields
}
