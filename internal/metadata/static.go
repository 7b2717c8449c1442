package metadata

import (
	"context"
	"fmt"
	"os"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/registry"
	"github.com/rpattn/dataflow/internal/xjson"
)

// StaticSource is one table described by a catalog file.
type StaticSource struct {
	Fields    []domain.Field `json:"fields"`
	Rows      []registry.Row `json:"rows,omitempty"`
	Offline   bool           `json:"offline,omitempty"`
	Sensitive []string       `json:"sensitive,omitempty"`
}

// StaticCatalog serves metadata from memory, typically loaded from a JSON
// file for offline validation and tests.
type StaticCatalog struct {
	Sources map[string]StaticSource `json:"sources"`
}

// LoadStaticCatalog reads a catalog file.
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var catalog StaticCatalog
	if err := xjson.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	if catalog.Sources == nil {
		catalog.Sources = map[string]StaticSource{}
	}
	return &catalog, nil
}

func (c *StaticCatalog) FieldList(_ context.Context, referenceID string) ([]domain.Field, error) {
	source, ok := c.Sources[referenceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, referenceID)
	}
	if source.Offline {
		return nil, fmt.Errorf("%w: %s", ErrOffline, referenceID)
	}
	return stamp(referenceID, domain.CloneFields(source.Fields)), nil
}

func (c *StaticCatalog) SampleRows(_ context.Context, referenceID string, limit int) ([]registry.Row, error) {
	source, ok := c.Sources[referenceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, referenceID)
	}
	rows := source.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return append([]registry.Row(nil), rows...), nil
}

// SensitiveFields lets the catalog double as a policy provider.
func (c *StaticCatalog) SensitiveFields(_ context.Context, viewID string) ([]domain.FieldKey, error) {
	source := c.Sources[viewID]
	keys := make([]domain.FieldKey, 0, len(source.Sensitive))
	for _, id := range source.Sensitive {
		keys = append(keys, domain.FieldKey{ID: id, SourceID: viewID})
	}
	return keys, nil
}
