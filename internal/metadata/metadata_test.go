package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataflow/internal/domain"
)

type countingLister struct {
	calls  map[string]int
	fields []domain.Field
}

func (c *countingLister) FieldList(_ context.Context, ref string) ([]domain.Field, error) {
	c.calls[ref]++
	if ref == "missing" {
		return nil, ErrNotFound
	}
	return domain.CloneFields(c.fields), nil
}

func TestStaticCatalog_LoadAndServe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	payload := `{"sources": {
		"S1": {"fields": [{"id": "amt", "data_type": "number"}, {"id": "region", "alias": "Region", "data_type": "char"}],
		       "rows": [{"amt": 1, "region": "eu"}, {"amt": 2, "region": "us"}],
		       "sensitive": ["amt"]},
		"S2": {"offline": true}
	}}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	catalog, err := LoadStaticCatalog(path)
	require.NoError(t, err)

	fields, err := catalog.FieldList(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "S1", fields[0].SourceID)
	assert.Equal(t, "amt", fields[0].Alias)
	assert.Equal(t, "amt", fields[0].OriginName)
	assert.Equal(t, "Region", fields[1].Alias)
	assert.Equal(t, "region", fields[1].NameEn)

	_, err = catalog.FieldList(context.Background(), "S2")
	assert.ErrorIs(t, err, ErrOffline)
	_, err = catalog.FieldList(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsUnavailable(err))

	rows, err := catalog.SampleRows(context.Background(), "S1", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	keys, err := catalog.SensitiveFields(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, []domain.FieldKey{{ID: "amt", SourceID: "S1"}}, keys)
}

func TestLoader_CachesLookupsPerInstance(t *testing.T) {
	lister := &countingLister{calls: map[string]int{}, fields: []domain.Field{{ID: "1", SourceID: "S1"}}}
	loader := NewLoader(lister, 0)

	first, err := loader.FieldList(context.Background(), "S1")
	require.NoError(t, err)
	first[0].Alias = "mutated"

	second, err := loader.FieldList(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "", second[0].Alias)
	assert.Equal(t, 1, lister.calls["S1"])

	_, err = loader.FieldList(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTypeMapping(t *testing.T) {
	assert.Equal(t, domain.DataTypeInt, postgresType("bigint"))
	assert.Equal(t, domain.DataTypeDatetime, postgresType("timestamp with time zone"))
	assert.Equal(t, domain.DataTypeBinary, postgresType("bytea"))
	assert.Equal(t, domain.DataTypeChar, postgresType("character varying"))
	assert.Equal(t, domain.DataTypeNumber, mysqlType("DECIMAL"))
	assert.Equal(t, domain.DataTypeTime, mysqlType("time"))

	schema, table := splitReference("sales.orders", "public")
	assert.Equal(t, "sales", schema)
	assert.Equal(t, "orders", table)
	schema, _ = splitReference("orders", "public")
	assert.Equal(t, "public", schema)
}
