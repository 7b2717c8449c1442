package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataflow/internal/domain"
)

func TestRegistry_AddDataDeduplicatesByID(t *testing.T) {
	r := MustNew(4)
	r.AddData("S1", []domain.Field{
		{ID: "1", Alias: "amt", DataType: domain.DataTypeNumber},
		{ID: "2", Alias: "region", DataType: domain.DataTypeChar},
	})
	r.AddData("S1", []domain.Field{{ID: "1", Alias: "amount", DataType: domain.DataTypeNumber}})

	fields := r.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "amount", fields[0].Alias)
	assert.Equal(t, "S1", fields[0].SourceID)

	entry, ok := r.Field("2")
	require.True(t, ok)
	assert.Equal(t, "region", entry.Field.Alias)
}

func TestRegistry_SensitivityFlags(t *testing.T) {
	r := MustNew(4)
	key := domain.FieldKey{ID: "1", SourceID: "S1"}
	r.MarkSensitive([]domain.FieldKey{key})
	r.AddData("S1", []domain.Field{{ID: "1", Alias: "salary"}})

	entry, ok := r.Field("1")
	require.True(t, ok)
	assert.True(t, entry.Sensitive)
	assert.True(t, r.IsSensitive(key))
	assert.False(t, r.IsSensitive(domain.FieldKey{ID: "1", SourceID: "S2"}))
}

func TestRegistry_ExampleDataIsIdempotentUnlessOverwritten(t *testing.T) {
	r := MustNew(4)
	assert.True(t, r.AddExampleData("op1", []Row{{"1": 10}}, false))
	assert.False(t, r.AddExampleData("op1", []Row{{"1": 20}}, false))

	rows, ok := r.ExampleData("op1")
	require.True(t, ok)
	assert.Equal(t, 10, rows[0]["1"])

	assert.True(t, r.AddExampleData("op1", []Row{{"1": 30}}, true))
	rows, _ = r.ExampleData("op1")
	assert.Equal(t, 30, rows[0]["1"])
}

func TestRegistry_SampleCacheIsBounded(t *testing.T) {
	r := MustNew(2)
	r.AddExampleData("a", nil, false)
	r.AddExampleData("b", nil, false)
	r.AddExampleData("c", nil, false)

	_, ok := r.ExampleData("a")
	assert.False(t, ok)
	_, ok = r.ExampleData("c")
	assert.True(t, ok)
}
