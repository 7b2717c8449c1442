package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataflow/internal/domain"
)

func upstreamFields() []domain.Field {
	return []domain.Field{
		{ID: "1", SourceID: "S1", Alias: "amt", OriginName: "amt", DataType: domain.DataTypeNumber},
		{ID: "2", SourceID: "S1", Alias: "region", OriginName: "region", DataType: domain.DataTypeChar},
		{ID: "3", SourceID: "S1", Alias: "ts", OriginName: "ts", DataType: domain.DataTypeDate},
	}
}

func TestReconcile_FirstTimeSelectsEverything(t *testing.T) {
	result := Reconcile(upstreamFields(), nil)

	require.Len(t, result.Selected, 3)
	assert.Equal(t, []string{"amt", "region", "ts"}, domain.Aliases(result.Selected))
	for _, entry := range result.All {
		assert.True(t, entry.Selected)
	}
	assert.False(t, result.HasConflicts())
}

func TestReconcile_KeepsSavedOrderAndAppendsNewFieldsUnselected(t *testing.T) {
	saved := []domain.Field{
		{ID: "2", SourceID: "S1", Alias: "region", OriginName: "region"},
		{ID: "1", SourceID: "S1", Alias: "amt", OriginName: "amt"},
	}
	result := Reconcile(upstreamFields(), saved)

	assert.Equal(t, []string{"region", "amt"}, domain.Aliases(result.Selected))
	require.Len(t, result.All, 3)
	assert.Equal(t, "ts", result.All[2].Field.Alias)
	assert.False(t, result.All[2].Selected)
}

func TestReconcile_DropsSavedFieldsMissingUpstream(t *testing.T) {
	saved := []domain.Field{
		{ID: "1", SourceID: "S1", Alias: "amt", OriginName: "amt"},
		{ID: "9", SourceID: "S1", Alias: "gone", OriginName: "gone"},
	}
	result := Reconcile(upstreamFields(), saved)

	assert.Equal(t, []string{"amt"}, domain.Aliases(result.Selected))
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, "9", result.Dropped[0].ID)
}

func TestReconcile_KeepsUserRenameAndRefreshesOthers(t *testing.T) {
	upstream := upstreamFields()
	upstream[0].Alias = "amount"
	upstream[1].Alias = "area"
	saved := []domain.Field{
		{ID: "1", SourceID: "S1", Alias: "total", OriginName: "amt"},
		{ID: "2", SourceID: "S1", Alias: "region", OriginName: "region"},
	}
	result := Reconcile(upstream, saved)

	require.Len(t, result.Selected, 2)
	assert.Equal(t, "total", result.Selected[0].Alias)
	assert.Equal(t, "amount", result.Selected[0].OriginName)
	assert.Equal(t, "area", result.Selected[1].Alias)
	assert.Equal(t, "area", result.Selected[1].OriginName)
}

func TestReconcile_IdentityIsIDAndSource(t *testing.T) {
	saved := []domain.Field{{ID: "1", SourceID: "S2", Alias: "amt", OriginName: "amt"}}
	result := Reconcile(upstreamFields(), saved)

	assert.Empty(t, result.Selected)
	assert.Len(t, result.Dropped, 1)
}

func TestReconcile_FlagsDuplicateAliases(t *testing.T) {
	saved := []domain.Field{
		{ID: "1", SourceID: "S1", Alias: "x", OriginName: "amt"},
		{ID: "2", SourceID: "S1", Alias: "x", OriginName: "region"},
		{ID: "3", SourceID: "S1", Alias: "ts", OriginName: "ts"},
	}
	result := Reconcile(upstreamFields(), saved)

	require.True(t, result.HasConflicts())
	assert.Len(t, result.Conflicting, 2)
}

func TestSuggest(t *testing.T) {
	got, ok := Suggest("regoin", []string{"amt", "region", "ts"})
	require.True(t, ok)
	assert.Equal(t, "region", got)

	_, ok = Suggest("completely_different", []string{"amt"})
	assert.False(t, ok)

	_, ok = Suggest("x", nil)
	assert.False(t, ok)
}

func TestReconcile_TakesEachKeyOnce(t *testing.T) {
	upstream := append(upstreamFields(), domain.Field{ID: "2", SourceID: "S1", Alias: "region_1", OriginName: "region_1"})

	first := Reconcile(upstream, nil)
	assert.Equal(t, []string{"amt", "region", "ts"}, domain.Aliases(first.Selected))

	second := Reconcile(upstream, first.Selected)
	assert.Equal(t, first.Selected, second.Selected)
	assert.Len(t, second.All, 3)
}
