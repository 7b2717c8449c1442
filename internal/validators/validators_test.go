package validators

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/metadata"
	"github.com/rpattn/dataflow/internal/policy"
	"github.com/rpattn/dataflow/internal/registry"
)

func sourceFields() []domain.Field {
	return []domain.Field{
		{ID: "1", SourceID: "S1", Alias: "amt", NameEn: "amt", OriginName: "amt", DataType: domain.DataTypeNumber},
		{ID: "2", SourceID: "S1", Alias: "region", NameEn: "region", OriginName: "region", DataType: domain.DataTypeChar},
		{ID: "3", SourceID: "S1", Alias: "ts", NameEn: "ts", OriginName: "ts", DataType: domain.DataTypeDate},
	}
}

func ref(field domain.Field) domain.FieldRef {
	return domain.RefTo(field)
}

func operator(cfg domain.Config) domain.Operator {
	return domain.Operator{ID: "op1", Kind: cfg.Kind(), Config: cfg}
}

// chained builds the input of an operator that follows another in its chain.
func chained(cfg domain.Config, previous []domain.Field) Input {
	return Input{
		Env:      Env{Registry: registry.MustNew(8)},
		Node:     domain.Node{ID: "n1"},
		Index:    1,
		Operator: operator(cfg),
		Previous: previous,
	}
}

// leading builds the input of the first operator of a node with the given upstream branches.
func leading(cfg domain.Config, branches ...Branch) Input {
	src := make([]string, 0, len(branches))
	for _, branch := range branches {
		src = append(src, branch.NodeID)
	}
	return Input{
		Env:      Env{Registry: registry.MustNew(8)},
		Node:     domain.Node{ID: "n1", Src: src},
		Operator: operator(cfg),
		Branches: branches,
	}
}

func requireError(t *testing.T, result Result, kind domain.ErrorKind) {
	t.Helper()
	require.NotNil(t, result.Err, "expected %s", kind)
	assert.Equal(t, kind, result.Err.Kind, result.Err.Message)
	assert.Empty(t, result.Fields)
}

func requireOK(t *testing.T, result Result) {
	t.Helper()
	require.Nil(t, result.Err, "unexpected error: %v", result.Err)
	require.NotEmpty(t, result.Fields)
}

type failingLister struct{ err error }

func (f failingLister) FieldList(context.Context, string) ([]domain.Field, error) {
	return nil, f.err
}

func TestSource(t *testing.T) {
	catalog := &metadata.StaticCatalog{Sources: map[string]metadata.StaticSource{
		"S1": {Fields: []domain.Field{
			{ID: "1", Alias: "amt", DataType: domain.DataTypeNumber},
			{ID: "2", Alias: "blob", DataType: domain.DataTypeBinary},
			{ID: "3", Alias: "old", DataType: domain.DataTypeChar, Deleted: true},
		}},
		"S2": {Offline: true},
		"S3": {Fields: []domain.Field{{ID: "1", DataType: domain.DataTypeBinary}}},
	}}
	set := NewSet(Deps{})

	run := func(cfg domain.SourceConfig, lister metadata.FieldLister) (Result, *registry.Registry) {
		reg := registry.MustNew(8)
		in := Input{
			Env:      Env{Registry: reg, Metadata: lister},
			Node:     domain.Node{ID: "src"},
			Operator: operator(cfg),
		}
		return set.Validate(context.Background(), in), reg
	}

	t.Run("drops binary and deleted fields and registers the rest", func(t *testing.T) {
		result, reg := run(domain.SourceConfig{ReferenceID: "S1"}, catalog)
		requireOK(t, result)
		require.Len(t, result.Fields, 1)
		assert.Equal(t, "S1", result.Fields[0].SourceID)
		assert.Equal(t, "src", result.Fields[0].SourceNodeID)
		assert.Equal(t, "amt", result.Fields[0].OriginName)

		entry, found := reg.Field("1")
		require.True(t, found)
		assert.Equal(t, "amt", entry.Field.Alias)
	})

	t.Run("unknown reference", func(t *testing.T) {
		result, _ := run(domain.SourceConfig{ReferenceID: "missing"}, catalog)
		requireError(t, result, domain.ErrSourceNotFound)
	})

	t.Run("offline reference", func(t *testing.T) {
		result, _ := run(domain.SourceConfig{ReferenceID: "S2"}, catalog)
		requireError(t, result, domain.ErrSourceNotFound)
	})

	t.Run("other fetch failures are configuration errors", func(t *testing.T) {
		result, _ := run(domain.SourceConfig{ReferenceID: "S1"}, failingLister{err: errors.New("permission denied")})
		requireError(t, result, domain.ErrConfigInvalid)
	})

	t.Run("no usable fields", func(t *testing.T) {
		result, _ := run(domain.SourceConfig{ReferenceID: "S3"}, catalog)
		requireError(t, result, domain.ErrConfigInvalid)
	})

	t.Run("empty reference", func(t *testing.T) {
		result, _ := run(domain.SourceConfig{}, catalog)
		requireError(t, result, domain.ErrConfigInvalid)
	})

	t.Run("source with upstream nodes", func(t *testing.T) {
		in := leading(domain.SourceConfig{ReferenceID: "S1"}, Branch{NodeID: "other", Fields: sourceFields()})
		in.Metadata = catalog
		requireError(t, set.Validate(context.Background(), in), domain.ErrTooManyUpstream)
	})
}

func TestSelect_Arity(t *testing.T) {
	set := NewSet(Deps{})
	cfg := domain.SelectConfig{}

	requireError(t, set.Validate(context.Background(), leading(cfg)), domain.ErrMissingUpstream)
	requireError(t, set.Validate(context.Background(), leading(cfg,
		Branch{NodeID: "a", Fields: sourceFields()},
		Branch{NodeID: "b", Fields: sourceFields()},
	)), domain.ErrTooManyUpstream)
	requireError(t, set.Validate(context.Background(), leading(cfg, Branch{NodeID: "a"})), domain.ErrMissingUpstreamData)
	requireError(t, set.Validate(context.Background(), chained(cfg, nil)), domain.ErrMissingUpstreamData)
}

func TestSelect_KeepsSavedSelection(t *testing.T) {
	set := NewSet(Deps{})
	fields := sourceFields()
	cfg := domain.SelectConfig{Fields: []domain.Field{fields[0], fields[1]}}

	result := set.Validate(context.Background(), chained(cfg, fields))
	requireOK(t, result)
	assert.Equal(t, []string{"amt", "region"}, domain.Aliases(result.Fields))
	assert.Equal(t, domain.DataTypeNumber, result.Fields[0].DataType)
	assert.Equal(t, domain.DataTypeChar, result.Fields[1].DataType)

	normalized := result.Config.(domain.SelectConfig)
	assert.Len(t, normalized.Fields, 2)
}

func TestSelect_DuplicateAliasIsRejected(t *testing.T) {
	set := NewSet(Deps{})
	fields := sourceFields()
	cfg := domain.SelectConfig{Fields: []domain.Field{
		fields[0].WithAlias("x"),
		fields[1].WithAlias("x"),
	}}

	result := set.Validate(context.Background(), chained(cfg, fields))
	requireError(t, result, domain.ErrConfigInvalid)
	assert.Contains(t, result.Err.Message, "x")
}

func TestSelect_IdentityStableUnderUpstreamRename(t *testing.T) {
	set := NewSet(Deps{})
	fields := sourceFields()
	saved := []domain.Field{fields[0].WithAlias("amount"), fields[1]}

	renamed := sourceFields()
	renamed[0].Alias = "amt_total"
	renamed[1].Alias = "area"

	result := set.Validate(context.Background(), chained(domain.SelectConfig{Fields: saved}, renamed))
	requireOK(t, result)
	assert.Equal(t, []string{"amount", "area"}, domain.Aliases(result.Fields))
	assert.Equal(t, "1", result.Fields[0].ID)
	assert.Equal(t, "2", result.Fields[1].ID)
}

func TestDistinct_ValidatesLikeSelect(t *testing.T) {
	set := NewSet(Deps{})
	result := set.Validate(context.Background(), chained(domain.SelectConfig{Distinct: true}, sourceFields()))
	requireOK(t, result)
	assert.Len(t, result.Fields, 3)
}

func TestSet_RejectsMismatchedConfig(t *testing.T) {
	set := NewSet(Deps{})
	in := chained(domain.SelectConfig{}, sourceFields())
	in.Operator.Kind = domain.OperatorWhere
	requireError(t, set.Validate(context.Background(), in), domain.ErrConfigInvalid)
}

func TestSet_RecoversFromPanics(t *testing.T) {
	set := NewSet(Deps{})
	set.Register(domain.OperatorSelect, Func(func(context.Context, Input) Result { panic("boom") }))
	result := set.Validate(context.Background(), chained(domain.SelectConfig{}, sourceFields()))
	requireError(t, result, domain.ErrConfigInvalid)
	assert.Contains(t, result.Err.Message, "boom")
}

func TestSet_NilConfigUsesEmptyConfig(t *testing.T) {
	set := NewSet(Deps{})
	in := chained(domain.SelectConfig{}, sourceFields())
	in.Operator.Config = nil
	result := set.Validate(context.Background(), in)
	requireOK(t, result)
	assert.IsType(t, domain.SelectConfig{}, result.Config)
}

func TestPolicyFlagsFromRegistry(t *testing.T) {
	reg := registry.MustNew(4)
	reg.MarkSensitive([]domain.FieldKey{{ID: "1", SourceID: "S1"}})
	var flags policy.Flags = reg
	assert.True(t, flags.IsSensitive(domain.FieldKey{ID: "1", SourceID: "S1"}))
}

func TestSource_RecordsSensitivityFlags(t *testing.T) {
	catalog := &metadata.StaticCatalog{Sources: map[string]metadata.StaticSource{
		"S1": {Fields: sourceFields()},
	}}
	flagged := sourceFields()[0].Key()
	set := NewSet(Deps{Policy: policy.NewFilter(policy.StaticProvider{"S1": {flagged}})})

	reg := registry.MustNew(8)
	source := Input{
		Env:      Env{Registry: reg, Metadata: catalog},
		Node:     domain.Node{ID: "src"},
		Operator: operator(domain.SourceConfig{ReferenceID: "S1"}),
	}
	result := set.Validate(context.Background(), source)
	requireOK(t, result)

	assert.True(t, reg.IsSensitive(flagged))
	entry, found := reg.Field(flagged.ID)
	require.True(t, found)
	assert.True(t, entry.Sensitive)

	// A validator set without a provider still sees the recorded flag.
	indicator := chained(domain.IndicatorConfig{Measure: ref(result.Fields[0]), Aggregate: domain.AggregateMax}, result.Fields)
	indicator.Registry = reg
	requireError(t, NewSet(Deps{}).Validate(context.Background(), indicator), domain.ErrPolicyRestricted)
}

func TestSource_ProviderFailureStillLoadsFields(t *testing.T) {
	catalog := &metadata.StaticCatalog{Sources: map[string]metadata.StaticSource{
		"S1": {Fields: sourceFields()},
	}}
	set := NewSet(Deps{Policy: policy.NewFilter(unavailableProvider{})})
	reg := registry.MustNew(8)
	result := set.Validate(context.Background(), Input{
		Env:      Env{Registry: reg, Metadata: catalog},
		Node:     domain.Node{ID: "src"},
		Operator: operator(domain.SourceConfig{ReferenceID: "S1"}),
	})
	requireOK(t, result)
	assert.Len(t, reg.Fields(), 3)
}
