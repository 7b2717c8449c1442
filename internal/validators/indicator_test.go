package validators

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/policy"
)

type unavailableProvider struct{}

func (unavailableProvider) SensitiveFields(context.Context, string) ([]domain.FieldKey, error) {
	return nil, errors.New("sensitivity service unreachable")
}

func TestIndicator_AggregatesMeasureByGroup(t *testing.T) {
	set := NewSet(Deps{})
	fields := sourceFields()
	cfg := domain.IndicatorConfig{
		Measure:   ref(fields[0]),
		Aggregate: domain.AggregateSum,
		GroupBy:   []domain.GroupField{{Field: ref(fields[1])}},
	}

	result := set.Validate(context.Background(), chained(cfg, fields[:2]))
	requireOK(t, result)
	require.Len(t, result.Fields, 2)
	assert.Equal(t, "amt", result.Fields[0].Alias)
	assert.Equal(t, domain.DataTypeInt, result.Fields[0].DataType)
	assert.Equal(t, "op1", result.Fields[0].SourceID)
	assert.Equal(t, "amt_sum", result.Fields[0].NameEn)
	assert.Equal(t, "region", result.Fields[1].Alias)
	assert.Equal(t, domain.DataTypeChar, result.Fields[1].DataType)
}

func TestIndicator_TemporalGrouping(t *testing.T) {
	set := NewSet(Deps{})
	fields := sourceFields()
	opened := domain.Field{ID: "4", SourceID: "S1", Alias: "opened", OriginName: "opened", DataType: domain.DataTypeTime}
	upstream := append(fields, opened)

	group := func(field domain.Field, format domain.BucketFormat) domain.IndicatorConfig {
		return domain.IndicatorConfig{
			Measure:   ref(fields[0]),
			Aggregate: domain.AggregateAvg,
			GroupBy:   []domain.GroupField{{Field: ref(field), Format: format}},
		}
	}

	t.Run("date without bucketing", func(t *testing.T) {
		requireError(t, set.Validate(context.Background(), chained(group(fields[2], ""), upstream)), domain.ErrConfigInvalid)
	})
	t.Run("date bucketed by month becomes char", func(t *testing.T) {
		result := set.Validate(context.Background(), chained(group(fields[2], domain.BucketMonth), upstream))
		requireOK(t, result)
		assert.Equal(t, domain.DataTypeChar, result.Fields[1].DataType)
	})
	t.Run("date bucketed by hour", func(t *testing.T) {
		requireError(t, set.Validate(context.Background(), chained(group(fields[2], domain.BucketHour), upstream)), domain.ErrConfigInvalid)
	})
	t.Run("time bucketed by hour", func(t *testing.T) {
		requireOK(t, set.Validate(context.Background(), chained(group(opened, domain.BucketHour), upstream)))
	})
	t.Run("time bucketed by year", func(t *testing.T) {
		requireError(t, set.Validate(context.Background(), chained(group(opened, domain.BucketYear), upstream)), domain.ErrConfigInvalid)
	})
	t.Run("char with bucketing", func(t *testing.T) {
		requireError(t, set.Validate(context.Background(), chained(group(fields[1], domain.BucketDay), upstream)), domain.ErrConfigInvalid)
	})
}

func TestIndicator_ConfigErrors(t *testing.T) {
	set := NewSet(Deps{})
	fields := sourceFields()
	extra := domain.Field{ID: "5", SourceID: "S1", Alias: "channel", OriginName: "channel", DataType: domain.DataTypeChar}
	upstream := append(fields, extra)

	cases := map[string]domain.IndicatorConfig{
		"no measure": {Aggregate: domain.AggregateSum},
		"sum over char": {
			Measure: ref(fields[1]), Aggregate: domain.AggregateSum,
		},
		"unresolved measure": {
			Measure: domain.FieldRef{ID: "404", SourceID: "S1", Alias: "amount"}, Aggregate: domain.AggregateSum,
		},
		"too many groups": {
			Measure: ref(fields[0]), Aggregate: domain.AggregateSum,
			GroupBy: []domain.GroupField{{Field: ref(fields[1])}, {Field: ref(extra)}, {Field: ref(fields[2]), Format: domain.BucketDay}},
		},
		"grouped twice": {
			Measure: ref(fields[0]), Aggregate: domain.AggregateSum,
			GroupBy: []domain.GroupField{{Field: ref(fields[1])}, {Field: ref(fields[1])}},
		},
		"measure name collides": {
			Measure: ref(fields[0]), Aggregate: domain.AggregateSum, MeasureAlias: "region",
			GroupBy: []domain.GroupField{{Field: ref(fields[1])}},
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			requireError(t, set.Validate(context.Background(), chained(cfg, upstream)), domain.ErrConfigInvalid)
		})
	}
}

func TestIndicator_CountOverChar(t *testing.T) {
	set := NewSet(Deps{})
	fields := sourceFields()
	cfg := domain.IndicatorConfig{Measure: ref(fields[1]), Aggregate: domain.AggregateCountDistinct, MeasureAlias: "regions"}
	result := set.Validate(context.Background(), chained(cfg, fields))
	requireOK(t, result)
	assert.Equal(t, "regions", result.Fields[0].Alias)
	assert.Equal(t, domain.DataTypeInt, result.Fields[0].DataType)
}

func TestIndicator_Policy(t *testing.T) {
	fields := sourceFields()

	t.Run("max over a registry-flagged measure", func(t *testing.T) {
		set := NewSet(Deps{})
		in := chained(domain.IndicatorConfig{Measure: ref(fields[0]), Aggregate: domain.AggregateMax}, fields)
		in.Registry.MarkSensitive([]domain.FieldKey{fields[0].Key()})
		requireError(t, set.Validate(context.Background(), in), domain.ErrPolicyRestricted)
	})

	t.Run("sum over a flagged measure is allowed", func(t *testing.T) {
		set := NewSet(Deps{Policy: policy.NewFilter(policy.StaticProvider{"S1": {fields[0].Key()}})})
		in := chained(domain.IndicatorConfig{Measure: ref(fields[0]), Aggregate: domain.AggregateSum}, fields)
		requireOK(t, set.Validate(context.Background(), in))
	})

	t.Run("raw grouping by a flagged field", func(t *testing.T) {
		set := NewSet(Deps{Policy: policy.NewFilter(policy.StaticProvider{"S1": {fields[1].Key()}})})
		in := chained(domain.IndicatorConfig{
			Measure: ref(fields[0]), Aggregate: domain.AggregateSum,
			GroupBy: []domain.GroupField{{Field: ref(fields[1])}},
		}, fields)
		requireError(t, set.Validate(context.Background(), in), domain.ErrPolicyRestricted)
	})

	t.Run("provider failure fails closed", func(t *testing.T) {
		set := NewSet(Deps{Policy: policy.NewFilter(unavailableProvider{})})
		in := chained(domain.IndicatorConfig{Measure: ref(fields[0]), Aggregate: domain.AggregateSum}, fields)
		requireError(t, set.Validate(context.Background(), in), domain.ErrPolicyRestricted)
	})
}

func TestIndicator_DoesNotMutateInputConfig(t *testing.T) {
	set := NewSet(Deps{})
	fields := sourceFields()
	stale := domain.FieldRef{ID: "2", SourceID: "S1", Alias: "old name"}
	cfg := domain.IndicatorConfig{
		Measure: ref(fields[0]), Aggregate: domain.AggregateSum,
		GroupBy: []domain.GroupField{{Field: stale}},
	}

	result := set.Validate(context.Background(), chained(cfg, fields))
	requireOK(t, result)
	assert.Equal(t, "old name", cfg.GroupBy[0].Field.Alias)
	assert.Equal(t, "region", result.Config.(domain.IndicatorConfig).GroupBy[0].Field.Alias)
}

func TestAggregateAllowed(t *testing.T) {
	assert.True(t, AggregateAllowed(domain.DataTypeInt, domain.AggregateAvg))
	assert.True(t, AggregateAllowed(domain.DataTypeDate, domain.AggregateMax))
	assert.False(t, AggregateAllowed(domain.DataTypeDate, domain.AggregateSum))
	assert.False(t, AggregateAllowed(domain.DataTypeBoolean, domain.AggregateMin))
	assert.True(t, AggregateAllowed(domain.DataTypeBoolean, domain.AggregateCount))
	assert.False(t, AggregateAllowed(domain.DataTypeBinary, domain.AggregateCount))
}
