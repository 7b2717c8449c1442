package validators

import (
	"context"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/policy"
)

const maxGroupBy = 2

type indicatorValidator struct {
	policy *policy.Filter
}

func (v *indicatorValidator) Validate(ctx context.Context, in Input) Result {
	cfg := in.Operator.Config.(domain.IndicatorConfig)
	upstream, opErr := singleUpstream(in)
	if opErr != nil {
		return fail(cfg, opErr)
	}

	if cfg.Measure.IsZero() {
		return failf(cfg, domain.ErrConfigInvalid, "no measure selected")
	}
	measure, found := domain.FindField(upstream, cfg.Measure.Key())
	if !found {
		return failf(cfg, domain.ErrConfigInvalid, "%s", describeMissing("measure", cfg.Measure, upstream))
	}
	if cfg.Aggregate == "" {
		return failf(cfg, domain.ErrConfigInvalid, "no aggregate selected for %q", measure.Alias)
	}
	if !AggregateAllowed(measure.DataType, cfg.Aggregate) {
		return failf(cfg, domain.ErrConfigInvalid, "aggregate %s cannot be applied to %q of type %s", cfg.Aggregate, measure.Alias, measure.DataType)
	}
	cfg.Measure = domain.RefTo(measure)

	if len(cfg.GroupBy) > maxGroupBy {
		return failf(cfg, domain.ErrConfigInvalid, "at most %d group-by fields are allowed, found %d", maxGroupBy, len(cfg.GroupBy))
	}
	cfg.GroupBy = append([]domain.GroupField(nil), cfg.GroupBy...)
	groups := make([]domain.Field, 0, len(cfg.GroupBy))
	groupings := make([]policy.Grouping, 0, len(cfg.GroupBy))
	seen := make(map[domain.FieldKey]bool, len(cfg.GroupBy))
	for i, group := range cfg.GroupBy {
		field, found := domain.FindField(upstream, group.Field.Key())
		if !found {
			return failf(cfg, domain.ErrConfigInvalid, "%s", describeMissing("group-by field", group.Field, upstream))
		}
		if seen[field.Key()] {
			return failf(cfg, domain.ErrConfigInvalid, "%q is grouped more than once", field.Alias)
		}
		seen[field.Key()] = true

		bucketed := group.Format != domain.BucketNone
		switch {
		case field.DataType.IsTemporal() && !bucketed:
			return failf(cfg, domain.ErrConfigInvalid, "group-by field %q of type %s needs a bucketing format", field.Alias, field.DataType)
		case field.DataType.IsTemporal() && !BucketAllowed(field.DataType, group.Format):
			return failf(cfg, domain.ErrConfigInvalid, "bucketing format %q does not apply to %q of type %s", group.Format, field.Alias, field.DataType)
		case !field.DataType.IsTemporal() && bucketed:
			return failf(cfg, domain.ErrConfigInvalid, "group-by field %q of type %s cannot be bucketed", field.Alias, field.DataType)
		}
		cfg.GroupBy[i].Field = domain.RefTo(field)

		out := field.WithSourceNode(in.Node.ID)
		out.OriginName = field.Alias
		if bucketed {
			out = out.WithType(domain.DataTypeChar)
		}
		groups = append(groups, out)
		groupings = append(groupings, policy.Grouping{Field: field, Bucketed: bucketed})
	}

	alias := cfg.MeasureAlias
	if alias == "" {
		alias = measure.Alias
	}
	for _, group := range groups {
		if group.Alias == alias {
			return failf(cfg, domain.ErrConfigInvalid, "measure name %q collides with a group-by field", alias)
		}
	}

	decision, err := v.policy.Check(ctx, registryFlags(in), measure, cfg.Aggregate, groupings)
	if err != nil {
		return failf(cfg, domain.ErrPolicyRestricted, "sensitivity check unavailable: %v", err)
	}
	if decision.Restricted {
		return failf(cfg, domain.ErrPolicyRestricted, "%s", decision.Reason)
	}

	output := domain.Field{
		ID:           measure.ID,
		SourceID:     in.Operator.ID,
		Alias:        alias,
		NameEn:       measure.NameEn + "_" + string(cfg.Aggregate),
		DataType:     domain.DataTypeInt,
		OriginName:   alias,
		SourceNodeID: in.Node.ID,
	}
	return succeed(cfg, append([]domain.Field{output}, groups...))
}

// registryFlags avoids handing the filter a typed nil interface.
func registryFlags(in Input) policy.Flags {
	if in.Registry == nil {
		return nil
	}
	return in.Registry
}
