package validators

import (
	"context"

	"github.com/rpattn/dataflow/internal/domain"
)

func validateWhere(_ context.Context, in Input) Result {
	cfg := in.Operator.Config.(domain.WhereConfig)
	upstream, opErr := singleUpstream(in)
	if opErr != nil {
		return fail(cfg, opErr)
	}
	if cfg.Logic == "" {
		cfg.Logic = domain.LogicAnd
	}
	if len(cfg.Predicates()) == 0 {
		return failf(cfg, domain.ErrConfigInvalid, "no filter conditions defined")
	}

	groups := make([]domain.PredicateGroup, len(cfg.Groups))
	for gi, group := range cfg.Groups {
		if group.Logic == "" {
			group.Logic = domain.LogicAnd
		}
		predicates := make([]domain.Predicate, len(group.Predicates))
		for pi, predicate := range group.Predicates {
			field, opErr := checkPredicate(predicate, upstream)
			if opErr != nil {
				return fail(cfg, opErr)
			}
			predicate.Field = domain.RefTo(field)
			predicates[pi] = predicate
		}
		group.Predicates = predicates
		groups[gi] = group
	}
	cfg.Groups = groups
	return succeed(cfg, domain.CloneFields(upstream))
}

func checkPredicate(predicate domain.Predicate, upstream []domain.Field) (domain.Field, *domain.OperatorError) {
	if predicate.Field.IsZero() {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "filter condition has no field")
	}
	field, found := domain.FindField(upstream, predicate.Field.Key())
	if !found {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "%s", describeMissing("filter field", predicate.Field, upstream))
	}
	if predicate.Field.DataType != "" && predicate.Field.DataType != field.DataType {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "filter field %q changed type from %s to %s",
			field.Alias, predicate.Field.DataType, field.DataType)
	}
	if field.DataType.IsTimeOfDay() {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "field %q of type %s cannot be filtered", field.Alias, field.DataType)
	}
	if !OperatorAllowed(field.DataType, predicate.Operator) {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "operator %q does not apply to %q of type %s",
			predicate.Operator, field.Alias, field.DataType)
	}
	least, most := valueArity(predicate.Operator)
	if n := len(predicate.Values); n < least || (most >= 0 && n > most) {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "operator %q on %q takes %s, got %d",
			predicate.Operator, field.Alias, arityText(least, most), n)
	}
	return field, nil
}

func arityText(least, most int) string {
	switch {
	case most < 0:
		return "at least one value"
	case most == 0:
		return "no value"
	case least == 2:
		return "two values"
	default:
		return "one value"
	}
}
