package validators

import (
	"regexp"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/reconcile"
)

// singleUpstream returns the fields an operator with exactly one input consumes.
func singleUpstream(in Input) ([]domain.Field, *domain.OperatorError) {
	if in.Index > 0 {
		if len(in.Previous) == 0 {
			return nil, domain.NewOperatorError(domain.ErrMissingUpstreamData, "previous operator produced no fields")
		}
		return in.Previous, nil
	}
	switch len(in.Branches) {
	case 0:
		return nil, domain.NewOperatorError(domain.ErrMissingUpstream, "node has no upstream node")
	case 1:
		if len(in.Branches[0].Fields) == 0 {
			return nil, domain.NewOperatorError(domain.ErrMissingUpstreamData, "upstream node %s produced no fields", in.Branches[0].NodeID)
		}
		return in.Branches[0].Fields, nil
	default:
		return nil, domain.NewOperatorError(domain.ErrTooManyUpstream, "expected one upstream node, found %d", len(in.Branches))
	}
}

// multiUpstream returns the branches of an operator that combines several
// upstream nodes. most <= 0 means unbounded.
func multiUpstream(in Input, least, most int) ([]Branch, *domain.OperatorError) {
	if in.Index > 0 {
		return nil, domain.NewOperatorError(domain.ErrConfigInvalid, "%s must be the first operator of its node", in.Operator.Kind)
	}
	if len(in.Branches) < least {
		return nil, domain.NewOperatorError(domain.ErrMissingUpstream, "expected at least %d upstream nodes, found %d", least, len(in.Branches))
	}
	if most > 0 && len(in.Branches) > most {
		return nil, domain.NewOperatorError(domain.ErrTooManyUpstream, "expected at most %d upstream nodes, found %d", most, len(in.Branches))
	}
	for _, branch := range in.Branches {
		if len(branch.Fields) == 0 {
			return nil, domain.NewOperatorError(domain.ErrMissingUpstreamData, "upstream node %s produced no fields", branch.NodeID)
		}
	}
	return in.Branches, nil
}

func branchIndex(branches []Branch) map[string]Branch {
	byNode := make(map[string]Branch, len(branches))
	for _, branch := range branches {
		byNode[branch.NodeID] = branch
	}
	return byNode
}

func branchIDs(branches []Branch) []string {
	ids := make([]string, 0, len(branches))
	for _, branch := range branches {
		ids = append(ids, branch.NodeID)
	}
	return ids
}

func suggest(name string, candidates []domain.Field) (string, bool) {
	return reconcile.Suggest(name, domain.Aliases(candidates))
}

// duplicateAlias returns the first alias used twice.
func duplicateAlias(fields []domain.Field) (string, bool) {
	seen := make(map[string]bool, len(fields))
	for _, field := range fields {
		if seen[field.Alias] {
			return field.Alias, true
		}
		seen[field.Alias] = true
	}
	return "", false
}

var technicalName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidTechnicalName reports whether name is lowercase alphanumeric with
// underscores and does not start with a digit.
func ValidTechnicalName(name string) bool {
	return technicalName.MatchString(name)
}

var numericAggregates = map[domain.AggregateFunc]bool{
	domain.AggregateSum: true, domain.AggregateAvg: true, domain.AggregateMax: true,
	domain.AggregateMin: true, domain.AggregateCount: true, domain.AggregateCountDistinct: true,
}

var countingAggregates = map[domain.AggregateFunc]bool{
	domain.AggregateCount: true, domain.AggregateCountDistinct: true,
}

var temporalAggregates = map[domain.AggregateFunc]bool{
	domain.AggregateCount: true, domain.AggregateCountDistinct: true,
	domain.AggregateMax: true, domain.AggregateMin: true,
}

// AggregateAllowed reports whether the aggregate may be applied to a measure
// of the given type.
func AggregateAllowed(dataType domain.DataType, aggregate domain.AggregateFunc) bool {
	switch {
	case dataType.IsNumeric():
		return numericAggregates[aggregate]
	case dataType.IsTemporal():
		return temporalAggregates[aggregate]
	case dataType == domain.DataTypeBinary:
		return false
	default:
		return countingAggregates[aggregate]
	}
}

// BucketAllowed reports whether a temporal field of the given type may be
// bucketed with the format.
func BucketAllowed(dataType domain.DataType, format domain.BucketFormat) bool {
	switch format {
	case domain.BucketYear, domain.BucketQuarter, domain.BucketMonth, domain.BucketWeek, domain.BucketDay:
		return dataType == domain.DataTypeDate || dataType == domain.DataTypeDatetime
	case domain.BucketHour, domain.BucketMinute:
		return dataType == domain.DataTypeDatetime || dataType == domain.DataTypeTime
	default:
		return false
	}
}

var (
	numericOperators = operatorSet(domain.OpEq, domain.OpNe, domain.OpGt, domain.OpGe, domain.OpLt, domain.OpLe,
		domain.OpBetween, domain.OpIn, domain.OpNotIn, domain.OpIsNull, domain.OpNotNull)
	charOperators = operatorSet(domain.OpEq, domain.OpNe, domain.OpContains, domain.OpNotContains,
		domain.OpStartsWith, domain.OpEndsWith, domain.OpIn, domain.OpNotIn, domain.OpIsNull, domain.OpNotNull)
	booleanOperators  = operatorSet(domain.OpEq, domain.OpNe, domain.OpIsNull, domain.OpNotNull)
	temporalOperators = operatorSet(domain.OpEq, domain.OpNe, domain.OpGt, domain.OpGe, domain.OpLt, domain.OpLe,
		domain.OpBetween, domain.OpIsNull, domain.OpNotNull)
)

func operatorSet(ops ...domain.CompareOp) map[domain.CompareOp]bool {
	set := make(map[domain.CompareOp]bool, len(ops))
	for _, op := range ops {
		set[op] = true
	}
	return set
}

// OperatorAllowed reports whether a filter operator applies to the type.
// Time-of-day and binary fields are never filterable.
func OperatorAllowed(dataType domain.DataType, op domain.CompareOp) bool {
	switch {
	case dataType.IsTimeOfDay(), dataType == domain.DataTypeBinary:
		return false
	case dataType.IsNumeric():
		return numericOperators[op]
	case dataType.IsTemporal():
		return temporalOperators[op]
	case dataType == domain.DataTypeBoolean:
		return booleanOperators[op]
	default:
		return charOperators[op]
	}
}

// valueArity returns the accepted number of literal values for an operator;
// most < 0 means unbounded.
func valueArity(op domain.CompareOp) (least, most int) {
	switch op {
	case domain.OpIsNull, domain.OpNotNull:
		return 0, 0
	case domain.OpBetween:
		return 2, 2
	case domain.OpIn, domain.OpNotIn:
		return 1, -1
	default:
		return 1, 1
	}
}
