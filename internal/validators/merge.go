package validators

import (
	"context"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/reconcile"
)

func validateMerge(_ context.Context, in Input) Result {
	cfg := in.Operator.Config.(domain.MergeConfig)
	branches, opErr := multiUpstream(in, 2, 0)
	if opErr != nil {
		return fail(cfg, opErr)
	}
	if opErr := checkDistinctSources(in, branches); opErr != nil {
		return fail(cfg, opErr)
	}

	if len(cfg.Branches) == 0 {
		cfg.Branches = make([]domain.MergeBranch, 0, len(branches))
		for _, branch := range branches {
			cfg.Branches = append(cfg.Branches, domain.MergeBranch{NodeID: branch.NodeID, Fields: domain.CloneFields(branch.Fields)})
		}
	}
	if len(cfg.Branches) != len(branches) {
		return failf(cfg, domain.ErrNodeChange, "merge was configured for %d inputs but now has %d", len(cfg.Branches), len(branches))
	}
	byNode := branchIndex(branches)
	claimed := make(map[string]bool, len(cfg.Branches))
	for _, configured := range cfg.Branches {
		if _, found := byNode[configured.NodeID]; !found || claimed[configured.NodeID] {
			return failf(cfg, domain.ErrNodeChange, "merged inputs changed; node %s is no longer connected", configured.NodeID)
		}
		claimed[configured.NodeID] = true
	}

	resolved := make([]domain.MergeBranch, 0, len(cfg.Branches))
	for _, configured := range cfg.Branches {
		fields, opErr := resolveMergeBranch(configured, byNode[configured.NodeID].Fields)
		if opErr != nil {
			return fail(cfg, opErr)
		}
		resolved = append(resolved, domain.MergeBranch{NodeID: configured.NodeID, Fields: fields})
	}
	cfg.Branches = resolved

	shape := resolved[0]
	if alias, dup := duplicateAlias(shape.Fields); dup {
		return failf(cfg, domain.ErrConfigInvalid, "duplicate field name %q in merged output", alias)
	}
	for _, branch := range resolved[1:] {
		if len(branch.Fields) != len(shape.Fields) {
			return failf(cfg, domain.ErrConfigInvalid, "input %s supplies %d fields but the merged output has %d",
				branch.NodeID, len(branch.Fields), len(shape.Fields))
		}
		for i, field := range branch.Fields {
			if field.DataType != shape.Fields[i].DataType {
				return failf(cfg, domain.ErrConfigInvalid, "field %q of input %s has type %s, expected %s to match %q",
					field.Alias, branch.NodeID, field.DataType, shape.Fields[i].DataType, shape.Fields[i].Alias)
			}
		}
	}
	return succeed(cfg, tagFields(shape.Fields, shape.NodeID))
}

// resolveMergeBranch refreshes the configured columns of one input against
// its current output.
func resolveMergeBranch(configured domain.MergeBranch, current []domain.Field) ([]domain.Field, *domain.OperatorError) {
	if len(configured.Fields) == 0 {
		return nil, domain.NewOperatorError(domain.ErrConfigInvalid, "no fields selected for input %s", configured.NodeID)
	}
	reconciled := reconcile.Reconcile(current, configured.Fields)
	if len(reconciled.Dropped) > 0 {
		return nil, domain.NewOperatorError(domain.ErrConfigInvalid, "%s", describeMissing("merged field", domain.RefTo(reconciled.Dropped[0]), current))
	}
	saved := make(map[domain.FieldKey]domain.Field, len(configured.Fields))
	for _, field := range configured.Fields {
		saved[field.Key()] = field
	}
	for _, field := range reconciled.Selected {
		prior := saved[field.Key()]
		if prior.DataType != "" && prior.DataType != field.DataType {
			return nil, domain.NewOperatorError(domain.ErrConfigInvalid, "merged field %q changed type from %s to %s", field.Alias, prior.DataType, field.DataType)
		}
	}
	return reconciled.Selected, nil
}

// checkDistinctSources rejects inputs that read from the same source.
func checkDistinctSources(in Input, branches []Branch) *domain.OperatorError {
	if in.Graph == nil {
		return nil
	}
	if source, shared := in.Graph.SharedSource(branchIDs(branches)); shared {
		return domain.NewOperatorError(domain.ErrDuplicateSource, "several inputs read from source %s", source)
	}
	return nil
}
