package validators

import (
	"context"

	"github.com/rpattn/dataflow/internal/domain"
)

func validateCompare(_ context.Context, in Input) Result {
	cfg := in.Operator.Config.(domain.CompareConfig)
	branches, opErr := multiUpstream(in, 2, 0)
	if opErr != nil {
		return fail(cfg, opErr)
	}
	if opErr := checkDistinctSources(in, branches); opErr != nil {
		return fail(cfg, opErr)
	}

	if cfg.Benchmark == "" {
		return failf(cfg, domain.ErrConfigInvalid, "no benchmark input selected")
	}
	byNode := branchIndex(branches)
	if _, found := byNode[cfg.Benchmark]; !found {
		return failf(cfg, domain.ErrNodeChange, "benchmark node %s is no longer connected", cfg.Benchmark)
	}
	for _, declared := range cfg.Branches {
		if _, found := byNode[declared.NodeID]; !found {
			return failf(cfg, domain.ErrNodeChange, "compared node %s is no longer connected", declared.NodeID)
		}
	}

	ordered := make([]Branch, 0, len(branches))
	ordered = append(ordered, byNode[cfg.Benchmark])
	for _, branch := range branches {
		if branch.NodeID != cfg.Benchmark {
			ordered = append(ordered, branch)
		}
	}

	resolved := make([]domain.CompareBranch, 0, len(ordered))
	for _, branch := range ordered {
		declared, _ := cfg.Branch(branch.NodeID)
		next, opErr := resolveCompareBranch(declared, branch, branch.NodeID == cfg.Benchmark)
		if opErr != nil {
			return fail(cfg, opErr)
		}
		resolved = append(resolved, next)
	}
	cfg.Branches = resolved

	var output []domain.Field
	for _, branch := range branches {
		output = append(output, tagFields(branch.Fields, branch.NodeID)...)
	}
	return succeed(cfg, output)
}

func resolveCompareBranch(declared domain.CompareBranch, branch Branch, benchmark bool) (domain.CompareBranch, *domain.OperatorError) {
	resolved := domain.CompareBranch{NodeID: branch.NodeID}
	if declared.Key.IsZero() {
		return resolved, domain.NewOperatorError(domain.ErrConfigInvalid, "no key field selected for input %s", branch.NodeID)
	}
	key, found := domain.FindField(branch.Fields, declared.Key.Key())
	if !found {
		return resolved, domain.NewOperatorError(domain.ErrConfigInvalid, "%s", describeMissing("key field of input "+branch.NodeID, declared.Key, branch.Fields))
	}
	resolved.Key = domain.RefTo(key)

	for _, ref := range declared.Fields {
		field, found := domain.FindField(branch.Fields, ref.Key())
		if !found {
			kind := domain.ErrNodeChange
			if benchmark {
				kind = domain.ErrConfigInvalid
			}
			return resolved, domain.NewOperatorError(kind, "%s", describeMissing("compared field of input "+branch.NodeID, ref, branch.Fields))
		}
		resolved.Fields = append(resolved.Fields, domain.RefTo(field))
	}
	return resolved, nil
}
