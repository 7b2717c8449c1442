package validators

import (
	"context"
	"strings"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/reconcile"
)

// validateSelect handles select and distinct; they differ only at execution time.
func validateSelect(_ context.Context, in Input) Result {
	cfg := in.Operator.Config.(domain.SelectConfig)
	upstream, opErr := singleUpstream(in)
	if opErr != nil {
		return fail(cfg, opErr)
	}

	reconciled := reconcile.Reconcile(upstream, cfg.Fields)
	cfg.Fields = reconciled.Selected
	if len(reconciled.Selected) == 0 {
		return failf(cfg, domain.ErrConfigInvalid, "no fields selected")
	}
	if reconciled.HasConflicts() {
		return failf(cfg, domain.ErrConfigInvalid, "duplicate field names: %s", conflictNames(reconciled.Conflicting))
	}
	return succeed(cfg, domain.CloneFields(reconciled.Selected))
}

func conflictNames(fields []domain.Field) string {
	seen := make(map[string]bool, len(fields))
	var names []string
	for _, field := range fields {
		if seen[field.Alias] {
			continue
		}
		seen[field.Alias] = true
		names = append(names, field.Alias)
	}
	return strings.Join(names, ", ")
}
