package validators

import (
	"context"
	"fmt"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/reconcile"
)

func validateJoin(_ context.Context, in Input) Result {
	cfg := in.Operator.Config.(domain.JoinConfig)
	if cfg.Type == "" {
		cfg.Type = domain.JoinInner
	}
	if !cfg.Type.Valid() {
		return failf(cfg, domain.ErrConfigInvalid, "unknown join kind %q", cfg.Type)
	}
	branches, opErr := multiUpstream(in, 2, 2)
	if opErr != nil {
		return fail(cfg, opErr)
	}

	left, right, opErr := recoverSides(cfg.Left, cfg.Right, branches)
	if opErr != nil {
		return fail(cfg, opErr)
	}
	cfg.Left, cfg.Right = left, right

	byNode := branchIndex(branches)
	leftFields := byNode[left.NodeID].Fields
	rightFields := byNode[right.NodeID].Fields

	leftKey, opErr := resolveJoinKey("left", left.Field, leftFields)
	if opErr != nil {
		return fail(cfg, opErr)
	}
	rightKey, opErr := resolveJoinKey("right", right.Field, rightFields)
	if opErr != nil {
		return fail(cfg, opErr)
	}
	if leftKey.DataType != rightKey.DataType {
		return failf(cfg, domain.ErrConfigInvalid, "join keys %q (%s) and %q (%s) have different types",
			leftKey.Alias, leftKey.DataType, rightKey.Alias, rightKey.DataType)
	}
	cfg.Left.Field = domain.RefTo(leftKey)
	cfg.Right.Field = domain.RefTo(rightKey)

	combined := combineSides(cfg.Type, left.NodeID, leftFields, right.NodeID, rightFields)
	combined = rekeyShared(in, cfg.Type, combined, len(leftFields))
	reconciled := reconcile.Reconcile(combined, cfg.Fields)
	cfg.Fields = reconciled.Selected
	if len(reconciled.Selected) == 0 {
		return failf(cfg, domain.ErrConfigInvalid, "no fields selected")
	}
	if reconciled.HasConflicts() {
		return failf(cfg, domain.ErrConfigInvalid, "duplicate field names: %s", conflictNames(reconciled.Conflicting))
	}
	return succeed(cfg, domain.CloneFields(reconciled.Selected))
}

// recoverSides maps the saved left and right sides onto the current upstream
// nodes. A side whose node disappeared is moved to the remaining node and
// its key is cleared so the user has to pick it again.
func recoverSides(left, right domain.JoinKey, branches []Branch) (domain.JoinKey, domain.JoinKey, *domain.OperatorError) {
	byNode := branchIndex(branches)
	_, leftKnown := byNode[left.NodeID]
	_, rightKnown := byNode[right.NodeID]
	leftKnown = leftKnown && left.NodeID != ""
	rightKnown = rightKnown && right.NodeID != ""
	if leftKnown && rightKnown && left.NodeID == right.NodeID && branches[0].NodeID != branches[1].NodeID {
		rightKnown = false
	}

	switch {
	case leftKnown && rightKnown:
		return left, right, nil
	case leftKnown:
		return left, domain.JoinKey{NodeID: otherBranch(left.NodeID, branches)}, nil
	case rightKnown:
		return domain.JoinKey{NodeID: otherBranch(right.NodeID, branches)}, right, nil
	case left.NodeID != "" || right.NodeID != "":
		return left, right, domain.NewOperatorError(domain.ErrNodeChange, "both joined nodes were replaced; select the join sides again")
	default:
		return domain.JoinKey{NodeID: branches[0].NodeID, Field: left.Field},
			domain.JoinKey{NodeID: branches[1].NodeID, Field: right.Field}, nil
	}
}

func otherBranch(nodeID string, branches []Branch) string {
	for _, branch := range branches {
		if branch.NodeID != nodeID {
			return branch.NodeID
		}
	}
	return branches[len(branches)-1].NodeID
}

func resolveJoinKey(side string, ref domain.FieldRef, fields []domain.Field) (domain.Field, *domain.OperatorError) {
	if ref.IsZero() {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "%s join key is not selected", side)
	}
	field, found := domain.FindField(fields, ref.Key())
	if !found {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "%s", describeMissing(side+" join key", ref, fields))
	}
	if field.DataType.IsTimeOfDay() {
		return domain.Field{}, domain.NewOperatorError(domain.ErrConfigInvalid, "%s join key %q has type %s which cannot be joined on", side, field.Alias, field.DataType)
	}
	return field, nil
}

// combineSides concatenates left then right fields, tagging each with its
// node. The secondary side, right unless this is a right join, gets numbered
// suffixes on aliases that collide with the primary side.
func combineSides(kind domain.JoinKind, leftNode string, leftFields []domain.Field, rightNode string, rightFields []domain.Field) []domain.Field {
	lefts := tagFields(leftFields, leftNode)
	rights := tagFields(rightFields, rightNode)
	if kind == domain.JoinRight {
		lefts = suffixCollisions(lefts, rights)
	} else {
		rights = suffixCollisions(rights, lefts)
	}
	return append(lefts, rights...)
}

// rekeyShared gives secondary-side fields whose identity also appears on the
// primary side a key owned by the join operator. Both sides then stay
// distinct from pass to pass. Sensitivity flags follow the new key.
func rekeyShared(in Input, kind domain.JoinKind, combined []domain.Field, leftCount int) []domain.Field {
	primary, secondary := combined[:leftCount], combined[leftCount:]
	if kind == domain.JoinRight {
		primary, secondary = secondary, primary
	}
	seen := make(map[domain.FieldKey]bool, len(primary))
	for _, field := range primary {
		seen[field.Key()] = true
	}
	for i, field := range secondary {
		if !seen[field.Key()] {
			continue
		}
		rekeyed := field
		rekeyed.SourceID = in.Operator.ID
		if in.Registry != nil && in.Registry.IsSensitive(field.Key()) {
			in.Registry.MarkSensitive([]domain.FieldKey{rekeyed.Key()})
		}
		secondary[i] = rekeyed
	}
	return combined
}

func tagFields(fields []domain.Field, nodeID string) []domain.Field {
	tagged := make([]domain.Field, 0, len(fields))
	for _, field := range fields {
		tagged = append(tagged, field.WithSourceNode(nodeID))
	}
	return tagged
}

func suffixCollisions(secondary, primary []domain.Field) []domain.Field {
	taken := make(map[string]bool, len(primary)+len(secondary))
	for _, field := range primary {
		taken[field.Alias] = true
	}
	for _, field := range secondary {
		taken[field.Alias] = true
	}
	used := make(map[string]bool, len(primary))
	for _, field := range primary {
		used[field.Alias] = true
	}
	renamed := make([]domain.Field, 0, len(secondary))
	for _, field := range secondary {
		if used[field.Alias] {
			alias := field.Alias
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s_%d", field.Alias, n)
				if !taken[candidate] {
					alias = candidate
					break
				}
			}
			taken[alias] = true
			field = field.WithAlias(alias)
		}
		renamed = append(renamed, field)
	}
	return renamed
}
