// Package reconcile aligns a saved field selection against freshly computed
// upstream fields.
package reconcile

import (
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/rpattn/dataflow/internal/domain"
)

// Entry is one candidate field and whether it is part of the selection.
type Entry struct {
	Field    domain.Field
	Selected bool
}

// Result is the outcome of a reconciliation.
type Result struct {
	All         []Entry
	Selected    []domain.Field
	Conflicting []domain.Field
	// Dropped lists saved fields that no longer exist upstream.
	Dropped []domain.Field
}

// HasConflicts reports whether two selected fields share an alias.
func (r Result) HasConflicts() bool {
	return len(r.Conflicting) > 0
}

// Reconcile keeps saved fields that still exist upstream in saved order,
// appends upstream-only fields unselected and drops saved-only fields.
// With no saved selection every upstream field is selected as-is. Either way
// a key is taken once; later upstream duplicates are ignored.
func Reconcile(upstream, saved []domain.Field) Result {
	if len(saved) == 0 {
		all := make([]Entry, 0, len(upstream))
		selected := make([]domain.Field, 0, len(upstream))
		seen := make(map[domain.FieldKey]bool, len(upstream))
		for _, field := range upstream {
			if seen[field.Key()] {
				continue
			}
			seen[field.Key()] = true
			current := refresh(field, field)
			all = append(all, Entry{Field: current, Selected: true})
			selected = append(selected, current)
		}
		return Result{All: all, Selected: selected, Conflicting: conflicts(selected)}
	}

	byKey := make(map[domain.FieldKey]domain.Field, len(upstream))
	for _, field := range upstream {
		if _, dup := byKey[field.Key()]; !dup {
			byKey[field.Key()] = field
		}
	}

	var result Result
	kept := make(map[domain.FieldKey]bool, len(saved))
	for _, prior := range saved {
		current, ok := byKey[prior.Key()]
		if !ok || kept[prior.Key()] {
			if !ok {
				result.Dropped = append(result.Dropped, prior)
			}
			continue
		}
		kept[prior.Key()] = true
		field := refresh(current, prior)
		result.All = append(result.All, Entry{Field: field, Selected: true})
		result.Selected = append(result.Selected, field)
	}
	for _, field := range upstream {
		if kept[field.Key()] {
			continue
		}
		kept[field.Key()] = true
		result.All = append(result.All, Entry{Field: refresh(field, field), Selected: false})
	}
	if result.Selected == nil {
		result.Selected = []domain.Field{}
	}
	result.Conflicting = conflicts(result.Selected)
	return result
}

// refresh builds the output field from its current upstream version, keeping
// a user rename from the prior version.
func refresh(current, prior domain.Field) domain.Field {
	out := current
	out.OriginName = current.Alias
	if prior.Renamed() {
		out.Alias = prior.Alias
	}
	return out
}

func conflicts(selected []domain.Field) []domain.Field {
	counts := make(map[string]int, len(selected))
	for _, field := range selected {
		counts[field.Alias]++
	}
	var conflicting []domain.Field
	for _, field := range selected {
		if counts[field.Alias] > 1 {
			conflicting = append(conflicting, field)
		}
	}
	return conflicting
}

// Suggest returns the candidate closest to name by edit distance. It is used
// to hint at the intended field when a saved reference no longer resolves.
func Suggest(name string, candidates []string) (string, bool) {
	if name == "" || len(candidates) == 0 {
		return "", false
	}
	best := ""
	bestDistance := -1
	for _, candidate := range candidates {
		distance := levenshtein.DistanceForStrings([]rune(name), []rune(candidate), levenshtein.DefaultOptions)
		if bestDistance < 0 || distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	longest := len([]rune(name))
	if l := len([]rune(best)); l > longest {
		longest = l
	}
	if bestDistance*2 > longest {
		return "", false
	}
	return best, true
}
