package validators

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/dataflow/internal/domain"
)

// validateSink handles output views and logical views. Naming problems are
// reported per field and do not clear the output.
func validateSink(_ context.Context, in Input) Result {
	cfg := in.Operator.Config.(domain.SinkConfig)

	if in.Index == 0 && len(in.Branches) == 0 {
		if len(cfg.Fields) > 0 {
			return failf(cfg, domain.ErrNodeChange, "the upstream node was removed; %d configured fields no longer resolve", len(cfg.Fields))
		}
		return failf(cfg, domain.ErrMissingUpstream, "node has no upstream node")
	}
	upstream, opErr := singleUpstream(in)
	if opErr != nil {
		return fail(cfg, opErr)
	}

	if len(cfg.Fields) == 0 {
		cfg.Fields = make([]domain.SinkField, 0, len(upstream))
		for _, field := range upstream {
			cfg.Fields = append(cfg.Fields, domain.SinkField{
				ID:         field.ID,
				SourceID:   field.SourceID,
				NameEn:     defaultTechnicalName(field),
				PrimaryKey: field.PrimaryKey,
			})
		}
	}

	configured := make(map[domain.FieldKey]bool, len(cfg.Fields))
	for _, sf := range cfg.Fields {
		configured[sf.Key()] = true
		if _, found := domain.FindField(upstream, sf.Key()); !found {
			ref := domain.FieldRef{ID: sf.ID, SourceID: sf.SourceID, Alias: sf.NameEn}
			return failf(cfg, domain.ErrNodeChange, "%s", describeMissing("output field", ref, upstream))
		}
	}
	for _, field := range upstream {
		if !configured[field.Key()] {
			return failf(cfg, domain.ErrNodeChange, "upstream field %q is not mapped to an output column yet", field.Alias)
		}
	}

	cfg.TableName = strings.TrimSpace(cfg.TableName)
	if cfg.TableName == "" {
		return failf(cfg, domain.ErrConfigInvalid, "no table name given")
	}
	if !ValidTechnicalName(cfg.TableName) {
		return failf(cfg, domain.ErrConfigInvalid, "table name %q must be lowercase letters, digits and underscores and must not start with a digit", cfg.TableName)
	}

	output := make([]domain.Field, 0, len(cfg.Fields))
	for _, sf := range cfg.Fields {
		field, _ := domain.FindField(upstream, sf.Key())
		field.NameEn = sf.NameEn
		field.PrimaryKey = sf.PrimaryKey
		output = append(output, field)
	}
	return Result{Fields: output, Config: cfg, FieldErrors: sinkFieldErrors(cfg.Fields)}
}

func sinkFieldErrors(fields []domain.SinkField) []domain.FieldError {
	var errs []domain.FieldError
	names := make(map[string]int, len(fields))
	for _, sf := range fields {
		names[sf.NameEn]++
	}
	primaryKeys := 0
	for _, sf := range fields {
		if sf.PrimaryKey {
			primaryKeys++
		}
	}
	for _, sf := range fields {
		var problems []string
		if !ValidTechnicalName(sf.NameEn) {
			problems = append(problems, fmt.Sprintf("technical name %q must be lowercase letters, digits and underscores and must not start with a digit", sf.NameEn))
		}
		if names[sf.NameEn] > 1 {
			problems = append(problems, fmt.Sprintf("technical name %q is used by more than one field", sf.NameEn))
		}
		if sf.PrimaryKey && primaryKeys > 1 {
			problems = append(problems, "only one field may be the primary key")
		}
		if len(problems) > 0 {
			errs = append(errs, domain.FieldError{FieldID: sf.ID, SourceID: sf.SourceID, Message: strings.Join(problems, "; ")})
		}
	}
	return errs
}

func defaultTechnicalName(field domain.Field) string {
	name := strings.ToLower(strings.TrimSpace(field.NameEn))
	if name == "" {
		name = strings.ToLower(field.ID)
	}
	return name
}
