package validators

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/metadata"
	"github.com/rpattn/dataflow/internal/policy"
)

// sourceValidator loads the field list of a table or view and records it,
// with its sensitivity flags, in the registry.
type sourceValidator struct {
	policy *policy.Filter
	logger hclog.Logger
}

func (v *sourceValidator) Validate(ctx context.Context, in Input) Result {
	cfg := in.Operator.Config.(domain.SourceConfig)
	if in.Index > 0 {
		return failf(cfg, domain.ErrConfigInvalid, "source must be the first operator of its node")
	}
	if len(in.Branches) > 0 {
		return failf(cfg, domain.ErrTooManyUpstream, "source node cannot have upstream nodes")
	}
	cfg.ReferenceID = strings.TrimSpace(cfg.ReferenceID)
	if cfg.ReferenceID == "" {
		return failf(cfg, domain.ErrConfigInvalid, "no table or view selected")
	}
	if in.Metadata == nil {
		return failf(cfg, domain.ErrConfigInvalid, "metadata service is not configured")
	}

	fetched, err := in.Metadata.FieldList(ctx, cfg.ReferenceID)
	if err != nil {
		if metadata.IsUnavailable(err) {
			return failf(cfg, domain.ErrSourceNotFound, "%v", err)
		}
		return failf(cfg, domain.ErrConfigInvalid, "fetch fields of %s: %v", cfg.ReferenceID, err)
	}

	fields := make([]domain.Field, 0, len(fetched))
	for _, field := range fetched {
		if field.Deleted || field.DataType == domain.DataTypeBinary {
			continue
		}
		if field.SourceID == "" {
			field.SourceID = cfg.ReferenceID
		}
		if field.OriginName == "" {
			field.OriginName = field.Alias
		}
		field.SourceNodeID = in.Node.ID
		fields = append(fields, field)
	}
	if len(fields) == 0 {
		return failf(cfg, domain.ErrConfigInvalid, "%s exposes no usable fields", cfg.ReferenceID)
	}
	if in.Registry != nil {
		v.markSensitive(ctx, in, cfg.ReferenceID)
		in.Registry.AddData(cfg.ReferenceID, fields)
	}
	return succeed(cfg, fields)
}

// markSensitive copies provider flags into the registry. A failing provider
// is only logged; the indicator policy check asks it again and fails closed.
func (v *sourceValidator) markSensitive(ctx context.Context, in Input, referenceID string) {
	keys, err := v.policy.SensitiveFields(ctx, referenceID)
	if err != nil {
		v.logger.Debug("sensitivity flags unavailable", "reference", referenceID, "error", err)
		return
	}
	if len(keys) > 0 {
		in.Registry.MarkSensitive(keys)
	}
}
