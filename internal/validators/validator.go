// Package validators recomputes the output fields of a single operator from
// its upstream fields and persisted configuration.
//
// Validators never return Go errors. Every failure becomes an
// *domain.OperatorError on the Result, and a failed Result carries no fields.
package validators

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/graph"
	"github.com/rpattn/dataflow/internal/metadata"
	"github.com/rpattn/dataflow/internal/policy"
	"github.com/rpattn/dataflow/internal/registry"
)

// Branch is the output of one upstream node.
type Branch struct {
	NodeID string
	Fields []domain.Field
}

// Env carries the per-pass collaborators shared by all validators.
type Env struct {
	Graph    *graph.Index
	Registry *registry.Registry
	Metadata metadata.FieldLister
}

// Input is everything a validator may look at.
type Input struct {
	Env
	Node     domain.Node
	Index    int
	Operator domain.Operator
	// Previous is the output of the operator before this one in the chain.
	Previous []domain.Field
	// Branches are the outputs of the node's upstream nodes in src order.
	// They are only consulted by the first operator of a chain.
	Branches []Branch
}

// Result is the derived state of an operator.
type Result struct {
	Fields      []domain.Field
	Config      domain.Config
	Err         *domain.OperatorError
	FieldErrors []domain.FieldError
}

// Validator recomputes one operator kind.
type Validator interface {
	Validate(ctx context.Context, in Input) Result
}

// Func adapts a plain function to the Validator interface.
type Func func(ctx context.Context, in Input) Result

func (f Func) Validate(ctx context.Context, in Input) Result { return f(ctx, in) }

func fail(cfg domain.Config, err *domain.OperatorError) Result {
	return Result{Fields: []domain.Field{}, Config: cfg, Err: err}
}

func failf(cfg domain.Config, kind domain.ErrorKind, format string, args ...any) Result {
	return fail(cfg, domain.NewOperatorError(kind, format, args...))
}

func succeed(cfg domain.Config, fields []domain.Field) Result {
	return Result{Fields: fields, Config: cfg}
}

// Set dispatches operators to the validator of their kind
type Set struct {
	validators map[domain.OperatorKind]Validator
	logger     hclog.Logger
}

// Deps are the long-lived collaborators of the validators.
type Deps struct {
	Policy *policy.Filter
	Logger hclog.Logger
}

// NewSet registers the validator of every operator kind.
func NewSet(deps Deps) *Set {
	if deps.Policy == nil {
		deps.Policy = policy.NewFilter(nil)
	}
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	selects := Func(validateSelect)
	sinks := Func(validateSink)
	return &Set{
		logger: deps.Logger,
		validators: map[domain.OperatorKind]Validator{
			domain.OperatorSource:      &sourceValidator{policy: deps.Policy, logger: deps.Logger},
			domain.OperatorSelect:      selects,
			domain.OperatorDistinct:    selects,
			domain.OperatorJoin:        Func(validateJoin),
			domain.OperatorIndicator:   &indicatorValidator{policy: deps.Policy},
			domain.OperatorWhere:       Func(validateWhere),
			domain.OperatorMerge:       Func(validateMerge),
			domain.OperatorCompare:     Func(validateCompare),
			domain.OperatorOutputView:  sinks,
			domain.OperatorLogicalView: sinks,
		},
	}
}

// Register replaces the validator of a kind.
func (s *Set) Register(kind domain.OperatorKind, v Validator) {
	s.validators[kind] = v
}

// Validate runs the validator registered for the operator's kind and enforces
// the result invariants: an error always clears the fields, and a success
// always has fields.
func (s *Set) Validate(ctx context.Context, in Input) (result Result) {
	cfg := in.Operator.Config
	if cfg == nil {
		empty, err := domain.EmptyConfig(in.Operator.Kind)
		if err != nil {
			return failf(nil, domain.ErrConfigInvalid, "%v", err)
		}
		cfg = empty
		in.Operator.Config = cfg
	}
	if cfg.Kind() != in.Operator.Kind {
		return failf(cfg, domain.ErrConfigInvalid, "configuration of kind %s attached to %s operator", cfg.Kind(), in.Operator.Kind)
	}
	v, found := s.validators[in.Operator.Kind]
	if !found {
		return failf(cfg, domain.ErrConfigInvalid, "no validator for operator kind %s", in.Operator.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("validator panicked", "operator", in.Operator.ID, "kind", in.Operator.Kind, "panic", r)
			result = failf(cfg, domain.ErrConfigInvalid, "internal validation failure: %v", r)
		}
	}()

	result = v.Validate(ctx, in)
	if result.Config == nil {
		result.Config = cfg
	}
	if result.Err != nil {
		result.Fields = []domain.Field{}
		return result
	}
	if len(result.Fields) == 0 {
		return failf(result.Config, domain.ErrConfigInvalid, "operator produces no fields")
	}
	return result
}

// describeMissing formats a "no longer resolves" message with a suggestion
// drawn from the candidate fields.
func describeMissing(what string, ref domain.FieldRef, candidates []domain.Field) string {
	name := ref.Alias
	if name == "" {
		name = ref.ID
	}
	msg := fmt.Sprintf("%s %q no longer resolves upstream", what, name)
	if suggestion, found := suggest(name, candidates); found {
		msg += fmt.Sprintf("; did you mean %q?", suggestion)
	}
	return msg
}
