package domain

import (
	"fmt"

	"github.com/rpattn/dataflow/internal/xjson"
)

// OperatorKind identifies the transformation an operator performs
type OperatorKind string

const (
	OperatorSource      OperatorKind = "source"
	OperatorSelect      OperatorKind = "select"
	OperatorJoin        OperatorKind = "join"
	OperatorIndicator   OperatorKind = "indicator"
	OperatorWhere       OperatorKind = "where"
	OperatorMerge       OperatorKind = "merge"
	OperatorDistinct    OperatorKind = "distinct"
	OperatorCompare     OperatorKind = "compare"
	OperatorOutputView  OperatorKind = "output_view"
	OperatorLogicalView OperatorKind = "logical_view"
)

// AllOperatorKinds lists every kind understood by the engine.
var AllOperatorKinds = []OperatorKind{
	OperatorSource, OperatorSelect, OperatorJoin, OperatorIndicator, OperatorWhere,
	OperatorMerge, OperatorDistinct, OperatorCompare, OperatorOutputView, OperatorLogicalView,
}

// MultiInput reports whether the kind consumes several upstream nodes at once.
func (k OperatorKind) MultiInput() bool {
	return k == OperatorJoin || k == OperatorMerge || k == OperatorCompare
}

// IsSink reports whether the kind materializes an output table.
func (k OperatorKind) IsSink() bool {
	return k == OperatorOutputView || k == OperatorLogicalView
}

// Config is the user-authored configuration of an operator. Each kind has
// exactly one concrete implementation.
type Config interface {
	Kind() OperatorKind
}

// SourceConfig references an external table or view.
type SourceConfig struct {
	ReferenceID string `json:"referenceId"`
}

// SelectConfig is the saved field choice of a select or distinct operator.
// Fields are the selected fields in display order with user aliases.
type SelectConfig struct {
	Distinct bool    `json:"distinct,omitempty"`
	Fields   []Field `json:"fields"`
}

type JoinKind string

const (
	JoinLeft      JoinKind = "left"
	JoinRight     JoinKind = "right"
	JoinInner     JoinKind = "inner"
	JoinFullOuter JoinKind = "full_outer"
)

// Valid reports whether the join kind is known.
func (k JoinKind) Valid() bool {
	switch k {
	case JoinLeft, JoinRight, JoinInner, JoinFullOuter:
		return true
	}
	return false
}

// JoinKey binds a key field to the node supplying it.
type JoinKey struct {
	NodeID string   `json:"nodeId"`
	Field  FieldRef `json:"field"`
}

// JoinConfig describes a two-sided join.
type JoinConfig struct {
	Type   JoinKind `json:"kind"`
	Left   JoinKey  `json:"left"`
	Right  JoinKey  `json:"right"`
	Fields []Field  `json:"fields,omitempty"`
}

type AggregateFunc string

const (
	AggregateSum           AggregateFunc = "sum"
	AggregateAvg           AggregateFunc = "avg"
	AggregateMax           AggregateFunc = "max"
	AggregateMin           AggregateFunc = "min"
	AggregateCount         AggregateFunc = "count"
	AggregateCountDistinct AggregateFunc = "count_distinct"
)

type BucketFormat string

const (
	BucketNone    BucketFormat = ""
	BucketYear    BucketFormat = "year"
	BucketQuarter BucketFormat = "quarter"
	BucketMonth   BucketFormat = "month"
	BucketWeek    BucketFormat = "week"
	BucketDay     BucketFormat = "day"
	BucketHour    BucketFormat = "hour"
	BucketMinute  BucketFormat = "minute"
)

// GroupField is one grouping dimension of an indicator.
type GroupField struct {
	Field  FieldRef     `json:"field"`
	Format BucketFormat `json:"format,omitempty"`
}

// IndicatorConfig describes an aggregation.
type IndicatorConfig struct {
	Measure      FieldRef      `json:"measure"`
	Aggregate    AggregateFunc `json:"aggregate"`
	MeasureAlias string        `json:"measureAlias,omitempty"`
	GroupBy      []GroupField  `json:"groupBy,omitempty"`
}

type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
)

type CompareOp string

const (
	OpEq          CompareOp = "eq"
	OpNe          CompareOp = "ne"
	OpGt          CompareOp = "gt"
	OpGe          CompareOp = "ge"
	OpLt          CompareOp = "lt"
	OpLe          CompareOp = "le"
	OpBetween     CompareOp = "between"
	OpIn          CompareOp = "in"
	OpNotIn       CompareOp = "not_in"
	OpContains    CompareOp = "contains"
	OpNotContains CompareOp = "not_contains"
	OpStartsWith  CompareOp = "starts_with"
	OpEndsWith    CompareOp = "ends_with"
	OpIsNull      CompareOp = "is_null"
	OpNotNull     CompareOp = "not_null"
)

// Predicate compares one field against literal values.
type Predicate struct {
	Field    FieldRef  `json:"field"`
	Operator CompareOp `json:"operator"`
	Values   []string  `json:"values,omitempty"`
}

// PredicateGroup combines predicates with a single logic operator.
type PredicateGroup struct {
	Logic      LogicOp     `json:"logic"`
	Predicates []Predicate `json:"predicates"`
}

// WhereConfig combines predicate groups with a single logic operator.
type WhereConfig struct {
	Logic  LogicOp          `json:"logic"`
	Groups []PredicateGroup `json:"groups"`
}

// Predicates returns every predicate across all groups in order.
func (c WhereConfig) Predicates() []Predicate {
	var all []Predicate
	for _, group := range c.Groups {
		all = append(all, group.Predicates...)
	}
	return all
}

// MergeBranch is the ordered column list taken from one union input.
type MergeBranch struct {
	NodeID string  `json:"nodeId"`
	Fields []Field `json:"fields"`
}

// MergeConfig describes a union. The first branch defines the output shape.
type MergeConfig struct {
	Branches []MergeBranch `json:"branches"`
}

// CompareBranch declares the key and compared columns of one input.
type CompareBranch struct {
	NodeID string     `json:"nodeId"`
	Key    FieldRef   `json:"key"`
	Fields []FieldRef `json:"fields,omitempty"`
}

// CompareConfig describes a row comparison against a benchmark input.
type CompareConfig struct {
	Benchmark string          `json:"benchmark"`
	Branches  []CompareBranch `json:"branches"`
}

// Branch returns the declared branch for a node.
func (c CompareConfig) Branch(nodeID string) (CompareBranch, bool) {
	for _, branch := range c.Branches {
		if branch.NodeID == nodeID {
			return branch, true
		}
	}
	return CompareBranch{}, false
}

// SinkField is one output column of a sink with its technical name.
type SinkField struct {
	ID         string `json:"id"`
	SourceID   string `json:"sourceId"`
	NameEn     string `json:"name_en"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// Key returns the identity of the upstream field the column maps.
func (f SinkField) Key() FieldKey {
	return FieldKey{ID: f.ID, SourceID: f.SourceID}
}

// SinkConfig describes a materialized output table or logical view.
type SinkConfig struct {
	Logical   bool        `json:"logical,omitempty"`
	TableName string      `json:"tableName"`
	Fields    []SinkField `json:"fields"`
}

func (SourceConfig) Kind() OperatorKind    { return OperatorSource }
func (JoinConfig) Kind() OperatorKind      { return OperatorJoin }
func (IndicatorConfig) Kind() OperatorKind { return OperatorIndicator }
func (WhereConfig) Kind() OperatorKind     { return OperatorWhere }
func (MergeConfig) Kind() OperatorKind     { return OperatorMerge }
func (CompareConfig) Kind() OperatorKind   { return OperatorCompare }

func (c SelectConfig) Kind() OperatorKind {
	if c.Distinct {
		return OperatorDistinct
	}
	return OperatorSelect
}

func (c SinkConfig) Kind() OperatorKind {
	if c.Logical {
		return OperatorLogicalView
	}
	return OperatorOutputView
}

// EmptyConfig returns the zero configuration for a kind.
func EmptyConfig(kind OperatorKind) (Config, error) {
	switch kind {
	case OperatorSource:
		return SourceConfig{}, nil
	case OperatorSelect:
		return SelectConfig{}, nil
	case OperatorDistinct:
		return SelectConfig{Distinct: true}, nil
	case OperatorJoin:
		return JoinConfig{Type: JoinInner}, nil
	case OperatorIndicator:
		return IndicatorConfig{}, nil
	case OperatorWhere:
		return WhereConfig{Logic: LogicAnd}, nil
	case OperatorMerge:
		return MergeConfig{}, nil
	case OperatorCompare:
		return CompareConfig{}, nil
	case OperatorOutputView:
		return SinkConfig{}, nil
	case OperatorLogicalView:
		return SinkConfig{Logical: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Operator is one step of a node's chain. Config is authored by the user;
// OutputFields, Error and FieldErrors are derived and overwritten by every pass.
type Operator struct {
	ID           string         `json:"id"`
	Kind         OperatorKind   `json:"type"`
	Config       Config         `json:"config"`
	OutputFields []Field        `json:"output_fields"`
	Error        *OperatorError `json:"errorMsg,omitempty"`
	FieldErrors  []FieldError   `json:"fieldErrors,omitempty"`
}

// NewOperator creates an operator with the empty configuration for its kind.
func NewOperator(id string, kind OperatorKind) (Operator, error) {
	cfg, err := EmptyConfig(kind)
	if err != nil {
		return Operator{}, err
	}
	return Operator{ID: id, Kind: kind, Config: cfg, OutputFields: []Field{}}, nil
}

// Failed reports whether the operator carries an error.
func (o Operator) Failed() bool {
	return o.Error != nil
}

// WithConfig returns a copy of the operator with a new configuration
func (o Operator) WithConfig(cfg Config) Operator {
	o.Config = cfg
	return o
}

// Clone returns a deep copy of the derived state. Config values are treated
// as immutable and shared.
func (o Operator) Clone() Operator {
	o.OutputFields = CloneFields(o.OutputFields)
	if o.Error != nil {
		errCopy := *o.Error
		o.Error = &errCopy
	}
	if len(o.FieldErrors) > 0 {
		o.FieldErrors = append([]FieldError(nil), o.FieldErrors...)
	}
	return o
}

type operatorJSON struct {
	ID           string           `json:"id"`
	Kind         OperatorKind     `json:"type"`
	Config       xjson.RawMessage `json:"config,omitempty"`
	OutputFields []Field          `json:"output_fields"`
	Error        *OperatorError   `json:"errorMsg,omitempty"`
	FieldErrors  []FieldError     `json:"fieldErrors,omitempty"`
}

func (o Operator) MarshalJSON() ([]byte, error) {
	cfg := o.Config
	if cfg == nil {
		empty, err := EmptyConfig(o.Kind)
		if err != nil {
			return nil, err
		}
		cfg = empty
	}
	raw, err := xjson.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s config: %w", o.Kind, err)
	}
	outputs := o.OutputFields
	if outputs == nil {
		outputs = []Field{}
	}
	return xjson.Marshal(operatorJSON{
		ID:           o.ID,
		Kind:         o.Kind,
		Config:       raw,
		OutputFields: outputs,
		Error:        o.Error,
		FieldErrors:  o.FieldErrors,
	})
}

func (o *Operator) UnmarshalJSON(data []byte) error {
	var wire operatorJSON
	if err := xjson.Unmarshal(data, &wire); err != nil {
		return err
	}
	cfg, err := decodeConfig(wire.Kind, wire.Config)
	if err != nil {
		return fmt.Errorf("operator %s: %w", wire.ID, err)
	}
	*o = Operator{
		ID:           wire.ID,
		Kind:         wire.Kind,
		Config:       cfg,
		OutputFields: wire.OutputFields,
		Error:        wire.Error,
		FieldErrors:  wire.FieldErrors,
	}
	if o.OutputFields == nil {
		o.OutputFields = []Field{}
	}
	return nil
}

func decodeConfig(kind OperatorKind, raw xjson.RawMessage) (Config, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	switch kind {
	case OperatorSource:
		return decodeInto(raw, empty, SourceConfig{})
	case OperatorSelect:
		return decodeInto(raw, empty, SelectConfig{})
	case OperatorDistinct:
		cfg, err := decodeInto(raw, empty, SelectConfig{})
		cfg.Distinct = true
		return cfg, err
	case OperatorJoin:
		return decodeInto(raw, empty, JoinConfig{Type: JoinInner})
	case OperatorIndicator:
		return decodeInto(raw, empty, IndicatorConfig{})
	case OperatorWhere:
		return decodeInto(raw, empty, WhereConfig{Logic: LogicAnd})
	case OperatorMerge:
		return decodeInto(raw, empty, MergeConfig{})
	case OperatorCompare:
		return decodeInto(raw, empty, CompareConfig{})
	case OperatorOutputView:
		cfg, err := decodeInto(raw, empty, SinkConfig{})
		cfg.Logical = false
		return cfg, err
	case OperatorLogicalView:
		cfg, err := decodeInto(raw, empty, SinkConfig{})
		cfg.Logical = true
		return cfg, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodeInto[T Config](raw xjson.RawMessage, empty bool, initial T) (T, error) {
	if empty {
		return initial, nil
	}
	cfg := initial
	if err := xjson.Unmarshal(raw, &cfg); err != nil {
		return initial, fmt.Errorf("decode %s config: %w", initial.Kind(), err)
	}
	return cfg, nil
}
