package domain

import "strings"

// DataType represents the column type carried by a pipeline field
type DataType string

const (
	DataTypeChar     DataType = "char"
	DataTypeNumber   DataType = "number"
	DataTypeInt      DataType = "int"
	DataTypeBoolean  DataType = "boolean"
	DataTypeDate     DataType = "date"
	DataTypeDatetime DataType = "datetime"
	DataTypeTime     DataType = "time"
	DataTypeBinary   DataType = "binary"
)

// ParseDataType normalizes a loosely spelled type name. Unknown names map to char.
func ParseDataType(raw string) DataType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "number", "numeric", "decimal", "float", "double", "real":
		return DataTypeNumber
	case "int", "integer", "bigint", "smallint", "long":
		return DataTypeInt
	case "bool", "boolean":
		return DataTypeBoolean
	case "date":
		return DataTypeDate
	case "datetime", "timestamp", "timestamptz":
		return DataTypeDatetime
	case "time":
		return DataTypeTime
	case "binary", "blob", "bytea", "varbinary":
		return DataTypeBinary
	default:
		return DataTypeChar
	}
}

// IsNumeric reports whether values of the type support arithmetic aggregates.
func (t DataType) IsNumeric() bool {
	return t == DataTypeNumber || t == DataTypeInt
}

// IsTemporal reports whether the type carries a calendar or clock value.
// Temporal fields must be bucketed when used as a grouping key.
func (t DataType) IsTemporal() bool {
	return t == DataTypeDate || t == DataTypeDatetime || t == DataTypeTime
}

// IsTimeOfDay reports whether the type is a bare clock value. Such fields
// cannot be join keys and cannot be filtered.
func (t DataType) IsTimeOfDay() bool {
	return t == DataTypeTime
}

// FieldKey is the identity of a field. Alias and technical name may change
// without changing the key.
type FieldKey struct {
	ID       string `json:"id"`
	SourceID string `json:"sourceId"`
}

func (k FieldKey) String() string {
	return k.SourceID + "/" + k.ID
}

// IsZero reports whether the key references nothing.
func (k FieldKey) IsZero() bool {
	return k.ID == "" && k.SourceID == ""
}

// Field represents a named, typed column flowing through the pipeline
type Field struct {
	ID           string   `json:"id"`
	SourceID     string   `json:"sourceId"`
	Alias        string   `json:"alias"`
	NameEn       string   `json:"name_en"`
	DataType     DataType `json:"data_type"`
	OriginName   string   `json:"originName"`
	PrimaryKey   bool     `json:"primary_key,omitempty"`
	SourceNodeID string   `json:"source_node_id,omitempty"`
	Deleted      bool     `json:"deleted,omitempty"`
}

// Key returns the identity of the field.
func (f Field) Key() FieldKey {
	return FieldKey{ID: f.ID, SourceID: f.SourceID}
}

// SameField reports whether two fields share an identity regardless of alias history.
func SameField(a, b Field) bool {
	return a.Key() == b.Key()
}

// Renamed reports whether the alias was changed away from the origin name.
func (f Field) Renamed() bool {
	return f.OriginName != "" && f.Alias != f.OriginName
}

// WithAlias returns a copy of the field carrying the given alias
func (f Field) WithAlias(alias string) Field {
	f.Alias = alias
	return f
}

// WithType returns a copy of the field carrying the given data type
func (f Field) WithType(dataType DataType) Field {
	f.DataType = dataType
	return f
}

// WithSourceNode returns a copy of the field tagged with the producing node
func (f Field) WithSourceNode(nodeID string) Field {
	f.SourceNodeID = nodeID
	return f
}

// FindField looks a field up by identity.
func FindField(fields []Field, key FieldKey) (Field, bool) {
	for _, field := range fields {
		if field.Key() == key {
			return field, true
		}
	}
	return Field{}, false
}

// FindFieldByID looks a field up by its ID alone. It is used where the caller
// only persisted the ID, such as sink configurations.
func FindFieldByID(fields []Field, id string) (Field, bool) {
	for _, field := range fields {
		if field.ID == id {
			return field, true
		}
	}
	return Field{}, false
}

// CloneFields returns a copy of the slice that never aliases the input.
func CloneFields(fields []Field) []Field {
	if len(fields) == 0 {
		return []Field{}
	}
	clone := make([]Field, len(fields))
	copy(clone, fields)
	return clone
}

// Aliases returns the aliases of the fields in order.
func Aliases(fields []Field) []string {
	aliases := make([]string, 0, len(fields))
	for _, field := range fields {
		aliases = append(aliases, field.Alias)
	}
	return aliases
}

// FieldRef is a persisted reference to an upstream field together with the
// type it had when the reference was saved.
type FieldRef struct {
	ID       string   `json:"id"`
	SourceID string   `json:"sourceId"`
	Alias    string   `json:"alias,omitempty"`
	DataType DataType `json:"data_type,omitempty"`
}

// Key returns the identity the reference points at.
func (r FieldRef) Key() FieldKey {
	return FieldKey{ID: r.ID, SourceID: r.SourceID}
}

// IsZero reports whether the reference was never set.
func (r FieldRef) IsZero() bool {
	return r.ID == "" && r.SourceID == ""
}

// RefTo builds a reference to the given field.
func RefTo(f Field) FieldRef {
	return FieldRef{ID: f.ID, SourceID: f.SourceID, Alias: f.Alias, DataType: f.DataType}
}
