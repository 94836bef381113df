// Package query compiles filter expressions into ClickHouse SQL predicates.
package query

import (
	"regexp"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// FieldType represents the data type of a queryable field.
type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeTime
	FieldTypeMap
)

// FieldDef defines a queryable field with its allowed operators.
type FieldDef struct {
	Name      string    // expr field name
	Column    string    // ClickHouse column name
	Type      FieldType // data type
	Operators []string  // allowed operators
}

var defaultOperators = map[FieldType][]string{
	FieldTypeString: {"==", "!=", "in", "contains", "startsWith", "endsWith", "matches"},
	FieldTypeInt:    {"==", "!=", ">=", "<=", ">", "<", "in"},
	FieldTypeFloat:  {"==", "!=", ">=", "<=", ">", "<"},
	FieldTypeTime:   {">=", "<=", ">", "<"},
	FieldTypeMap:    {"==", "!=", "in", "contains"},
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to inline as a column name.
func ValidIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// FieldsFromSource builds the field set of a telemetry source. The timestamp
// column is always present.
func FieldsFromSource(src *models.Source) map[string]FieldDef {
	fields := make(map[string]FieldDef, len(src.Fields)+1)
	if src.TimestampColumn != "" {
		fields[src.TimestampColumn] = newField(src.TimestampColumn, src.TimestampColumn, FieldTypeTime)
	}
	for _, f := range src.Fields {
		column := f.Column
		if column == "" {
			column = f.Name
		}
		if !ValidIdentifier(f.Name) || !ValidIdentifier(column) {
			continue
		}
		fields[f.Name] = newField(f.Name, column, fieldType(f.Kind))
	}
	return fields
}

func newField(name, column string, t FieldType) FieldDef {
	return FieldDef{Name: name, Column: column, Type: t, Operators: defaultOperators[t]}
}

func fieldType(kind models.FieldKind) FieldType {
	switch kind {
	case models.FieldKindInt:
		return FieldTypeInt
	case models.FieldKindFloat:
		return FieldTypeFloat
	case models.FieldKindTime:
		return FieldTypeTime
	case models.FieldKindMap:
		return FieldTypeMap
	default:
		return FieldTypeString
	}
}

// IsOperatorAllowed checks if an operator is valid for a field.
func (f FieldDef) IsOperatorAllowed(op string) bool {
	for _, allowed := range f.Operators {
		if allowed == op {
			return true
		}
	}
	return false
}

// AllowedFunctions lists functions allowed in expressions.
var AllowedFunctions = map[string]bool{
	"now":      true,
	"duration": true,
}
