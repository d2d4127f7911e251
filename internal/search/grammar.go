// Package search implements the compact filter grammar used to compile
// search-box queries into parameterised SQL fragments against an
// allow-listed field set.
//
//	filter  := term ( (AND|and|<space>) term )*
//	term    := [!|-] field ':' rhs
//	rhs     := orgroup | range | op value | value
//	orgroup := '(' value ( OR value )+ ')'
//	range   := '[' value TO value ']'
//	op      := '>=' | '<=' | '>' | '<'
//	value   := int | float | bool | quoted | bareword
package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldType declares how a field's value is coerced and compiled.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumeric
	FieldBool
	FieldTextLike
)

// FieldDef is one allow-listed field: its filter name, the SQL column it
// compiles to, and its declared type. Integer distinguishes a whole-count
// numeric column (e.g. processor cores) from a decimal one (e.g. a price);
// it is only consulted when Type is FieldNumeric.
type FieldDef struct {
	Name    string
	Column  string
	Type    FieldType
	Integer bool
}

// Schema is the closed allow-list of fields a filter string may reference.
type Schema map[string]FieldDef

// ErrUnknownField is returned at compile time when a term references a field
// absent from the schema.
type ErrUnknownField struct{ Field string }

func (e *ErrUnknownField) Error() string {
	return fmt.Sprintf("search: unknown field %q", e.Field)
}

var (
	// ErrEmptyFilter is returned for a filter string with no terms.
	ErrEmptyFilter = errors.New("search: empty filter")
	// ErrSyntax wraps any grammar violation encountered while parsing.
	ErrSyntax = errors.New("search: syntax error")
	// ErrBadBoolValue is returned when a bool field receives a non-bool token.
	ErrBadBoolValue = errors.New("search: expected true or false")
	// ErrBadNumericValue is returned when a numeric field receives a
	// non-numeric token.
	ErrBadNumericValue = errors.New("search: expected a numeric value")
)

type opKind int

const (
	opEquals opKind = iota
	opNotEquals
	opGT
	opGTE
	opLT
	opLTE
	opOrGroup
	opRange
)

type term struct {
	field    string
	op       opKind
	value    string
	orValues []string
	rangeLo  string
	rangeHi  string
}

// Compiled is a compile result: a SQL fragment with positional `?`
// placeholders and the values to bind to them in order.
type Compiled struct {
	SQL    string
	Values []any
}

// Compile parses and compiles a filter string against schema, returning a
// SQL fragment with one placeholder per emitted value.
func Compile(schema Schema, filter string) (Compiled, error) {
	terms, err := parseTerms(filter)
	if err != nil {
		return Compiled{}, err
	}
	if len(terms) == 0 {
		return Compiled{}, ErrEmptyFilter
	}

	var clauses []string
	var values []any
	for _, t := range terms {
		def, ok := schema[strings.ToLower(t.field)]
		if !ok {
			return Compiled{}, &ErrUnknownField{Field: t.field}
		}
		clause, clauseValues, err := compileTerm(def, t)
		if err != nil {
			return Compiled{}, err
		}
		clauses = append(clauses, clause)
		values = append(values, clauseValues...)
	}

	return Compiled{SQL: strings.Join(clauses, " AND "), Values: values}, nil
}

func compileTerm(def FieldDef, t term) (string, []any, error) {
	switch t.op {
	case opOrGroup:
		placeholders := make([]string, len(t.orValues))
		values := make([]any, len(t.orValues))
		for i, raw := range t.orValues {
			coerced, err := coerce(def, raw)
			if err != nil {
				return "", nil, err
			}
			placeholders[i] = fmt.Sprintf("%s = ?", def.Column)
			values[i] = coerced
		}
		return "(" + strings.Join(placeholders, " OR ") + ")", values, nil

	case opRange:
		lo, err := coerce(def, t.rangeLo)
		if err != nil {
			return "", nil, err
		}
		hi, err := coerce(def, t.rangeHi)
		if err != nil {
			return "", nil, err
		}
		clause := fmt.Sprintf("(%s >= ? AND %s <= ?)", def.Column, def.Column)
		return clause, []any{lo, hi}, nil

	default:
		coerced, err := coerce(def, t.value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s ?", def.Column, sqlOperator(def, t.op)), []any{coerced}, nil
	}
}

func sqlOperator(def FieldDef, op opKind) string {
	switch op {
	case opEquals:
		if def.Type == FieldTextLike {
			return "LIKE"
		}
		return "="
	case opNotEquals:
		if def.Type == FieldTextLike {
			return "NOT LIKE"
		}
		return "!="
	case opGT:
		return ">"
	case opGTE:
		return ">="
	case opLT:
		return "<"
	case opLTE:
		return "<="
	default:
		return "="
	}
}

func coerce(def FieldDef, raw string) (any, error) {
	raw = unquote(raw)
	switch def.Type {
	case FieldBool:
		switch strings.ToLower(raw) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return nil, fmt.Errorf("%w: got %q", ErrBadBoolValue, raw)
		}
	case FieldNumeric:
		if def.Integer {
			i, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: got %q", ErrBadNumericValue, raw)
			}
			return i, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: got %q", ErrBadNumericValue, raw)
		}
		return f, nil
	case FieldTextLike:
		return "%" + raw + "%", nil
	default:
		return raw, nil
	}
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
