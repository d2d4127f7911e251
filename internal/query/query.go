// Package query implements the JSON-document matcher described by spec
// §4.11: a recursive, SQL-independent predicate evaluator with comparison,
// fuzzy, and containment operators, case-insensitive key lookup, dot-path
// descent, array traversal, and byte-size unit coercion. It is the in-memory
// counterpart to package search's SQL compiler and shares no code with it —
// the two pipelines serve different callers (the relational read-model vs.
// ad hoc document trees such as cached offering listings).
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xrash/smetrics"
)

// Op is one of the comparison/containment operators a Condition may use.
type Op string

const (
	OpEq         Op = "=="
	OpNeq        Op = "!="
	OpLike       Op = "like"
	OpNotLike    Op = "notlike"
	OpGT         Op = ">"
	OpLT         Op = "<"
	OpGTE        Op = ">="
	OpLTE        Op = "<="
	OpRegex      Op = "regex"
	OpContains   Op = "contains"
	OpStartswith Op = "startswith"
	OpEndswith   Op = "endswith"
)

// Condition is a single leaf predicate: descend Path from the document root
// (dot-separated, case-insensitive segment matching, transparently
// traversing arrays) and compare the located value(s) against Value using Op.
type Condition struct {
	Path  string
	Op    Op
	Value any
}

// DefaultFuzzyThreshold is the Jaro-Winkler similarity cutoff OpLike applies
// when both sides are strings that do not parse as numbers or sizes.
const DefaultFuzzyThreshold = 0.9

// Matcher evaluates Conditions against decoded JSON documents
// (map[string]interface{} / []interface{} / scalars, as produced by
// encoding/json.Unmarshal into `any`).
type Matcher struct {
	// FuzzyThreshold overrides DefaultFuzzyThreshold when non-zero.
	FuzzyThreshold float64
}

// New returns a Matcher using DefaultFuzzyThreshold.
func New() *Matcher {
	return &Matcher{FuzzyThreshold: DefaultFuzzyThreshold}
}

func (m *Matcher) threshold() float64 {
	if m.FuzzyThreshold > 0 {
		return m.FuzzyThreshold
	}
	return DefaultFuzzyThreshold
}

// Match reports whether doc satisfies every condition in the list (implicit
// AND across conditions, mirroring the behaviour callers compose filter
// expressions with).
func (m *Matcher) Match(doc any, conds ...Condition) bool {
	for _, c := range conds {
		if !m.matchOne(doc, c) {
			return false
		}
	}
	return true
}

func (m *Matcher) matchOne(doc any, c Condition) bool {
	values := collect(doc, splitPath(c.Path))
	for _, v := range values {
		if m.compare(v, c.Op, c.Value) {
			return true
		}
	}
	return false
}

// ParentKeyMatches returns, for every subtree of doc matching cond, the value
// found at parentKey within that subtree's nearest enclosing object — e.g.
// collecting "instance_types.id" for every instance_type whose "vcpus"
// condition matches, so a caller can report "which offerings matched" without
// re-walking the tree itself.
func (m *Matcher) ParentKeyMatches(doc any, cond Condition, parentKey string) []any {
	var out []any
	walkParents(doc, splitPath(cond.Path), splitPath(parentKey), m, cond, &out)
	return out
}

func walkParents(node any, condPath, parentPath []string, m *Matcher, cond Condition, out *[]any) {
	switch v := node.(type) {
	case map[string]interface{}:
		if vals := collect(v, condPath); anyMatch(m, vals, cond) {
			if pv := collect(v, parentPath); len(pv) > 0 {
				*out = append(*out, pv[0])
			}
		}
		for _, child := range v {
			walkParents(child, condPath, parentPath, m, cond, out)
		}
	case []interface{}:
		for _, child := range v {
			walkParents(child, condPath, parentPath, m, cond, out)
		}
	}
}

func anyMatch(m *Matcher, values []any, cond Condition) bool {
	for _, v := range values {
		if m.compare(v, cond.Op, cond.Value) {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// collect descends path from node, case-insensitively matching object keys
// and transparently flattening through arrays, returning every leaf value
// reached.
func collect(node any, path []string) []any {
	if len(path) == 0 {
		return []any{node}
	}
	segment, rest := path[0], path[1:]

	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			if strings.EqualFold(k, segment) {
				return collect(val, rest)
			}
		}
		return nil
	case []interface{}:
		var out []any
		for _, item := range v {
			out = append(out, collect(item, path)...)
		}
		return out
	default:
		return nil
	}
}

func (m *Matcher) compare(actual any, op Op, expected any) bool {
	switch op {
	case OpEq:
		return looseEqual(actual, expected)
	case OpNeq:
		return !looseEqual(actual, expected)
	case OpLike:
		return m.fuzzyLike(actual, expected)
	case OpNotLike:
		return !m.fuzzyLike(actual, expected)
	case OpGT, OpLT, OpGTE, OpLTE:
		af, aok := toFloat(actual)
		ef, eok := toFloat(expected)
		if !aok || !eok {
			return false
		}
		switch op {
		case OpGT:
			return af > ef
		case OpLT:
			return af < ef
		case OpGTE:
			return af >= ef
		default:
			return af <= ef
		}
	case OpRegex:
		pattern, ok := expected.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(toStringLoose(actual))
	case OpContains:
		return strings.Contains(toStringLoose(actual), toStringLoose(expected))
	case OpStartswith:
		return strings.HasPrefix(toStringLoose(actual), toStringLoose(expected))
	case OpEndswith:
		return strings.HasSuffix(toStringLoose(actual), toStringLoose(expected))
	default:
		return false
	}
}

// fuzzyLike first tries numeric/size comparison (equal after coercion), then
// falls back to a case-insensitive Jaro-Winkler similarity test against the
// configured threshold.
func (m *Matcher) fuzzyLike(actual, expected any) bool {
	if af, aok := toFloat(actual); aok {
		if ef, eok := toFloat(expected); eok {
			return af == ef
		}
	}
	a := strings.ToLower(toStringLoose(actual))
	e := strings.ToLower(toStringLoose(expected))
	if a == e {
		return true
	}
	return smetrics.JaroWinkler(a, e, 0.7, 4) >= m.threshold()
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toStringLoose(a) == toStringLoose(b)
}

func toStringLoose(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// toFloat coerces a value to float64, applying byte-size suffix parsing
// ("4 GB" -> 4294967296) when the value is a string that looks like a size.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
		if bytes, ok := ParseByteSize(t); ok {
			return float64(bytes), true
		}
		return 0, false
	default:
		return 0, false
	}
}

var sizeUnitPattern = regexp.MustCompile(`(?i)^\s*([0-9]*\.?[0-9]+)\s*([KMGTP]?I?B)\s*$`)

var sizeUnitMultipliers = map[string]uint64{
	"B":   1,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
	"TIB": 1 << 40,
	"PIB": 1 << 50,
}

// ParseByteSize parses strings like "4 GB", "512MiB", "1.5TB" into a byte
// count, treating bare "GB"/"MB"/... the same as "GiB"/"MiB"/... (binary,
// 1024-based), matching spec §4.11's example: "4 GB" -> 4294967296.
func ParseByteSize(s string) (uint64, bool) {
	m := sizeUnitPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	unit := strings.ToUpper(m[2])
	if !strings.HasSuffix(unit, "IB") && unit != "B" {
		unit = strings.TrimSuffix(unit, "B") + "IB" // bare GB/MB/... coerced to binary per spec example
	}
	mult, ok := sizeUnitMultipliers[unit]
	if !ok {
		return 0, false
	}
	return uint64(val * float64(mult)), true
}
