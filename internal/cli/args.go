package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pthm/pgsupporter"
)

// Condition is a parsed --where or --or-where flag.
type Condition struct {
	Field    string
	Operator string
	Value    any
}

// operators are matched longest first so "NOT LIKE" wins over "LIKE".
var operators = []string{
	"NOT ILIKE", "NOT LIKE", "ILIKE", "LIKE",
	"<>", "!=", "<=", ">=", "@>", "<@", "=", "<", ">",
}

// ParseCondition parses "field op value". The operator may be written
// against the field and value ("age>18"), except keyword operators, which
// are matched case-insensitively and need whitespace on both sides. A field
// followed by whitespace is taken whole, so JSON paths such as "meta->>k"
// work when spaced out.
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	if field, rest, ok := strings.Cut(expr, " "); ok {
		if op, value, ok := matchOperator(strings.TrimSpace(rest), true); ok {
			return newCondition(expr, field, op, value)
		}
	}

	for i := 1; i < len(expr); i++ {
		field := strings.TrimSpace(expr[:i])
		if strings.ContainsAny(field, " \t") {
			break
		}
		if op, value, ok := matchOperator(expr[i:], isSpace(expr[i-1])); ok {
			return newCondition(expr, field, op, value)
		}
	}

	if !strings.ContainsAny(expr, " \t") {
		return Condition{}, fmt.Errorf("condition %q: expected \"field operator value\"", expr)
	}
	return Condition{}, fmt.Errorf("condition %q: unsupported operator", expr)
}

// matchOperator matches the operator at the start of s and returns the
// text after it. Keyword operators only match when spaced is set.
func matchOperator(s string, spaced bool) (string, string, bool) {
	for _, op := range operators {
		if len(s) < len(op) || !strings.EqualFold(s[:len(op)], op) {
			continue
		}
		value := s[len(op):]
		if isWord(op) && (!spaced || (value != "" && !isSpace(value[0]))) {
			continue
		}
		return op, value, true
	}
	return "", "", false
}

func newCondition(expr, field, op, value string) (Condition, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Condition{}, fmt.Errorf("condition %q: missing value", expr)
	}
	return Condition{Field: field, Operator: op, Value: ParseValue(value)}, nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

func isWord(op string) bool {
	c := op[len(op)-1]
	return c >= 'A' && c <= 'Z'
}

// ParseAssignment parses a --set flag of the form "column=value".
func ParseAssignment(expr string) (pgsupporter.Field, error) {
	name, value, ok := strings.Cut(expr, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return pgsupporter.Field{}, fmt.Errorf("assignment %q: expected column=value", expr)
	}
	return pgsupporter.Field{Name: name, Value: ParseValue(value)}, nil
}

// ParseAssignments parses --set flags in order.
func ParseAssignments(exprs []string) (pgsupporter.Fields, error) {
	fields := make(pgsupporter.Fields, 0, len(exprs))
	seen := make(map[string]bool, len(exprs))
	for _, e := range exprs {
		f, err := ParseAssignment(e)
		if err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("assignment %q: column %s set twice", e, f.Name)
		}
		seen[f.Name] = true
		fields = append(fields, f)
	}
	return fields, nil
}

// ParseValue decodes s as JSON when it is valid JSON and returns it as a
// string otherwise. Integral numbers decode to int64.
func ParseValue(s string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}

	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) {
		return f
	}
	return s
}
