package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cohortql/cohortql/internal/errors"
)

// FromMap builds an expression tree from its wire representation. A map
// is recognized as compound when it carries a "criteria" list; anything
// else is parsed as a leaf. Nesting deeper than MaxDepth is rejected to
// guard against adversarial payloads.
func FromMap(m map[string]any) (Expr, error) {
	return fromMapDepth(m, 0)
}

func fromMapDepth(m map[string]any, depth int) (Expr, error) {
	if depth > MaxDepth {
		return nil, errors.NewParseError("FromMap",
			fmt.Sprintf("expression nesting exceeds depth limit of %d", MaxDepth), nil)
	}

	if rawCriteria, ok := m["criteria"]; ok {
		return compoundFromMap(m, rawCriteria, depth)
	}
	return leafFromMap(m)
}

func compoundFromMap(m map[string]any, rawCriteria any, depth int) (Expr, error) {
	op, err := operationOf(m)
	if err != nil {
		return nil, err
	}

	list, ok := rawCriteria.([]any)
	if !ok || len(list) == 0 {
		return nil, errors.NewParseError("FromMap", "criteria must be a non-empty list", nil)
	}

	criteria := make([]Expr, 0, len(list))
	for _, raw := range list {
		sub, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.NewParseError("FromMap",
				fmt.Sprintf("criteria entry must be an object, got %T", raw), nil)
		}
		child, err := fromMapDepth(sub, depth+1)
		if err != nil {
			return nil, err
		}
		criteria = append(criteria, child)
	}

	return NewCompound(op, criteria...), nil
}

func leafFromMap(m map[string]any) (Expr, error) {
	op, err := operationOf(m)
	if err != nil {
		return nil, err
	}

	field, ok := m["field"].(string)
	if !ok || field == "" {
		return nil, errors.NewParseError("FromMap", "leaf node requires a field name", nil)
	}

	leaf := &Leaf{Field: field, Op: op, created: time.Now()}

	switch op {
	case OpIsNull, OpIsNotNull:
		// No operand.
	case OpBetween, OpIn:
		values, err := valueList(m)
		if err != nil {
			return nil, err
		}
		if op == OpBetween && len(values) != 2 {
			return nil, errors.NewParseError("FromMap",
				fmt.Sprintf("between requires exactly 2 values, got %d", len(values)), nil)
		}
		leaf.Values = values
	default:
		value, ok := m["value"]
		if !ok {
			return nil, errors.NewParseError("FromMap",
				fmt.Sprintf("operation %q requires a value", op), nil)
		}
		leaf.Value = value
	}

	return leaf, nil
}

func operationOf(m map[string]any) (Operator, error) {
	raw, ok := m["operation"].(string)
	if !ok || raw == "" {
		return "", errors.NewParseError("FromMap", "node is missing an operation", nil)
	}
	return Operator(strings.ToLower(strings.TrimSpace(raw))), nil
}

// valueList accepts the operand list under "values", falling back to a
// list-typed "value" as produced by some model responses.
func valueList(m map[string]any) ([]any, error) {
	raw, ok := m["values"]
	if !ok {
		raw, ok = m["value"]
	}
	if !ok {
		return nil, errors.NewParseError("FromMap", "operation requires a values list", nil)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.NewParseError("FromMap",
			fmt.Sprintf("values must be a list, got %T", raw), nil)
	}
	return append([]any(nil), list...), nil
}

// FromResponseText extracts the "query" object from a JSON document and
// builds an expression from it. The JSON may be embedded in surrounding
// prose; the first '{' and matching last '}' delimit the document.
func FromResponseText(text string) (Expr, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil, errors.NewParseError("FromResponseText", "no JSON object found in response", nil)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err != nil {
		return nil, errors.NewParseError("FromResponseText", "malformed JSON in response", err)
	}

	raw, ok := doc["query"].(map[string]any)
	if !ok {
		return nil, errors.NewParseError("FromResponseText", "response has no query object", nil)
	}

	return FromMap(raw)
}
