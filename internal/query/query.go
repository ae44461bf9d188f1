// Package query provides the recursive filter-expression model applied to
// patient cohorts. An expression is either a leaf comparison on a single
// field or a compound and/or node over sub-expressions. Expressions are
// immutable once constructed; they are built from regex fast-path matches
// or from LLM JSON payloads and consumed by the dataset engine.
package query

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/schema"
)

// Operator identifies a leaf comparison or a compound combinator.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpContains     Operator = "contains"
	OpIn           Operator = "in"
	OpBetween      Operator = "between"
	OpIsNull       Operator = "is_null"
	OpIsNotNull    Operator = "is_not_null"

	OpAnd Operator = "and"
	OpOr  Operator = "or"
)

// MaxDepth bounds expression nesting when parsing untyped JSON.
const MaxDepth = 32

// humanOps localizes operators for user-facing rendering.
var humanOps = map[Operator]string{
	OpEquals:       "es igual a",
	OpNotEquals:    "no es igual a",
	OpGreaterThan:  "es mayor que",
	OpLessThan:     "es menor que",
	OpGreaterEqual: "es mayor o igual que",
	OpLessEqual:    "es menor o igual que",
	OpContains:     "contiene",
	OpIn:           "es uno de",
	OpBetween:      "está entre",
	OpIsNull:       "es nulo",
	OpIsNotNull:    "no es nulo",
	OpAnd:          "Y",
	OpOr:           "O",
}

// kindOperators is the operator legality table shared by validation and
// execution. Boolean columns are intentionally absent: the supported
// column set is numeric, string and datetime.
var kindOperators = map[schema.Kind][]Operator{
	schema.KindNumeric: {
		OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpGreaterEqual, OpLessEqual, OpBetween, OpIn, OpIsNull, OpIsNotNull,
	},
	schema.KindString: {
		OpEquals, OpNotEquals, OpContains, OpIn, OpIsNull, OpIsNotNull,
	},
	schema.KindDatetime: {
		OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpGreaterEqual, OpLessEqual, OpBetween, OpIsNull, OpIsNotNull,
	},
}

// OperatorAllowed reports whether op is legal for columns of the given kind.
func OperatorAllowed(kind schema.Kind, op Operator) bool {
	for _, allowed := range kindOperators[kind] {
		if allowed == op {
			return true
		}
	}
	return false
}

// NodeKind distinguishes the two expression variants.
type NodeKind int

const (
	KindLeaf NodeKind = iota
	KindCompound
)

// Expr is a node of the filter expression tree.
type Expr interface {
	Kind() NodeKind
	// HumanReadable renders the expression for end users; malformed
	// nodes render their raw form without failing.
	HumanReadable() string
	// ToMap converts the node back to its wire representation.
	ToMap() map[string]any
	// CreatedAt is the construction timestamp, kept for audit logging.
	CreatedAt() time.Time
}

// Leaf is a single-field comparison.
type Leaf struct {
	Field  string
	Op     Operator
	Value  any   // Scalar operand; nil for is_null / is_not_null
	Values []any // Operand list for between ([low, high]) and in

	created time.Time
}

// Compound combines sub-expressions with and/or. Canonical form is
// binary, but any arity >= 1 is accepted.
type Compound struct {
	Op       Operator // OpAnd or OpOr
	Criteria []Expr

	created time.Time
}

// NewLeaf creates a leaf comparison expression.
func NewLeaf(field string, op Operator, value any) *Leaf {
	return &Leaf{Field: field, Op: op, Value: value, created: time.Now()}
}

// NewBetween creates a leaf with a [low, high] operand pair.
func NewBetween(field string, low, high any) *Leaf {
	return &Leaf{Field: field, Op: OpBetween, Values: []any{low, high}, created: time.Now()}
}

// NewIn creates a leaf matching any of the given values.
func NewIn(field string, values ...any) *Leaf {
	return &Leaf{Field: field, Op: OpIn, Values: values, created: time.Now()}
}

// NewCompound combines criteria under and/or.
func NewCompound(op Operator, criteria ...Expr) *Compound {
	return &Compound{Op: op, Criteria: criteria, created: time.Now()}
}

func (l *Leaf) Kind() NodeKind     { return KindLeaf }
func (c *Compound) Kind() NodeKind { return KindCompound }

func (l *Leaf) CreatedAt() time.Time     { return l.created }
func (c *Compound) CreatedAt() time.Time { return c.created }

// HumanReadable renders "<field> <localized operator> <value>".
func (l *Leaf) HumanReadable() string {
	op, ok := humanOps[l.Op]
	if !ok {
		op = string(l.Op)
	}

	switch l.Op {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", l.Field, op)
	case OpBetween, OpIn:
		parts := make([]string, len(l.Values))
		for i, v := range l.Values {
			parts[i] = formatValue(v)
		}
		return fmt.Sprintf("%s %s [%s]", l.Field, op, strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("%s %s %s", l.Field, op, formatValue(l.Value))
	}
}

// HumanReadable renders "(<child> Y <child> ...)"; a single child renders
// without parentheses.
func (c *Compound) HumanReadable() string {
	op, ok := humanOps[c.Op]
	if !ok {
		op = string(c.Op)
	}
	op = strings.ToUpper(op)

	parts := make([]string, len(c.Criteria))
	for i, sub := range c.Criteria {
		parts[i] = sub.HumanReadable()
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		// JSON numbers arrive as float64; render whole values without
		// a trailing .0 so they match user input.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (l *Leaf) ToMap() map[string]any {
	m := map[string]any{
		"field":     l.Field,
		"operation": string(l.Op),
	}
	switch l.Op {
	case OpIsNull, OpIsNotNull:
	case OpBetween, OpIn:
		m["values"] = append([]any(nil), l.Values...)
	default:
		m["value"] = l.Value
	}
	return m
}

func (c *Compound) ToMap() map[string]any {
	criteria := make([]any, len(c.Criteria))
	for i, sub := range c.Criteria {
		criteria[i] = sub.ToMap()
	}
	return map[string]any{
		"operation": string(c.Op),
		"criteria":  criteria,
	}
}

// Operations collects the set of operators used anywhere in the tree.
func Operations(e Expr) map[Operator]struct{} {
	ops := make(map[Operator]struct{})
	collectOperations(e, ops)
	return ops
}

func collectOperations(e Expr, ops map[Operator]struct{}) {
	switch node := e.(type) {
	case *Leaf:
		ops[node.Op] = struct{}{}
	case *Compound:
		ops[node.Op] = struct{}{}
		for _, sub := range node.Criteria {
			collectOperations(sub, ops)
		}
	}
}

// Fields collects the set of column names referenced anywhere in the tree.
func Fields(e Expr) map[string]struct{} {
	fields := make(map[string]struct{})
	collectFields(e, fields)
	return fields
}

func collectFields(e Expr, fields map[string]struct{}) {
	switch node := e.(type) {
	case *Leaf:
		fields[node.Field] = struct{}{}
	case *Compound:
		for _, sub := range node.Criteria {
			collectFields(sub, fields)
		}
	}
}

// Validate checks the expression against a schema. It never returns an
// error: any violation yields false with the specific reason logged.
// Compound validation requires every child to validate regardless of the
// node's own operator.
func Validate(e Expr, s schema.Schema, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return validateNode(e, s, logger)
}

func validateNode(e Expr, s schema.Schema, logger *zap.Logger) bool {
	switch node := e.(type) {
	case *Leaf:
		return validateLeaf(node, s, logger)
	case *Compound:
		if node.Op != OpAnd && node.Op != OpOr {
			logger.Error("invalid logical operation", zap.String("operation", string(node.Op)))
			return false
		}
		if len(node.Criteria) == 0 {
			logger.Error("compound node has no criteria", zap.String("operation", string(node.Op)))
			return false
		}
		for _, sub := range node.Criteria {
			if !validateNode(sub, s, logger) {
				return false
			}
		}
		return true
	default:
		logger.Error("unknown expression node", zap.String("node", fmt.Sprintf("%T", e)))
		return false
	}
}

func validateLeaf(l *Leaf, s schema.Schema, logger *zap.Logger) bool {
	if !s.Has(l.Field) {
		logger.Error("field not found in schema", zap.String("field", l.Field))
		return false
	}

	dtype := s.Dtype(l.Field)
	kind := schema.KindOf(dtype)
	if _, supported := kindOperators[kind]; !supported {
		logger.Error("unsupported field type",
			zap.String("field", l.Field), zap.String("dtype", dtype))
		return false
	}

	if !OperatorAllowed(kind, l.Op) {
		logger.Error("operation not supported for type",
			zap.String("field", l.Field),
			zap.String("operation", string(l.Op)),
			zap.String("dtype", dtype))
		return false
	}

	return true
}
