package dataset

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	xxhash "github.com/cespare/xxhash/v2"

	"github.com/cohortql/cohortql/internal/common"
	"github.com/cohortql/cohortql/internal/errors"
	"github.com/cohortql/cohortql/internal/query"
	"github.com/cohortql/cohortql/internal/series"
)

// ApplyExpr evaluates a filter expression against a frame and returns
// the matching row subset as a new frame. The input frame is unchanged.
//
// Compound semantics: and is the intersection of the children's row
// sets; or is the union with duplicate rows removed by full row
// identity, not by key. Each tree node costs one pass over the rows.
//
// Validation never reaches this code path with an illegal operator, but
// directly constructed expressions are still rejected with an execution
// error rather than silently ignored.
func ApplyExpr(f *Frame, e query.Expr, mem memory.Allocator) (*Frame, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	indices, err := evalNode(f, e)
	if err != nil {
		return nil, err
	}
	return f.Take(indices, mem), nil
}

func evalNode(f *Frame, e query.Expr) ([]int, error) {
	switch node := e.(type) {
	case *query.Leaf:
		return evalLeaf(f, node)
	case *query.Compound:
		return evalCompound(f, node)
	default:
		return nil, errors.NewExecutionError("ApplyExpr", "", fmt.Sprintf("unknown expression node %T", e))
	}
}

func evalCompound(f *Frame, node *query.Compound) ([]int, error) {
	if len(node.Criteria) == 0 {
		return nil, errors.NewExecutionError("ApplyExpr", "", "compound node has no criteria")
	}

	result, err := evalNode(f, node.Criteria[0])
	if err != nil {
		return nil, err
	}

	for _, sub := range node.Criteria[1:] {
		next, err := evalNode(f, sub)
		if err != nil {
			return nil, err
		}

		switch node.Op {
		case query.OpAnd:
			result = intersect(result, next)
		case query.OpOr:
			result = union(result, next)
		default:
			return nil, errors.NewExecutionError("ApplyExpr", "",
				fmt.Sprintf("unsupported logical operation: %s", node.Op))
		}
	}

	if node.Op == query.OpOr {
		result = dedupeRows(f, result)
	}
	return result, nil
}

// intersect keeps indices present in both sorted sets.
func intersect(a, b []int) []int {
	inB := make(map[int]bool, len(b))
	for _, i := range b {
		inB[i] = true
	}
	out := a[:0]
	for _, i := range a {
		if inB[i] {
			out = append(out, i)
		}
	}
	return out
}

// union merges two index sets preserving original row order.
func union(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, i := range a {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for _, i := range b {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// dedupeRows removes rows whose entire content duplicates an earlier
// row, keyed by an xxhash digest over every column value.
func dedupeRows(f *Frame, indices []int) []int {
	names := f.Columns()
	seen := make(map[uint64]bool, len(indices))
	out := indices[:0]

	var digest xxhash.Digest
	for _, idx := range indices {
		digest.Reset()
		for _, name := range names {
			col, _ := f.Column(name)
			if col.IsNull(idx) {
				_, _ = digest.WriteString("\x00null")
			} else {
				_, _ = digest.WriteString(col.ValueString(idx))
			}
			_, _ = digest.WriteString("\x1f")
		}
		h := digest.Sum64()
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, idx)
	}
	return out
}

func evalLeaf(f *Frame, leaf *query.Leaf) ([]int, error) {
	col, ok := f.Column(leaf.Field)
	if !ok {
		return nil, errors.NewColumnNotFoundError("ApplyExpr", leaf.Field)
	}

	switch leaf.Op {
	case query.OpIsNull:
		return matchRows(f, func(i int) bool { return col.IsNull(i) }), nil
	case query.OpIsNotNull:
		return matchRows(f, func(i int) bool { return !col.IsNull(i) }), nil
	}

	switch typed := col.(type) {
	case *series.Int64:
		return evalNumericLeaf(f, leaf, typed.IsNull, func(i int) float64 { return float64(typed.Value(i)) })
	case *series.Float64:
		return evalNumericLeaf(f, leaf, typed.IsNull, typed.Value)
	case *series.String:
		return evalStringLeaf(f, leaf, typed)
	case *series.Timestamp:
		return evalDatetimeLeaf(f, leaf, typed)
	default:
		return nil, errors.NewExecutionError("ApplyExpr", leaf.Field,
			fmt.Sprintf("column type %s does not support filtering", col.Dtype()))
	}
}

func matchRows(f *Frame, pred func(i int) bool) []int {
	var out []int
	for i := 0; i < f.Len(); i++ {
		if pred(i) {
			out = append(out, i)
		}
	}
	return out
}

func evalNumericLeaf(f *Frame, leaf *query.Leaf, isNull func(int) bool, value func(int) float64) ([]int, error) {
	tc := common.NewTypeConverter()

	switch leaf.Op {
	case query.OpEquals, query.OpNotEquals, query.OpGreaterThan, query.OpLessThan,
		query.OpGreaterEqual, query.OpLessEqual:
		operand, err := tc.ToFloat64(leaf.Value)
		if err != nil {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field,
				fmt.Sprintf("operation %s requires a numeric value: %v", leaf.Op, err))
		}
		return matchRows(f, func(i int) bool {
			if isNull(i) {
				// Missing values count as unequal and fail every
				// ordering comparison.
				return leaf.Op == query.OpNotEquals
			}
			return compareFloats(value(i), operand, leaf.Op)
		}), nil

	case query.OpBetween:
		if len(leaf.Values) != 2 {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field,
				fmt.Sprintf("between requires exactly 2 values, got %d", len(leaf.Values)))
		}
		low, errLow := tc.ToFloat64(leaf.Values[0])
		high, errHigh := tc.ToFloat64(leaf.Values[1])
		if errLow != nil || errHigh != nil {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field, "between requires numeric bounds")
		}
		return matchRows(f, func(i int) bool {
			if isNull(i) {
				return false
			}
			v := value(i)
			return v >= low && v <= high
		}), nil

	case query.OpIn:
		if len(leaf.Values) == 0 {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field, "in requires a non-empty values list")
		}
		members := make([]float64, len(leaf.Values))
		for i, raw := range leaf.Values {
			v, err := tc.ToFloat64(raw)
			if err != nil {
				return nil, errors.NewExecutionError("ApplyExpr", leaf.Field,
					fmt.Sprintf("in requires numeric values: %v", err))
			}
			members[i] = v
		}
		return matchRows(f, func(i int) bool {
			if isNull(i) {
				return false
			}
			v := value(i)
			for _, m := range members {
				if v == m {
					return true
				}
			}
			return false
		}), nil

	default:
		return nil, errors.NewExecutionError("ApplyExpr", leaf.Field,
			fmt.Sprintf("unsupported operation: %s", leaf.Op))
	}
}

func compareFloats(v, operand float64, op query.Operator) bool {
	switch op {
	case query.OpEquals:
		return v == operand
	case query.OpNotEquals:
		return v != operand
	case query.OpGreaterThan:
		return v > operand
	case query.OpLessThan:
		return v < operand
	case query.OpGreaterEqual:
		return v >= operand
	case query.OpLessEqual:
		return v <= operand
	default:
		return false
	}
}

func evalStringLeaf(f *Frame, leaf *query.Leaf, col *series.String) ([]int, error) {
	switch leaf.Op {
	case query.OpEquals, query.OpNotEquals:
		operand := common.NewTypeConverter().ToString(leaf.Value)
		return matchRows(f, func(i int) bool {
			if col.IsNull(i) {
				return leaf.Op == query.OpNotEquals
			}
			if leaf.Op == query.OpEquals {
				return col.Value(i) == operand
			}
			return col.Value(i) != operand
		}), nil

	case query.OpContains:
		operand, ok := leaf.Value.(string)
		if !ok {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field, "contains operation requires a string value")
		}
		return matchRows(f, func(i int) bool {
			return !col.IsNull(i) && strings.Contains(col.Value(i), operand)
		}), nil

	case query.OpIn:
		if len(leaf.Values) == 0 {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field, "in requires a non-empty values list")
		}
		members := make(map[string]bool, len(leaf.Values))
		tc := common.NewTypeConverter()
		for _, raw := range leaf.Values {
			members[tc.ToString(raw)] = true
		}
		return matchRows(f, func(i int) bool {
			return !col.IsNull(i) && members[col.Value(i)]
		}), nil

	default:
		return nil, errors.NewExecutionError("ApplyExpr", leaf.Field,
			fmt.Sprintf("unsupported operation: %s", leaf.Op))
	}
}

func evalDatetimeLeaf(f *Frame, leaf *query.Leaf, col *series.Timestamp) ([]int, error) {
	switch leaf.Op {
	case query.OpEquals, query.OpNotEquals, query.OpGreaterThan, query.OpLessThan,
		query.OpGreaterEqual, query.OpLessEqual:
		operand, err := datetimeOperand(leaf.Value)
		if err != nil {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field, err.Error())
		}
		return matchRows(f, func(i int) bool {
			if col.IsNull(i) {
				return leaf.Op == query.OpNotEquals
			}
			return compareTimes(col.Value(i), operand, leaf.Op)
		}), nil

	case query.OpBetween:
		if len(leaf.Values) != 2 {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field,
				fmt.Sprintf("between requires exactly 2 values, got %d", len(leaf.Values)))
		}
		low, errLow := datetimeOperand(leaf.Values[0])
		high, errHigh := datetimeOperand(leaf.Values[1])
		if errLow != nil || errHigh != nil {
			return nil, errors.NewExecutionError("ApplyExpr", leaf.Field, "between requires datetime bounds")
		}
		return matchRows(f, func(i int) bool {
			if col.IsNull(i) {
				return false
			}
			v := col.Value(i)
			return !v.Before(low) && !v.After(high)
		}), nil

	default:
		return nil, errors.NewExecutionError("ApplyExpr", leaf.Field,
			fmt.Sprintf("unsupported operation: %s", leaf.Op))
	}
}

func datetimeOperand(raw any) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("datetime operation requires a string value, got %T", raw)
	}
	t, ok := parseDatetime(s)
	if !ok {
		return time.Time{}, fmt.Errorf("cannot parse %q as datetime", s)
	}
	return t, nil
}

func compareTimes(v, operand time.Time, op query.Operator) bool {
	switch op {
	case query.OpEquals:
		return v.Equal(operand)
	case query.OpNotEquals:
		return !v.Equal(operand)
	case query.OpGreaterThan:
		return v.After(operand)
	case query.OpLessThan:
		return v.Before(operand)
	case query.OpGreaterEqual:
		return !v.Before(operand)
	case query.OpLessEqual:
		return !v.After(operand)
	default:
		return false
	}
}
