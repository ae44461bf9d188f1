// Package common holds conversion helpers shared by the query executor
// and the persistence layer. Query operands arrive as interface values
// decoded from JSON or msgpack, so the numeric types vary per source.
package common

import (
	"fmt"
	"strconv"
)

// TypeConverter coerces decoded operand values into the concrete types
// column comparisons run on.
type TypeConverter struct{}

// NewTypeConverter creates a TypeConverter.
func NewTypeConverter() *TypeConverter {
	return &TypeConverter{}
}

// ToFloat64 converts a decoded operand to float64. JSON decodes numbers
// as float64, msgpack as the smallest integer type that fits; both are
// accepted, as are numeric strings.
func (tc *TypeConverter) ToFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

// ToInt64 converts a decoded operand to int64. Floats must be whole.
func (tc *TypeConverter) ToInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("float64 value %g is not a whole number", v)
		}
		return int64(v), nil
	case float32:
		return tc.ToInt64(float64(v))
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

// ToString renders an operand for string-column comparisons. Whole
// floats render without a decimal point, matching how integer-looking
// JSON numbers read in the original request.
func (tc *TypeConverter) ToString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IsNumeric reports whether the value carries a numeric type.
func (tc *TypeConverter) IsNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
