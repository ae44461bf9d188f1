// Package series provides Arrow-backed typed columns for cohort tables.
// Unlike a plain slice, a series tracks per-row validity so that missing
// values survive filtering, merging and schema computation.
package series

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cohortql/cohortql/internal/schema"
)

// Series is a type-erased column. Concrete implementations wrap one
// Arrow array each.
type Series interface {
	Name() string
	Len() int
	DataType() arrow.DataType
	// Dtype returns the pandas-style label used in schemas.
	Dtype() string
	IsNull(index int) bool
	// ValueString renders the value at index for display, hashing and
	// CSV output; null values render as the empty string.
	ValueString(index int) string
	// Take gathers rows by index into a new series. An index of -1
	// appends a null, which left merges use for unmatched rows.
	Take(indices []int, mem memory.Allocator) Series
	Release()
}

// String column.
type String struct {
	name string
	arr  *array.String
}

// Int64 column.
type Int64 struct {
	name string
	arr  *array.Int64
}

// Float64 column.
type Float64 struct {
	name string
	arr  *array.Float64
}

// Bool column.
type Bool struct {
	name string
	arr  *array.Boolean
}

// Timestamp column with millisecond precision.
type Timestamp struct {
	name string
	arr  *array.Timestamp
}

// TimestampType is the Arrow type used for datetime columns.
var TimestampType = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}

// NewString builds a string series. A nil valid mask marks every value
// as present.
func NewString(name string, values []string, valid []bool, mem memory.Allocator) *String {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	builder := array.NewStringBuilder(mem)
	defer builder.Release()
	for i, v := range values {
		if valid != nil && !valid[i] {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}
	return &String{name: name, arr: builder.NewStringArray()}
}

// NewInt64 builds an int64 series.
func NewInt64(name string, values []int64, valid []bool, mem memory.Allocator) *Int64 {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	for i, v := range values {
		if valid != nil && !valid[i] {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}
	return &Int64{name: name, arr: builder.NewInt64Array()}
}

// NewFloat64 builds a float64 series.
func NewFloat64(name string, values []float64, valid []bool, mem memory.Allocator) *Float64 {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	for i, v := range values {
		if valid != nil && !valid[i] {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}
	return &Float64{name: name, arr: builder.NewFloat64Array()}
}

// NewBool builds a boolean series.
func NewBool(name string, values []bool, valid []bool, mem memory.Allocator) *Bool {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	for i, v := range values {
		if valid != nil && !valid[i] {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}
	return &Bool{name: name, arr: builder.NewBooleanArray()}
}

// NewTimestamp builds a datetime series from time values.
func NewTimestamp(name string, values []time.Time, valid []bool, mem memory.Allocator) *Timestamp {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	builder := array.NewTimestampBuilder(mem, TimestampType)
	defer builder.Release()
	for i, v := range values {
		if valid != nil && !valid[i] {
			builder.AppendNull()
			continue
		}
		builder.Append(arrow.Timestamp(v.UnixMilli()))
	}
	return &Timestamp{name: name, arr: builder.NewTimestampArray()}
}

func (s *String) Name() string    { return s.name }
func (s *Int64) Name() string     { return s.name }
func (s *Float64) Name() string   { return s.name }
func (s *Bool) Name() string      { return s.name }
func (s *Timestamp) Name() string { return s.name }

func (s *String) Len() int    { return s.arr.Len() }
func (s *Int64) Len() int     { return s.arr.Len() }
func (s *Float64) Len() int   { return s.arr.Len() }
func (s *Bool) Len() int      { return s.arr.Len() }
func (s *Timestamp) Len() int { return s.arr.Len() }

func (s *String) DataType() arrow.DataType    { return s.arr.DataType() }
func (s *Int64) DataType() arrow.DataType     { return s.arr.DataType() }
func (s *Float64) DataType() arrow.DataType   { return s.arr.DataType() }
func (s *Bool) DataType() arrow.DataType      { return s.arr.DataType() }
func (s *Timestamp) DataType() arrow.DataType { return s.arr.DataType() }

func (s *String) Dtype() string    { return schema.DtypeObject }
func (s *Int64) Dtype() string     { return schema.DtypeInt64 }
func (s *Float64) Dtype() string   { return schema.DtypeFloat64 }
func (s *Bool) Dtype() string      { return schema.DtypeBool }
func (s *Timestamp) Dtype() string { return schema.DtypeDatetime }

func (s *String) IsNull(index int) bool    { return s.arr.IsNull(index) }
func (s *Int64) IsNull(index int) bool     { return s.arr.IsNull(index) }
func (s *Float64) IsNull(index int) bool   { return s.arr.IsNull(index) }
func (s *Bool) IsNull(index int) bool      { return s.arr.IsNull(index) }
func (s *Timestamp) IsNull(index int) bool { return s.arr.IsNull(index) }

// Value accessors on the concrete types; callers must check IsNull first.

func (s *String) Value(index int) string   { return s.arr.Value(index) }
func (s *Int64) Value(index int) int64     { return s.arr.Value(index) }
func (s *Float64) Value(index int) float64 { return s.arr.Value(index) }
func (s *Bool) Value(index int) bool       { return s.arr.Value(index) }

// Value returns the timestamp at index as UTC time.
func (s *Timestamp) Value(index int) time.Time {
	return time.UnixMilli(int64(s.arr.Value(index))).UTC()
}

func (s *String) ValueString(index int) string {
	if s.arr.IsNull(index) {
		return ""
	}
	return s.arr.Value(index)
}

func (s *Int64) ValueString(index int) string {
	if s.arr.IsNull(index) {
		return ""
	}
	return fmt.Sprintf("%d", s.arr.Value(index))
}

func (s *Float64) ValueString(index int) string {
	if s.arr.IsNull(index) {
		return ""
	}
	return fmt.Sprintf("%g", s.arr.Value(index))
}

func (s *Bool) ValueString(index int) string {
	if s.arr.IsNull(index) {
		return ""
	}
	return fmt.Sprintf("%t", s.arr.Value(index))
}

func (s *Timestamp) ValueString(index int) string {
	if s.arr.IsNull(index) {
		return ""
	}
	t := s.Value(index)
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

func (s *String) Take(indices []int, mem memory.Allocator) Series {
	values := make([]string, len(indices))
	valid := make([]bool, len(indices))
	for i, idx := range indices {
		if idx < 0 || s.arr.IsNull(idx) {
			continue
		}
		values[i] = s.arr.Value(idx)
		valid[i] = true
	}
	return NewString(s.name, values, valid, mem)
}

func (s *Int64) Take(indices []int, mem memory.Allocator) Series {
	values := make([]int64, len(indices))
	valid := make([]bool, len(indices))
	for i, idx := range indices {
		if idx < 0 || s.arr.IsNull(idx) {
			continue
		}
		values[i] = s.arr.Value(idx)
		valid[i] = true
	}
	return NewInt64(s.name, values, valid, mem)
}

func (s *Float64) Take(indices []int, mem memory.Allocator) Series {
	values := make([]float64, len(indices))
	valid := make([]bool, len(indices))
	for i, idx := range indices {
		if idx < 0 || s.arr.IsNull(idx) {
			continue
		}
		values[i] = s.arr.Value(idx)
		valid[i] = true
	}
	return NewFloat64(s.name, values, valid, mem)
}

func (s *Bool) Take(indices []int, mem memory.Allocator) Series {
	values := make([]bool, len(indices))
	valid := make([]bool, len(indices))
	for i, idx := range indices {
		if idx < 0 || s.arr.IsNull(idx) {
			continue
		}
		values[i] = s.arr.Value(idx)
		valid[i] = true
	}
	return NewBool(s.name, values, valid, mem)
}

func (s *Timestamp) Take(indices []int, mem memory.Allocator) Series {
	values := make([]time.Time, len(indices))
	valid := make([]bool, len(indices))
	for i, idx := range indices {
		if idx < 0 || s.arr.IsNull(idx) {
			continue
		}
		values[i] = s.Value(idx)
		valid[i] = true
	}
	return NewTimestamp(s.name, values, valid, mem)
}

func (s *String) Release()    { s.arr.Release() }
func (s *Int64) Release()     { s.arr.Release() }
func (s *Float64) Release()   { s.arr.Release() }
func (s *Bool) Release()      { s.arr.Release() }
func (s *Timestamp) Release() { s.arr.Release() }

// Rename returns a series sharing the same backing array under a new
// name. Used when prefixing merged table columns.
func Rename(s Series, name string) Series {
	switch typed := s.(type) {
	case *String:
		typed.arr.Retain()
		return &String{name: name, arr: typed.arr}
	case *Int64:
		typed.arr.Retain()
		return &Int64{name: name, arr: typed.arr}
	case *Float64:
		typed.arr.Retain()
		return &Float64{name: name, arr: typed.arr}
	case *Bool:
		typed.arr.Retain()
		return &Bool{name: name, arr: typed.arr}
	case *Timestamp:
		typed.arr.Retain()
		return &Timestamp{name: name, arr: typed.arr}
	default:
		panic(fmt.Sprintf("unsupported series type: %T", s))
	}
}
