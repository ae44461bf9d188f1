// Package dataset owns the merged patient dataset and the current cohort
// view, applying filter expressions and maintaining schema snapshots.
package dataset

import (
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cohortql/cohortql/internal/series"
)

// Frame is a table of named, ordered columns of equal length.
type Frame struct {
	columns map[string]series.Series
	order   []string
}

// NewFrame creates a frame from the given series, preserving order.
func NewFrame(cols ...series.Series) *Frame {
	columns := make(map[string]series.Series, len(cols))
	order := make([]string, 0, len(cols))

	for _, s := range cols {
		name := s.Name()
		columns[name] = s
		order = append(order, name)
	}

	return &Frame{columns: columns, order: order}
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.order...)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if len(f.order) == 0 {
		return 0
	}
	return f.columns[f.order[0]].Len()
}

// Width returns the number of columns.
func (f *Frame) Width() int {
	return len(f.columns)
}

// Column returns the series for the given column name.
func (f *Frame) Column(name string) (series.Series, bool) {
	s, ok := f.columns[name]
	return s, ok
}

// HasColumn checks if a column exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.columns[name]
	return ok
}

// Take gathers the given row indices into a new frame. Indices may
// repeat; -1 produces a null row cell in every column.
func (f *Frame) Take(indices []int, mem memory.Allocator) *Frame {
	taken := make([]series.Series, 0, len(f.order))
	for _, name := range f.order {
		taken = append(taken, f.columns[name].Take(indices, mem))
	}
	return NewFrame(taken...)
}

// Release releases the Arrow memory of every column.
func (f *Frame) Release() {
	for _, s := range f.columns {
		s.Release()
	}
}
