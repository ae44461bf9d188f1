// Package schema defines per-column metadata describing a table snapshot.
// A Schema is recomputed in full after every cohort mutation so that it
// can never diverge from the table it describes.
package schema

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Dtype labels follow the original dataset exports so that schemas remain
// comparable across tooling.
const (
	DtypeInt64    = "int64"
	DtypeFloat64  = "float64"
	DtypeObject   = "object"
	DtypeBool     = "bool"
	DtypeDatetime = "datetime64[ns]"
)

// Kind groups dtypes into the classes the operator legality table is
// defined over.
type Kind int

const (
	KindUnknown Kind = iota
	KindNumeric
	KindString
	KindDatetime
	KindBool
)

// KindOf maps a dtype label to its kind.
func KindOf(dtype string) Kind {
	switch {
	case dtype == DtypeInt64 || dtype == DtypeFloat64:
		return KindNumeric
	case dtype == DtypeObject || strings.HasPrefix(dtype, "string"):
		return KindString
	case strings.HasPrefix(dtype, "datetime"):
		return KindDatetime
	case dtype == DtypeBool:
		return KindBool
	default:
		return KindUnknown
	}
}

// ValueCount is one entry of a low-cardinality value distribution.
type ValueCount struct {
	Value      string  `json:"value" msgpack:"value"`
	Count      int     `json:"count" msgpack:"count"`
	Percentage float64 `json:"percentage" msgpack:"percentage"` // Rounded to 2 decimals, of non-null rows
}

// ColumnInfo holds derived metadata for a single column.
type ColumnInfo struct {
	Dtype         string `json:"dtype"`
	UniqueValues  int    `json:"unique_values"`
	MissingValues int    `json:"missing_values"`
	TotalRows     int    `json:"total_rows"`

	// Numeric summary, present only for numeric columns with at least
	// one non-null value.
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Mean *float64 `json:"mean,omitempty"`

	// ValueDistribution is present when 1 < unique values <= threshold,
	// sorted by descending count.
	ValueDistribution []ValueCount `json:"value_distribution,omitempty"`
}

// DatabaseInfo is the aggregate pseudo-entry recorded alongside columns.
type DatabaseInfo struct {
	TotalRows      int      `json:"total_rows"`
	UniquePatients int      `json:"unique_patients"` // -1 when no patient-id column was found
	TotalColumns   int      `json:"total_columns"`
	SourceTables   []string `json:"source_tables"` // Derived from column prefixes
	Timestamp      string   `json:"timestamp"`
}

// Schema maps column names to their metadata plus one aggregate entry.
type Schema struct {
	Columns map[string]ColumnInfo `json:"columns"`
	Info    DatabaseInfo          `json:"_database_info"`
}

// Has reports whether the schema contains the given column.
func (s Schema) Has(column string) bool {
	_, ok := s.Columns[column]
	return ok
}

// Dtype returns the dtype label for a column, or "" if absent.
func (s Schema) Dtype(column string) string {
	return s.Columns[column].Dtype
}

// ColumnNames returns the column names in sorted order.
func (s Schema) ColumnNames() []string {
	names := maps.Keys(s.Columns)
	slices.Sort(names)
	return names
}

// Readable formats the schema into the report layout used for cohort
// exports and for the LLM schema-description prompt.
func (s Schema) Readable() string {
	if len(s.Columns) == 0 {
		return "Empty schema"
	}

	var b strings.Builder

	b.WriteString("DATABASE INFORMATION\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Total Rows: %d\n", s.Info.TotalRows)
	if s.Info.UniquePatients >= 0 {
		fmt.Fprintf(&b, "Unique Patients: %d\n", s.Info.UniquePatients)
	} else {
		b.WriteString("Unique Patients: unknown\n")
	}
	fmt.Fprintf(&b, "Total Columns: %d\n", s.Info.TotalColumns)
	fmt.Fprintf(&b, "Original Source Tables: %s\n", strings.Join(s.Info.SourceTables, ", "))
	fmt.Fprintf(&b, "Schema Generated: %s\n", s.Info.Timestamp)
	b.WriteString("\nCOLUMN DETAILS\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	for _, name := range s.ColumnNames() {
		info := s.Columns[name]
		fmt.Fprintf(&b, "Column: %s\n", name)
		fmt.Fprintf(&b, "- Type: %s\n", info.Dtype)
		fmt.Fprintf(&b, "- Unique Values: %d\n", info.UniqueValues)

		missingPct := 0.0
		if info.TotalRows > 0 {
			missingPct = float64(info.MissingValues) / float64(info.TotalRows) * 100
		}
		fmt.Fprintf(&b, "- Missing Values: %d of %d (%.2f%%)\n", info.MissingValues, info.TotalRows, missingPct)

		if info.Min != nil && info.Max != nil && info.Mean != nil {
			fmt.Fprintf(&b, "- Minimum: %g\n", *info.Min)
			fmt.Fprintf(&b, "- Maximum: %g\n", *info.Max)
			fmt.Fprintf(&b, "- Mean: %.2f\n", *info.Mean)
		}

		if len(info.ValueDistribution) > 0 {
			b.WriteString("- Value Distribution:\n")
			for _, vc := range info.ValueDistribution {
				fmt.Fprintf(&b, "  * %s: %d occurrences (%g%%)\n", vc.Value, vc.Count, vc.Percentage)
			}
		}

		b.WriteString("\n")
	}

	return b.String()
}

// Provider exposes the two independently maintained schema snapshots.
// Implemented by the dataset manager; accepted as an interface so the
// intent package can validate without importing the engine.
type Provider interface {
	FullSchema() Schema
	CurrentSchema() Schema
}
