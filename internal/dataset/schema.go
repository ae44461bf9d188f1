package dataset

import (
	"sort"
	"strings"
	"time"

	"github.com/cohortql/cohortql/internal/schema"
	"github.com/cohortql/cohortql/internal/series"
)

// ComputeSchema derives full per-column metadata for a frame. The
// computation is always total: every column is described from scratch,
// so the schema can never be partially stale. Bounded by column count,
// not row count, so total recomputation stays cheap.
func ComputeSchema(f *Frame, threshold int, joinKeys []string) schema.Schema {
	s := schema.Schema{
		Columns: make(map[string]schema.ColumnInfo, f.Width()),
	}

	rows := f.Len()
	for _, name := range f.Columns() {
		col, _ := f.Column(name)
		s.Columns[name] = columnInfo(col, rows, threshold)
	}

	s.Info = databaseInfo(f, joinKeys)
	return s
}

func columnInfo(col series.Series, rows, threshold int) schema.ColumnInfo {
	info := schema.ColumnInfo{
		Dtype:     col.Dtype(),
		TotalRows: rows,
	}

	counts := make(map[string]int)
	order := make([]string, 0)
	for i := 0; i < rows; i++ {
		if col.IsNull(i) {
			info.MissingValues++
			continue
		}
		v := col.ValueString(i)
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	info.UniqueValues = len(counts)

	if numeric, ok := col.(interface{ Value(int) int64 }); ok {
		info.Min, info.Max, info.Mean = numericSummary(rows, col, func(i int) float64 {
			return float64(numeric.Value(i))
		})
	} else if numeric, ok := col.(interface{ Value(int) float64 }); ok {
		info.Min, info.Max, info.Mean = numericSummary(rows, col, numeric.Value)
	}

	if info.UniqueValues > 1 && info.UniqueValues <= threshold {
		info.ValueDistribution = valueDistribution(counts, order, rows-info.MissingValues)
	}

	return info
}

func numericSummary(rows int, col series.Series, value func(int) float64) (min, max, mean *float64) {
	var lo, hi, sum float64
	n := 0
	for i := 0; i < rows; i++ {
		if col.IsNull(i) {
			continue
		}
		v := value(i)
		if n == 0 || v < lo {
			lo = v
		}
		if n == 0 || v > hi {
			hi = v
		}
		sum += v
		n++
	}
	if n == 0 {
		return nil, nil, nil
	}
	avg := sum / float64(n)
	return &lo, &hi, &avg
}

// valueDistribution sorts values by descending count (first-seen order on
// ties) with percentages of non-null rows rounded to 2 decimals.
func valueDistribution(counts map[string]int, order []string, nonNull int) []schema.ValueCount {
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	dist := make([]schema.ValueCount, 0, len(order))
	for _, v := range order {
		pct := 0.0
		if nonNull > 0 {
			pct = float64(counts[v]) / float64(nonNull) * 100
		}
		dist = append(dist, schema.ValueCount{
			Value:      v,
			Count:      counts[v],
			Percentage: roundTo2(pct),
		})
	}
	return dist
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func databaseInfo(f *Frame, joinKeys []string) schema.DatabaseInfo {
	info := schema.DatabaseInfo{
		TotalRows:      f.Len(),
		UniquePatients: -1,
		TotalColumns:   f.Width(),
		Timestamp:      time.Now().Format("2006-01-02 15:04:05"),
	}

	// Source tables are recovered from column prefixes.
	tables := make(map[string]bool)
	for _, name := range f.Columns() {
		if table, _, found := strings.Cut(name, "."); found && table != "" {
			tables[table] = true
		}
	}
	for t := range tables {
		info.SourceTables = append(info.SourceTables, t)
	}
	sort.Strings(info.SourceTables)

	for _, key := range joinKeys {
		col, ok := f.Column(key)
		if !ok {
			continue
		}
		unique := make(map[string]bool)
		for i := 0; i < f.Len(); i++ {
			if !col.IsNull(i) {
				unique[col.ValueString(i)] = true
			}
		}
		info.UniquePatients = len(unique)
		break
	}

	return info
}
