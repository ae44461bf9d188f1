package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/series"
)

const (
	trueStr  = "true"
	falseStr = "false"
)

// datetimeLayouts are tried in order when inferring and parsing date
// columns and query operands.
var datetimeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
}

// ReadCSV reads one delimited file into a frame, inferring a column type
// from its values (bool, int64, float64, datetime, else string). Empty
// cells become nulls.
func ReadCSV(r io.Reader, mem memory.Allocator) (*Frame, error) {
	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return NewFrame(), nil
	}

	headers := records[0]
	dataRows := records[1:]

	// Transpose to work with columns.
	numCols := len(headers)
	columns := make([][]string, numCols)
	for i := 0; i < numCols; i++ {
		columns[i] = make([]string, len(dataRows))
		for j, row := range dataRows {
			if i < len(row) {
				columns[i][j] = row[i]
			}
		}
	}

	cols := make([]series.Series, 0, numCols)
	for i, header := range headers {
		s, err := seriesFromStrings(header, columns[i], mem)
		if err != nil {
			for _, built := range cols {
				built.Release()
			}
			return nil, fmt.Errorf("creating series for column %s: %w", header, err)
		}
		cols = append(cols, s)
	}

	return NewFrame(cols...), nil
}

// WriteCSV writes the frame as a delimited file with a header row; null
// cells are written empty.
func WriteCSV(f *Frame, w io.Writer) error {
	csvWriter := csv.NewWriter(w)

	if err := csvWriter.Write(f.Columns()); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	names := f.Columns()
	row := make([]string, len(names))
	for i := 0; i < f.Len(); i++ {
		for j, name := range names {
			col, _ := f.Column(name)
			row[j] = col.ValueString(i)
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", i, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func seriesFromStrings(name string, data []string, mem memory.Allocator) (series.Series, error) {
	switch inferDataType(data) {
	case "bool":
		values := make([]bool, len(data))
		valid := make([]bool, len(data))
		for i, v := range data {
			if v == "" {
				continue
			}
			values[i] = strings.EqualFold(v, trueStr)
			valid[i] = true
		}
		return series.NewBool(name, values, valid, mem), nil
	case "int":
		values := make([]int64, len(data))
		valid := make([]bool, len(data))
		for i, v := range data {
			if v == "" {
				continue
			}
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %q as int64: %w", v, err)
			}
			values[i] = parsed
			valid[i] = true
		}
		return series.NewInt64(name, values, valid, mem), nil
	case "float":
		values := make([]float64, len(data))
		valid := make([]bool, len(data))
		for i, v := range data {
			if v == "" {
				continue
			}
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %q as float64: %w", v, err)
			}
			values[i] = parsed
			valid[i] = true
		}
		return series.NewFloat64(name, values, valid, mem), nil
	case "datetime":
		values := make([]time.Time, len(data))
		valid := make([]bool, len(data))
		for i, v := range data {
			if v == "" {
				continue
			}
			parsed, ok := parseDatetime(v)
			if !ok {
				return nil, fmt.Errorf("parsing %q as datetime", v)
			}
			values[i] = parsed
			valid[i] = true
		}
		return series.NewTimestamp(name, values, valid, mem), nil
	default:
		valid := make([]bool, len(data))
		for i, v := range data {
			valid[i] = v != ""
		}
		return series.NewString(name, data, valid, mem), nil
	}
}

// inferDataType determines the most specific type every non-empty value
// of a column satisfies.
func inferDataType(data []string) string {
	canBeInt := true
	canBeFloat := true
	canBeBool := true
	canBeDatetime := true
	hasValue := false

	for _, value := range data {
		if value == "" {
			continue
		}
		hasValue = true

		if canBeBool {
			lower := strings.ToLower(value)
			if lower != trueStr && lower != falseStr {
				canBeBool = false
			}
		}

		if canBeInt {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				canBeInt = false
			}
		}

		if canBeFloat {
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				canBeFloat = false
			}
		}

		if canBeDatetime {
			if _, ok := parseDatetime(value); !ok {
				canBeDatetime = false
			}
		}
	}

	if !hasValue {
		return "string"
	}

	switch {
	case canBeBool:
		return "bool"
	case canBeInt:
		return "int"
	case canBeFloat:
		return "float"
	case canBeDatetime:
		return "datetime"
	default:
		return "string"
	}
}

func parseDatetime(value string) (time.Time, bool) {
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LoaderOptions configure directory loading and merging.
type LoaderOptions struct {
	// PatientIDColumn and PatientIDAlternatives are the join key
	// candidates, tried in order. Join keys are never prefixed.
	PatientIDColumn       string
	PatientIDAlternatives []string
	// BaseTable is preferred as the merge base when present;
	// otherwise the first table (sorted by name) is used.
	BaseTable string
}

// JoinKeys returns the ordered join key candidates.
func (o LoaderOptions) JoinKeys() []string {
	return append([]string{o.PatientIDColumn}, o.PatientIDAlternatives...)
}

// LoadDir reads every *.csv file in dir, prefixes non-join-key columns
// with "<table>." and left-merges all tables onto the base table by the
// first shared join key candidate. Tables with no shared key are skipped
// with a warning.
func LoadDir(dir string, opts LoaderOptions, mem memory.Allocator, logger *zap.Logger) (*Frame, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("listing CSV files in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no CSV files found in %s", dir)
	}
	sort.Strings(paths)

	tables := make(map[string]*Frame, len(paths))
	names := make([]string, 0, len(paths))
	for _, path := range paths {
		table := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		frame, err := ReadCSV(file, mem)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		tables[table] = prefixColumns(frame, table, opts.JoinKeys())
		names = append(names, table)
		logger.Debug("loaded source table",
			zap.String("table", table),
			zap.Int("rows", tables[table].Len()),
			zap.Int("columns", tables[table].Width()))
	}

	base := opts.BaseTable
	if _, ok := tables[base]; !ok {
		base = names[0]
	}
	logger.Debug("starting merge", zap.String("base", base))

	result := tables[base]
	for _, name := range names {
		if name == base {
			continue
		}
		table := tables[name]

		key := sharedJoinKey(result, table, opts.JoinKeys())
		if key == "" {
			logger.Warn("no join key found for table, skipping",
				zap.String("table", name),
				zap.Strings("columns", table.Columns()))
			continue
		}

		logger.Info("merging table", zap.String("table", name), zap.String("key", key))
		result = leftMerge(result, table, key, mem)
	}

	return result, nil
}

// prefixColumns renames every non-join-key column to "<table>.<column>",
// unless it already carries the prefix.
func prefixColumns(f *Frame, table string, joinKeys []string) *Frame {
	keySet := make(map[string]bool, len(joinKeys))
	for _, k := range joinKeys {
		keySet[k] = true
	}

	cols := make([]series.Series, 0, f.Width())
	for _, name := range f.Columns() {
		col, _ := f.Column(name)
		if keySet[name] || strings.HasPrefix(name, table+".") {
			cols = append(cols, col)
			continue
		}
		cols = append(cols, series.Rename(col, table+"."+name))
	}
	return NewFrame(cols...)
}

func sharedJoinKey(left, right *Frame, candidates []string) string {
	for _, key := range candidates {
		if left.HasColumn(key) && right.HasColumn(key) {
			return key
		}
	}
	return ""
}

// leftMerge joins right onto left by key. Every left row appears once
// per matching right row, or once with nulls when unmatched.
func leftMerge(left, right *Frame, key string, mem memory.Allocator) *Frame {
	rightKey, _ := right.Column(key)

	rightIndex := make(map[string][]int, right.Len())
	for i := 0; i < right.Len(); i++ {
		if rightKey.IsNull(i) {
			continue
		}
		k := rightKey.ValueString(i)
		rightIndex[k] = append(rightIndex[k], i)
	}

	leftKey, _ := left.Column(key)
	var leftIdx, rightIdx []int
	for i := 0; i < left.Len(); i++ {
		var matches []int
		if !leftKey.IsNull(i) {
			matches = rightIndex[leftKey.ValueString(i)]
		}
		if len(matches) == 0 {
			leftIdx = append(leftIdx, i)
			rightIdx = append(rightIdx, -1)
			continue
		}
		for _, m := range matches {
			leftIdx = append(leftIdx, i)
			rightIdx = append(rightIdx, m)
		}
	}

	cols := make([]series.Series, 0, left.Width()+right.Width()-1)
	for _, name := range left.Columns() {
		col, _ := left.Column(name)
		cols = append(cols, col.Take(leftIdx, mem))
	}
	for _, name := range right.Columns() {
		if name == key {
			continue
		}
		col, _ := right.Column(name)
		cols = append(cols, col.Take(rightIdx, mem))
	}

	return NewFrame(cols...)
}
