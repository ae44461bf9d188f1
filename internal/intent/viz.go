package intent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ChartType enumerates the supported chart shapes.
type ChartType string

const (
	ChartBar       ChartType = "bar"
	ChartLine      ChartType = "line"
	ChartPie       ChartType = "pie"
	ChartHistogram ChartType = "histogram"
	ChartScatter   ChartType = "scatter"
	ChartBox       ChartType = "box"
)

var chartTypes = map[ChartType]bool{
	ChartBar:       true,
	ChartLine:      true,
	ChartPie:       true,
	ChartHistogram: true,
	ChartScatter:   true,
	ChartBox:       true,
}

// VizRequest describes a single chart over the current cohort.
type VizRequest struct {
	ChartType      ChartType `json:"chart_type"`
	Title          string    `json:"title"`
	XColumn        string    `json:"x_column,omitempty"`
	YColumn        string    `json:"y_column,omitempty"`
	CategoryColumn string    `json:"category_column,omitempty"`
	// Aggregation is one of mean, sum or count when set.
	Aggregation string `json:"aggregation,omitempty"`
}

// VizRequestFromMap builds a request from a decoded payload. The chart
// type is matched case-insensitively; an unknown type is an error.
func VizRequestFromMap(payload map[string]any) (*VizRequest, error) {
	rawType, _ := payload["chart_type"].(string)
	chart := ChartType(strings.ToLower(strings.TrimSpace(rawType)))
	if !chartTypes[chart] {
		return nil, fmt.Errorf("unknown chart type: %q", rawType)
	}

	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}

	return &VizRequest{
		ChartType:      chart,
		Title:          str("title"),
		XColumn:        str("x_column"),
		YColumn:        str("y_column"),
		CategoryColumn: str("category_column"),
		Aggregation:    str("aggregation"),
	}, nil
}

// Validate checks the request against the columns available in the
// cohort. Scatter needs both axes; pie needs an x column.
func (r *VizRequest) Validate(availableColumns []string, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}

	available := make(map[string]bool, len(availableColumns))
	for _, c := range availableColumns {
		available[c] = true
	}

	for _, col := range []string{r.XColumn, r.YColumn, r.CategoryColumn} {
		if col != "" && !available[col] {
			logger.Warn("visualization references unknown column", zap.String("column", col))
			return false
		}
	}

	switch r.ChartType {
	case ChartScatter:
		if r.XColumn == "" || r.YColumn == "" {
			logger.Warn("scatter plot requires both x and y columns")
			return false
		}
	case ChartPie:
		if r.XColumn == "" {
			logger.Warn("pie chart requires a category column")
			return false
		}
	}

	return true
}

func (r *VizRequest) String() string {
	parts := []string{fmt.Sprintf("Chart type: %s", r.ChartType)}
	if r.XColumn != "" {
		parts = append(parts, "X column: "+r.XColumn)
	}
	if r.YColumn != "" {
		parts = append(parts, "Y column: "+r.YColumn)
	}
	if r.CategoryColumn != "" {
		parts = append(parts, "Category: "+r.CategoryColumn)
	}
	if r.Aggregation != "" {
		parts = append(parts, "Aggregation: "+r.Aggregation)
	}
	return strings.Join(parts, " | ")
}
