// Package intent models the resolved meaning of one user turn: filter
// the cohort, draw a chart, explain the tool, or nothing recognizable.
// Intentions are built once per turn and discarded after execution.
package intent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/query"
	"github.com/cohortql/cohortql/internal/schema"
)

// Type tags the intention union.
type Type string

const (
	TypeCohortFilter  Type = "cohort_filter"
	TypeVisualization Type = "visualization"
	TypeHelp          Type = "help"
	TypeUnknown       Type = "unknown"
)

// FilterTarget selects which table a cohort filter narrows.
type FilterTarget string

const (
	TargetFullDataset   FilterTarget = "full_dataset"
	TargetCurrentCohort FilterTarget = "current_cohort"
)

// Intention is the tagged union. Query and Target are set only for
// cohort filters; Viz only for visualizations.
type Intention struct {
	Type        Type
	Description string
	Query       query.Expr
	Target      FilterTarget
	Viz         *VizRequest

	validationErrors []string
	logger           *zap.Logger
}

// NewCohortFilter builds a filter intention.
func NewCohortFilter(description string, e query.Expr, target FilterTarget) *Intention {
	return &Intention{Type: TypeCohortFilter, Description: description, Query: e, Target: target}
}

// NewVisualization builds a visualization intention.
func NewVisualization(description string, viz *VizRequest) *Intention {
	return &Intention{Type: TypeVisualization, Description: description, Viz: viz}
}

// NewHelp builds a help intention carrying its description verbatim.
func NewHelp(description string) *Intention {
	return &Intention{Type: TypeHelp, Description: description}
}

// NewUnknown marks an unresolvable turn with the reason.
func NewUnknown(description string) *Intention {
	return &Intention{Type: TypeUnknown, Description: description}
}

// normalizeTag maps case and separator variants onto a canonical tag,
// so "Cohort Filter" and "COHORT-FILTER" both resolve.
func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "-", "_")
}

// FromResponse builds an Intention from a decoded LLM payload. Any
// structural problem degrades to Unknown with a descriptive message
// rather than failing the turn.
func FromResponse(payload map[string]any, logger *zap.Logger) *Intention {
	if logger == nil {
		logger = zap.NewNop()
	}

	rawType, _ := payload["intention_type"].(string)
	if rawType == "" {
		logger.Warn("no intention type provided")
		return NewUnknown("No intention type provided")
	}

	var kind Type
	switch normalizeTag(rawType) {
	case string(TypeCohortFilter):
		kind = TypeCohortFilter
	case string(TypeVisualization):
		kind = TypeVisualization
	case string(TypeHelp):
		kind = TypeHelp
	case string(TypeUnknown):
		kind = TypeUnknown
	default:
		logger.Warn("unknown intention type", zap.String("intention_type", rawType))
		return NewUnknown(fmt.Sprintf("Failed to parse intention type: %s", rawType))
	}

	description, _ := payload["description"].(string)

	switch kind {
	case TypeCohortFilter:
		rawTarget, _ := payload["filter_target"].(string)
		if rawTarget == "" {
			logger.Warn("no filter target provided for cohort filter")
			return NewUnknown("No filter target provided")
		}
		var target FilterTarget
		switch normalizeTag(rawTarget) {
		case string(TargetFullDataset):
			target = TargetFullDataset
		case string(TargetCurrentCohort):
			target = TargetCurrentCohort
		default:
			logger.Warn("invalid filter target", zap.String("filter_target", rawTarget))
			return NewUnknown(fmt.Sprintf("Failed to parse filter target: %s", rawTarget))
		}

		queryData, ok := payload["query"].(map[string]any)
		if !ok || len(queryData) == 0 {
			logger.Warn("no query data provided for cohort filter")
			return NewUnknown("No query data provided")
		}
		expr, err := query.FromMap(queryData)
		if err != nil {
			logger.Warn("failed to build query from payload", zap.Error(err))
			return NewUnknown(fmt.Sprintf("Failed to parse query: %v", err))
		}
		return NewCohortFilter(description, expr, target)

	case TypeVisualization:
		vizData, ok := payload["visualizer_request"].(map[string]any)
		if !ok || len(vizData) == 0 {
			logger.Warn("no visualizer request data provided")
			return NewUnknown("No visualizer request data provided")
		}
		if _, present := vizData["title"]; !present {
			title := description
			if title == "" {
				title = "Visualization"
			}
			vizData["title"] = title
		}
		viz, err := VizRequestFromMap(vizData)
		if err != nil {
			logger.Warn("failed to build visualizer request", zap.Error(err))
			return NewUnknown(fmt.Sprintf("Error creating visualizer request: %v", err))
		}
		return NewVisualization(description, viz)

	default:
		return &Intention{Type: kind, Description: description}
	}
}

// WithLogger attaches a logger used by Validate for reason logging.
func (in *Intention) WithLogger(logger *zap.Logger) *Intention {
	in.logger = logger
	return in
}

// Validate checks the intention against the live schema. A nil provider
// degrades to structural checks only. Validation never fails hard; the
// reasons are collected and retrievable via ValidationErrors.
func (in *Intention) Validate(provider schema.Provider) bool {
	in.validationErrors = nil
	logger := in.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if in.Description == "" {
		in.validationErrors = append(in.validationErrors, "Description is required")
	}

	switch in.Type {
	case TypeCohortFilter:
		if in.Query == nil {
			in.validationErrors = append(in.validationErrors, "Query is required for cohort_filter intention")
		}
		if in.Target != TargetFullDataset && in.Target != TargetCurrentCohort {
			in.validationErrors = append(in.validationErrors, "Filter target is required")
		}
		if in.Query != nil && provider != nil {
			s := provider.CurrentSchema()
			if in.Target == TargetFullDataset {
				s = provider.FullSchema()
			}
			if len(s.Columns) == 0 {
				in.validationErrors = append(in.validationErrors, "Could not get schema from data manager")
			} else if !query.Validate(in.Query, s, logger) {
				in.validationErrors = append(in.validationErrors, "Invalid query for the given schema")
			}
		}

	case TypeVisualization:
		if in.Viz == nil {
			in.validationErrors = append(in.validationErrors, "Visualizer request is required for visualization intention")
			break
		}
		if provider == nil {
			// Structural checks only without a schema.
			break
		}
		s := provider.CurrentSchema()
		if len(s.Columns) == 0 {
			in.validationErrors = append(in.validationErrors, "Could not get schema from data manager")
			break
		}
		available := s.ColumnNames()
		if in.Viz.YColumn == "count" {
			available = append(available, "count")
		}
		if !in.Viz.Validate(available, logger) {
			in.validationErrors = append(in.validationErrors, "Invalid visualizer request for current schema")
		}
	}

	return len(in.validationErrors) == 0
}

// ToResponse renders the intention back into the payload shape consumed
// by FromResponse, so cached intentions can be persisted and rebuilt.
func (in *Intention) ToResponse() map[string]any {
	payload := map[string]any{
		"intention_type": string(in.Type),
		"description":    in.Description,
	}
	switch in.Type {
	case TypeCohortFilter:
		payload["filter_target"] = string(in.Target)
		if in.Query != nil {
			payload["query"] = in.Query.ToMap()
		}
	case TypeVisualization:
		if in.Viz != nil {
			viz := map[string]any{
				"chart_type": string(in.Viz.ChartType),
				"title":      in.Viz.Title,
			}
			if in.Viz.XColumn != "" {
				viz["x_column"] = in.Viz.XColumn
			}
			if in.Viz.YColumn != "" {
				viz["y_column"] = in.Viz.YColumn
			}
			if in.Viz.CategoryColumn != "" {
				viz["category_column"] = in.Viz.CategoryColumn
			}
			if in.Viz.Aggregation != "" {
				viz["aggregation"] = in.Viz.Aggregation
			}
			payload["visualizer_request"] = viz
		}
	}
	return payload
}

// ValidationErrors returns the reasons collected by the last Validate.
func (in *Intention) ValidationErrors() []string {
	return append([]string(nil), in.validationErrors...)
}

func (in *Intention) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intention(type=%s, description=%q", in.Type, in.Description)
	switch in.Type {
	case TypeCohortFilter:
		fmt.Fprintf(&b, ", target=%q", in.Target)
		if in.Query != nil {
			fmt.Fprintf(&b, ", query=%s", in.Query.HumanReadable())
		}
	case TypeVisualization:
		if in.Viz != nil {
			fmt.Fprintf(&b, ", visualization=%s", in.Viz)
		}
	}
	b.WriteString(")")
	return b.String()
}
