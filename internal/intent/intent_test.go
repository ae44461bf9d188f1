package intent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/query"
	"github.com/cohortql/cohortql/internal/schema"
)

// stubProvider serves the same schema for both the full dataset and the
// current cohort.
type stubProvider struct {
	s schema.Schema
}

func (p stubProvider) FullSchema() schema.Schema    { return p.s }
func (p stubProvider) CurrentSchema() schema.Schema { return p.s }

func provider() stubProvider {
	return stubProvider{s: schema.Schema{
		Columns: map[string]schema.ColumnInfo{
			"Edad":        {Dtype: schema.DtypeInt64},
			"Descripcion": {Dtype: schema.DtypeObject},
		},
	}}
}

func filterPayload() map[string]any {
	return map[string]any{
		"intention_type": "cohort_filter",
		"description":    "Pacientes mayores de 60",
		"filter_target":  "full_dataset",
		"query": map[string]any{
			"field": "Edad", "operation": "greater_than", "value": 60,
		},
	}
}

func TestFromResponseCohortFilter(t *testing.T) {
	in := intent.FromResponse(filterPayload(), nil)

	require.Equal(t, intent.TypeCohortFilter, in.Type)
	assert.Equal(t, "Pacientes mayores de 60", in.Description)
	assert.Equal(t, intent.TargetFullDataset, in.Target)
	require.NotNil(t, in.Query)
	assert.Equal(t, "Edad es mayor que 60", in.Query.HumanReadable())
}

func TestFromResponseNormalizesTags(t *testing.T) {
	tests := []struct {
		name          string
		intentionType string
		target        string
	}{
		{"upper with spaces", "COHORT FILTER", "Full Dataset"},
		{"hyphenated", "cohort-filter", "current-cohort"},
		{"padded", " cohort_filter ", " current_cohort "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := filterPayload()
			payload["intention_type"] = tt.intentionType
			payload["filter_target"] = tt.target

			in := intent.FromResponse(payload, nil)
			assert.Equal(t, intent.TypeCohortFilter, in.Type)
		})
	}
}

func TestFromResponseDegradesToUnknown(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(map[string]any)
		description string
	}{
		{
			"missing type",
			func(p map[string]any) { delete(p, "intention_type") },
			"No intention type provided",
		},
		{
			"unrecognized type",
			func(p map[string]any) { p["intention_type"] = "delete_everything" },
			"Failed to parse intention type: delete_everything",
		},
		{
			"missing target",
			func(p map[string]any) { delete(p, "filter_target") },
			"No filter target provided",
		},
		{
			"invalid target",
			func(p map[string]any) { p["filter_target"] = "some_table" },
			"Failed to parse filter target: some_table",
		},
		{
			"missing query",
			func(p map[string]any) { delete(p, "query") },
			"No query data provided",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := filterPayload()
			tt.mutate(payload)

			in := intent.FromResponse(payload, nil)
			assert.Equal(t, intent.TypeUnknown, in.Type)
			assert.Equal(t, tt.description, in.Description)
		})
	}
}

func TestFromResponseVisualization(t *testing.T) {
	t.Run("complete request", func(t *testing.T) {
		in := intent.FromResponse(map[string]any{
			"intention_type": "visualization",
			"description":    "Distribución de edades",
			"visualizer_request": map[string]any{
				"chart_type": "Histogram",
				"title":      "Edades",
				"x_column":   "Edad",
			},
		}, nil)

		require.Equal(t, intent.TypeVisualization, in.Type)
		require.NotNil(t, in.Viz)
		assert.Equal(t, intent.ChartHistogram, in.Viz.ChartType)
		assert.Equal(t, "Edades", in.Viz.Title)
	})

	t.Run("missing title falls back to description", func(t *testing.T) {
		in := intent.FromResponse(map[string]any{
			"intention_type": "visualization",
			"description":    "Distribución de edades",
			"visualizer_request": map[string]any{
				"chart_type": "bar",
				"x_column":   "Edad",
			},
		}, nil)

		require.NotNil(t, in.Viz)
		assert.Equal(t, "Distribución de edades", in.Viz.Title)
	})

	t.Run("unknown chart type degrades to unknown", func(t *testing.T) {
		in := intent.FromResponse(map[string]any{
			"intention_type": "visualization",
			"visualizer_request": map[string]any{
				"chart_type": "hologram",
			},
		}, nil)
		assert.Equal(t, intent.TypeUnknown, in.Type)
	})
}

func TestValidateCohortFilter(t *testing.T) {
	t.Run("valid against schema", func(t *testing.T) {
		in := intent.NewCohortFilter("mayores",
			query.NewLeaf("Edad", query.OpGreaterThan, 60), intent.TargetFullDataset)
		assert.True(t, in.Validate(provider()))
		assert.Empty(t, in.ValidationErrors())
	})

	t.Run("unknown column fails", func(t *testing.T) {
		in := intent.NewCohortFilter("mayores",
			query.NewLeaf("Missing", query.OpGreaterThan, 60), intent.TargetFullDataset)
		assert.False(t, in.Validate(provider()))
		assert.Contains(t, in.ValidationErrors(), "Invalid query for the given schema")
	})

	t.Run("missing description fails", func(t *testing.T) {
		in := intent.NewCohortFilter("",
			query.NewLeaf("Edad", query.OpGreaterThan, 60), intent.TargetFullDataset)
		assert.False(t, in.Validate(provider()))
	})

	t.Run("missing query fails", func(t *testing.T) {
		in := intent.NewCohortFilter("mayores", nil, intent.TargetFullDataset)
		assert.False(t, in.Validate(provider()))
	})

	t.Run("revalidation resets collected errors", func(t *testing.T) {
		in := intent.NewCohortFilter("mayores",
			query.NewLeaf("Edad", query.OpGreaterThan, 60), intent.TargetFullDataset)
		require.True(t, in.Validate(provider()))
		require.True(t, in.Validate(provider()))
		assert.Empty(t, in.ValidationErrors())
	})
}

func TestValidateVisualization(t *testing.T) {
	t.Run("columns must exist in cohort", func(t *testing.T) {
		in := intent.NewVisualization("edades",
			&intent.VizRequest{ChartType: intent.ChartHistogram, Title: "Edades", XColumn: "Altura"})
		assert.False(t, in.Validate(provider()))
	})

	t.Run("scatter requires both axes", func(t *testing.T) {
		in := intent.NewVisualization("dispersión",
			&intent.VizRequest{ChartType: intent.ChartScatter, Title: "x", XColumn: "Edad"})
		assert.False(t, in.Validate(provider()))
	})

	t.Run("pie requires a category column", func(t *testing.T) {
		in := intent.NewVisualization("tarta",
			&intent.VizRequest{ChartType: intent.ChartPie, Title: "x"})
		assert.False(t, in.Validate(provider()))
	})

	t.Run("count is always a legal y column", func(t *testing.T) {
		in := intent.NewVisualization("conteo",
			&intent.VizRequest{ChartType: intent.ChartBar, Title: "x", XColumn: "Descripcion", YColumn: "count"})
		assert.True(t, in.Validate(provider()))
	})

	t.Run("nil provider does structural checks only", func(t *testing.T) {
		in := intent.NewVisualization("edades",
			&intent.VizRequest{ChartType: intent.ChartHistogram, Title: "x", XColumn: "Inexistente"})
		assert.True(t, in.Validate(nil))
	})
}

func TestToResponseRoundTrip(t *testing.T) {
	t.Run("cohort filter", func(t *testing.T) {
		original := intent.NewCohortFilter("mayores",
			query.NewLeaf("Edad", query.OpGreaterThan, 60), intent.TargetCurrentCohort)

		rebuilt := intent.FromResponse(original.ToResponse(), nil)
		require.Equal(t, intent.TypeCohortFilter, rebuilt.Type)
		assert.Equal(t, original.Description, rebuilt.Description)
		assert.Equal(t, original.Target, rebuilt.Target)
		assert.Equal(t, original.Query.HumanReadable(), rebuilt.Query.HumanReadable())
	})

	t.Run("visualization", func(t *testing.T) {
		original := intent.NewVisualization("edades", &intent.VizRequest{
			ChartType: intent.ChartScatter,
			Title:     "Peso frente a edad",
			XColumn:   "Edad",
			YColumn:   "Peso",
		})

		rebuilt := intent.FromResponse(original.ToResponse(), nil)
		require.Equal(t, intent.TypeVisualization, rebuilt.Type)
		assert.Equal(t, original.Viz, rebuilt.Viz)
	})

	t.Run("help", func(t *testing.T) {
		rebuilt := intent.FromResponse(intent.NewHelp("Cómo usar la herramienta").ToResponse(), nil)
		assert.Equal(t, intent.TypeHelp, rebuilt.Type)
		assert.Equal(t, "Cómo usar la herramienta", rebuilt.Description)
	})
}

func TestIntentionString(t *testing.T) {
	in := intent.NewCohortFilter("mayores",
		query.NewLeaf("Edad", query.OpGreaterThan, 60), intent.TargetFullDataset)
	s := in.String()
	assert.Contains(t, s, "cohort_filter")
	assert.Contains(t, s, "Edad es mayor que 60")
}
