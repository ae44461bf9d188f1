package exec_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortql/cohortql/internal/dataset"
	"github.com/cohortql/cohortql/internal/exec"
	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/query"
	"github.com/cohortql/cohortql/internal/series"
)

type stubVisualizer struct {
	path string
	err  error
}

func (v *stubVisualizer) Render(*dataset.Frame, *intent.VizRequest) (string, error) {
	return v.path, v.err
}

func newFixture(t *testing.T) (*exec.Executor, *dataset.Manager, *stubVisualizer) {
	t.Helper()
	f := dataset.NewFrame(
		series.NewString("Patient ID", []string{"P001", "P002", "P003", "P004"}, nil, nil),
		series.NewInt64("Edad", []int64{72, 45, 61, 33}, nil, nil),
		series.NewString("Genero", []string{"Mujer", "Hombre", "Mujer", "Hombre"}, nil, nil),
	)
	manager := dataset.NewManagerFromFrame(f, dataset.ManagerConfig{
		Loader: dataset.LoaderOptions{PatientIDColumn: "Patient ID"},
	})
	visualizer := &stubVisualizer{path: "output/chart.json"}
	return exec.NewExecutor(manager, visualizer, nil), manager, visualizer
}

func TestExecuteFilterOnFullDataset(t *testing.T) {
	executor, manager, _ := newFixture(t)

	// Narrow first so the full-dataset target proves it resets.
	require.NoError(t, manager.ApplyQueryOnCurrentCohort(
		query.NewLeaf("Genero", query.OpEquals, "Mujer")))
	require.Equal(t, 2, manager.CohortSize())

	result := executor.Execute(intent.NewCohortFilter("mayores de 40",
		query.NewLeaf("Edad", query.OpGreaterThan, 40), intent.TargetFullDataset))

	require.True(t, result.Success)
	assert.Equal(t, intent.TypeCohortFilter, result.Kind)
	assert.Equal(t, 3, result.CohortSize)
	assert.Equal(t, 3, manager.CohortSize())
}

func TestExecuteFilterOnCurrentCohort(t *testing.T) {
	executor, manager, _ := newFixture(t)

	first := executor.Execute(intent.NewCohortFilter("mayores de 40",
		query.NewLeaf("Edad", query.OpGreaterThan, 40), intent.TargetFullDataset))
	require.True(t, first.Success)

	second := executor.Execute(intent.NewCohortFilter("solo mujeres",
		query.NewLeaf("Genero", query.OpEquals, "Mujer"), intent.TargetCurrentCohort))
	require.True(t, second.Success)
	assert.Equal(t, 2, second.CohortSize)
	assert.Equal(t, 2, manager.CohortSize())
}

func TestExecuteRejectsInvalidIntention(t *testing.T) {
	executor, manager, _ := newFixture(t)

	result := executor.Execute(intent.NewCohortFilter("campo inexistente",
		query.NewLeaf("Altura", query.OpGreaterThan, 170), intent.TargetFullDataset))

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	// Validation failures never touch the cohort.
	assert.Equal(t, 4, manager.CohortSize())
}

func TestExecuteNilIntention(t *testing.T) {
	executor, _, _ := newFixture(t)
	result := executor.Execute(nil)
	assert.False(t, result.Success)
}

func TestExecuteVisualization(t *testing.T) {
	executor, _, visualizer := newFixture(t)

	t.Run("success returns artifact", func(t *testing.T) {
		result := executor.Execute(intent.NewVisualization("edades", &intent.VizRequest{
			ChartType: intent.ChartHistogram, Title: "Edades", XColumn: "Edad",
		}))
		require.True(t, result.Success)
		assert.Equal(t, []string{"output/chart.json"}, result.Artifacts)
	})

	t.Run("renderer failure is contained", func(t *testing.T) {
		visualizer.err = errors.New("disk full")
		result := executor.Execute(intent.NewVisualization("edades", &intent.VizRequest{
			ChartType: intent.ChartHistogram, Title: "Edades", XColumn: "Edad",
		}))
		assert.False(t, result.Success)
		assert.Equal(t, []string{"visualization failed"}, result.Errors)
	})
}

func TestExecuteHelpAndUnknown(t *testing.T) {
	executor, _, _ := newFixture(t)

	help := executor.Execute(intent.NewHelp("Escribe una consulta en lenguaje natural"))
	require.True(t, help.Success)
	assert.Equal(t, "Escribe una consulta en lenguaje natural", help.Message)

	unknown := executor.Execute(intent.NewUnknown("No query data provided"))
	require.True(t, unknown.Success)
	assert.Equal(t, intent.TypeUnknown, unknown.Kind)
}
