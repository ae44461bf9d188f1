package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortql/cohortql/internal/actions"
	"github.com/cohortql/cohortql/internal/app"
	"github.com/cohortql/cohortql/internal/dataset"
	"github.com/cohortql/cohortql/internal/exec"
	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/llm"
	"github.com/cohortql/cohortql/internal/preparse"
	"github.com/cohortql/cohortql/internal/series"
)

// scriptedClient replays one fixed reply and counts invocations.
type scriptedClient struct {
	reply string
	err   error
	calls int
}

func (c *scriptedClient) Chat(_ context.Context, _ []llm.Message) (string, error) {
	c.calls++
	return c.reply, c.err
}

type nopVisualizer struct{}

func (nopVisualizer) Render(*dataset.Frame, *intent.VizRequest) (string, error) {
	return "output/chart.json", nil
}

const filterReply = `{"intention_type": "cohort_filter",
 "description": "pacientes de más de 60 años",
 "filter_target": "full_dataset",
 "query": {"field": "Edad", "operation": "greater_than", "value": 60}}`

func newTestApp(t *testing.T, client llm.Client, analyzerClient llm.Client) (*app.App, *dataset.Manager) {
	t.Helper()
	f := dataset.NewFrame(
		series.NewString("Patient ID", []string{"P001", "P002", "P003"}, nil, nil),
		series.NewInt64("Edad", []int64{72, 45, 61}, nil, nil),
	)
	manager := dataset.NewManagerFromFrame(f, dataset.ManagerConfig{
		Loader: dataset.LoaderOptions{PatientIDColumn: "Patient ID"},
	})

	preparser := preparse.New(10, nil)
	parser := llm.NewParser(client, manager, nil)
	dispatcher := exec.NewExecutor(manager, nopVisualizer{}, nil)

	var analyzer *actions.Analyzer
	if analyzerClient != nil {
		executor := actions.NewExecutor(manager, nopVisualizer{}, t.TempDir(), nil)
		analyzer = actions.NewAnalyzer(analyzerClient, manager, executor, nil)
	}

	return app.New(preparser, parser, dispatcher, manager, analyzer, 0, nil), manager
}

func TestProcessTurnFastPath(t *testing.T) {
	client := &scriptedClient{}
	a, manager := newTestApp(t, client, nil)

	result := a.ProcessTurn(context.Background(), "pacientes con edad mayor a 60")

	assert.True(t, result.FromCache)
	require.True(t, result.Result.Success)
	assert.Equal(t, 2, result.Result.CohortSize)
	assert.Equal(t, 2, manager.CohortSize())
	assert.Zero(t, client.calls, "regex fast path must not reach the LLM")
	assert.NotEmpty(t, result.TurnID)
}

func TestProcessTurnLLMPathPopulatesCache(t *testing.T) {
	client := &scriptedClient{reply: filterReply}
	a, _ := newTestApp(t, client, nil)

	first := a.ProcessTurn(context.Background(), "quiero ver solo a los pacientes mayores")
	require.True(t, first.Result.Success)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, client.calls)

	// The identical input now resolves from the cache.
	second := a.ProcessTurn(context.Background(), "quiero ver solo a los pacientes mayores")
	require.True(t, second.Result.Success)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, client.calls)
}

func TestProcessTurnLLMFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	a, manager := newTestApp(t, client, nil)

	result := a.ProcessTurn(context.Background(), "algo complicado")

	assert.False(t, result.Result.Success)
	assert.Equal(t, []string{"could not interpret the request"}, result.Result.Errors)
	assert.Equal(t, 3, manager.CohortSize(), "a failed turn must not touch the cohort")
}

func TestProcessTurnRunsAnalysisAfterFilter(t *testing.T) {
	analyzerClient := &scriptedClient{
		reply: `[{"type": "print_message", "parameters": {"message": "Quedan 2 pacientes en el cohorte"}}]`,
	}
	a, _ := newTestApp(t, &scriptedClient{}, analyzerClient)

	result := a.ProcessTurn(context.Background(), "pacientes con edad mayor a 60")

	require.True(t, result.Result.Success)
	assert.Equal(t, 1, analyzerClient.calls)
	assert.Equal(t, []string{"Quedan 2 pacientes en el cohorte"}, result.Analysis)
}

func TestProcessTurnAnalysisFailureIsBestEffort(t *testing.T) {
	analyzerClient := &scriptedClient{reply: "no structured output"}
	a, manager := newTestApp(t, &scriptedClient{}, analyzerClient)

	result := a.ProcessTurn(context.Background(), "pacientes con edad mayor a 60")

	require.True(t, result.Result.Success, "the filter stands even when analysis fails")
	assert.Empty(t, result.Analysis)
	assert.Equal(t, 2, manager.CohortSize())
}

func TestProcessTurnSkipsAnalysisForNonFilters(t *testing.T) {
	client := &scriptedClient{reply: `{"intention_type": "help", "description": "Escribe una consulta"}`}
	analyzerClient := &scriptedClient{}
	a, _ := newTestApp(t, client, analyzerClient)

	result := a.ProcessTurn(context.Background(), "ayuda")

	require.True(t, result.Result.Success)
	assert.Zero(t, analyzerClient.calls)
}

func TestResetAndSaveCohort(t *testing.T) {
	a, manager := newTestApp(t, &scriptedClient{}, nil)

	require.True(t, a.ProcessTurn(context.Background(), "pacientes con edad mayor a 60").Result.Success)
	require.Equal(t, 2, manager.CohortSize())

	a.ResetCohort()
	assert.Equal(t, 3, manager.CohortSize())

	csvPath, schemaPath, err := a.SaveCohort(t.TempDir(), "todos")
	require.NoError(t, err)
	assert.Contains(t, csvPath, "todos.csv")
	assert.Contains(t, schemaPath, "todos_schema.txt")
}

func TestHistoryIsBounded(t *testing.T) {
	f := dataset.NewFrame(
		series.NewString("Patient ID", []string{"P001"}, nil, nil),
		series.NewInt64("Edad", []int64{72}, nil, nil),
	)
	manager := dataset.NewManagerFromFrame(f, dataset.ManagerConfig{
		Loader: dataset.LoaderOptions{PatientIDColumn: "Patient ID"},
	})
	client := &scriptedClient{reply: `{"intention_type": "help", "description": "ok"}`}
	a := app.New(preparse.New(10, nil), llm.NewParser(client, manager, nil),
		exec.NewExecutor(manager, nopVisualizer{}, nil), manager, nil, 4, nil)

	for i := 0; i < 10; i++ {
		a.ProcessTurn(context.Background(), "consulta nueva sin patrones")
	}
	assert.Len(t, a.History(), 4)
}
