package actions

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/dataset"
	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/viz"
)

// Executor runs a committed batch against the cohort engine and the
// visualization collaborator. A failing action is reported and skipped;
// the rest of the batch still runs.
type Executor struct {
	manager    *dataset.Manager
	visualizer viz.Visualizer
	outputDir  string
	logger     *zap.Logger
}

// NewExecutor wires an executor. outputDir receives cohort exports.
func NewExecutor(manager *dataset.Manager, visualizer viz.Visualizer, outputDir string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{manager: manager, visualizer: visualizer, outputDir: outputDir, logger: logger}
}

// Execute runs the batch in order and returns the user-visible output
// lines it produced.
func (x *Executor) Execute(batch []Action) []string {
	if len(batch) == 0 {
		return []string{"No actions to process"}
	}

	var out []string
	for _, action := range batch {
		lines, err := x.executeOne(action)
		if err != nil {
			x.logger.Error("action failed",
				zap.String("type", string(action.Type)),
				zap.Error(err))
			out = append(out, fmt.Sprintf("Error executing action: %v", err))
			continue
		}
		out = append(out, lines...)
	}
	return out
}

func (x *Executor) executeOne(action Action) ([]string, error) {
	switch action.Type {
	case TypePrintMessage, TypeSuggestion:
		return []string{action.Message()}, nil

	case TypeNameCohort:
		x.manager.SetCohortName(action.Name())
		return []string{fmt.Sprintf("Cohort named %q", action.Name())}, nil

	case TypeSaveCohort:
		csvPath, schemaPath, err := x.manager.SaveCurrentCohort(x.outputDir, action.Name())
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("Saved current cohort to %s (schema: %s)", csvPath, schemaPath)}, nil

	case TypeCreateVisualization:
		payload, _ := action.Parameters["request"].(map[string]any)
		req, err := intent.VizRequestFromMap(payload)
		if err != nil {
			return nil, fmt.Errorf("building visualization request: %w", err)
		}
		path, err := x.visualizer.Render(x.manager.CurrentCohort(), req)
		if err != nil {
			return nil, fmt.Errorf("rendering visualization: %w", err)
		}
		return []string{fmt.Sprintf("Visualization written to %s", path)}, nil

	case TypeShowStatistics:
		return []string{x.manager.CurrentSchema().Readable()}, nil

	default:
		return nil, fmt.Errorf("unknown action type: %s", action.Type)
	}
}
