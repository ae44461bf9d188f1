// Package exec dispatches validated intentions to the cohort engine or
// the visualization collaborator. It is the error boundary of the
// pipeline: every failure comes back as a structured Result, never as a
// propagated error.
package exec

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/dataset"
	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/viz"
)

// Result is the outcome of one intention execution.
type Result struct {
	Success bool        `json:"success"`
	Kind    intent.Type `json:"kind,omitempty"`
	// Message carries user-facing text for help/unknown intentions.
	Message string `json:"message,omitempty"`
	// Errors holds validation reasons or the single execution error.
	Errors []string `json:"errors,omitempty"`
	// CohortSize is the row count after a successful filter.
	CohortSize int `json:"cohort_size,omitempty"`
	// Artifacts lists output file locations produced by visualizations.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Executor routes intentions. The manager provides both schema
// snapshots, so validation always runs against the target-appropriate
// one.
type Executor struct {
	manager    *dataset.Manager
	visualizer viz.Visualizer
	logger     *zap.Logger
}

// NewExecutor wires the dispatcher.
func NewExecutor(manager *dataset.Manager, visualizer viz.Visualizer, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{manager: manager, visualizer: visualizer, logger: logger}
}

// Execute validates the intention against the live schema and runs it.
// State is mutated only after validation passes.
func (x *Executor) Execute(in *intent.Intention) Result {
	if in == nil {
		return Result{Success: false, Errors: []string{"nil intention"}}
	}

	if !in.WithLogger(x.logger).Validate(x.manager) {
		x.logger.Warn("intention failed validation",
			zap.String("intention", in.String()),
			zap.Strings("reasons", in.ValidationErrors()))
		return Result{Success: false, Kind: in.Type, Errors: in.ValidationErrors()}
	}

	switch in.Type {
	case intent.TypeCohortFilter:
		return x.executeFilter(in)
	case intent.TypeVisualization:
		return x.executeVisualization(in)
	case intent.TypeHelp, intent.TypeUnknown:
		// No state mutation; the description travels back verbatim.
		return Result{Success: true, Kind: in.Type, Message: in.Description}
	default:
		return Result{Success: false, Errors: []string{fmt.Sprintf("unsupported intention type: %s", in.Type)}}
	}
}

func (x *Executor) executeFilter(in *intent.Intention) Result {
	if in.Target == intent.TargetFullDataset {
		x.logger.Debug("resetting cohort to full dataset")
		x.manager.ResetToFull()
	}

	before := x.manager.CohortSize()
	if err := x.manager.ApplyQueryOnCurrentCohort(in.Query); err != nil {
		// Execution failures on a validated expression are programming
		// invariant violations; log the detail, surface a generic error.
		x.logger.Error("query execution failed",
			zap.String("criteria", in.Query.HumanReadable()),
			zap.Error(err))
		return Result{Success: false, Kind: in.Type, Errors: []string{"query execution failed"}}
	}

	after := x.manager.CohortSize()
	x.logger.Info("cohort filter executed",
		zap.Int("rows_before", before),
		zap.Int("rows_after", after))
	return Result{Success: true, Kind: in.Type, CohortSize: after}
}

func (x *Executor) executeVisualization(in *intent.Intention) Result {
	path, err := x.visualizer.Render(x.manager.CurrentCohort(), in.Viz)
	if err != nil {
		x.logger.Error("visualization failed", zap.Error(err))
		return Result{Success: false, Kind: in.Type, Errors: []string{"visualization failed"}}
	}
	return Result{Success: true, Kind: in.Type, Artifacts: []string{path}}
}
