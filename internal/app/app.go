// Package app coordinates one user turn end to end: preparse, the LLM
// suspension point, cache update, validation and dispatch. Turns are
// serialized; cohort and cache are single-writer resources.
package app

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/actions"
	"github.com/cohortql/cohortql/internal/dataset"
	"github.com/cohortql/cohortql/internal/exec"
	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/llm"
	"github.com/cohortql/cohortql/internal/preparse"
)

// DefaultHistoryLimit bounds the chat messages carried as LLM context.
const DefaultHistoryLimit = 20

// TurnResult is what one processed turn reports back to the interface.
type TurnResult struct {
	TurnID string `json:"turn_id"`
	Input  string `json:"input"`
	// FromCache is true when the turn never reached the LLM.
	FromCache bool        `json:"from_cache"`
	Intention string      `json:"intention,omitempty"`
	Result    exec.Result `json:"result"`
	// Analysis carries the output lines of the post-execution action
	// batch, when the analysis phase ran.
	Analysis []string `json:"analysis,omitempty"`
}

// App wires the pipeline components and serializes turns.
type App struct {
	mu sync.Mutex

	preparser *preparse.Preparser
	parser    *llm.Parser
	executor  *exec.Executor
	manager   *dataset.Manager
	// analyzer is optional; without it turns skip the analysis phase.
	analyzer *actions.Analyzer

	history      []llm.Message
	historyLimit int

	logger *zap.Logger
}

// New assembles an App. historyLimit <= 0 selects DefaultHistoryLimit;
// analyzer may be nil to disable the analysis phase.
func New(preparser *preparse.Preparser, parser *llm.Parser, executor *exec.Executor,
	manager *dataset.Manager, analyzer *actions.Analyzer, historyLimit int, logger *zap.Logger) *App {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		preparser:    preparser,
		parser:       parser,
		executor:     executor,
		manager:      manager,
		analyzer:     analyzer,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// ProcessTurn resolves and executes one user input. The mutex makes the
// whole turn exclusive, including the LLM suspension point, so no other
// turn can mutate the cohort or cache while this one is in flight.
func (a *App) ProcessTurn(ctx context.Context, text string) TurnResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	turnID := uuid.NewString()
	logger := a.logger.With(zap.String("turn_id", turnID))
	logger.Info("processing turn", zap.String("input", text))

	a.appendHistory(llm.Message{Role: llm.RoleUser, Content: text})

	resolved, needsLLM := a.preparser.Preparse(text)
	fromCache := !needsLLM

	if needsLLM {
		in, err := a.parser.ProcessMessages(ctx, a.history)
		if err != nil {
			logger.Error("turn failed at LLM boundary", zap.Error(err))
			return TurnResult{
				TurnID: turnID,
				Input:  text,
				Result: exec.Result{Success: false, Errors: []string{"could not interpret the request"}},
			}
		}
		a.preparser.UpdateCache(text, in)
		resolved = in
	}

	result := a.executor.Execute(resolved)
	a.appendHistory(llm.Message{Role: llm.RoleAssistant, Content: resolved.String()})

	var analysis []string
	if a.analyzer != nil && result.Success && resolved.Type == intent.TypeCohortFilter {
		lines, err := a.analyzer.Analyze(ctx, a.history)
		if err != nil {
			// Analysis is best-effort; the filter already succeeded.
			logger.Warn("analysis phase skipped", zap.Error(err))
		} else {
			analysis = lines
		}
	}

	logger.Info("turn complete",
		zap.Bool("from_cache", fromCache),
		zap.Bool("success", result.Success),
		zap.Int("cohort_rows", a.manager.CohortSize()))

	return TurnResult{
		TurnID:    turnID,
		Input:     text,
		FromCache: fromCache,
		Intention: resolved.String(),
		Result:    result,
		Analysis:  analysis,
	}
}

// ResetCohort discards accumulated narrowing.
func (a *App) ResetCohort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manager.ResetToFull()
}

// SaveCohort exports the current cohort under the given directory.
func (a *App) SaveCohort(dir, name string) (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager.SaveCurrentCohort(dir, name)
}

// History returns a copy of the retained conversation.
func (a *App) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

func (a *App) appendHistory(m llm.Message) {
	a.history = append(a.history, m)
	if len(a.history) > a.historyLimit {
		a.history = a.history[len(a.history)-a.historyLimit:]
	}
}
