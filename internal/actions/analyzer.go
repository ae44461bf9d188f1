package actions

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/llm"
	"github.com/cohortql/cohortql/internal/schema"
)

const analyzerPrompt = `You are the result analyst of a healthcare cohort
exploration tool. The user has just changed or inspected their patient cohort;
the current cohort schema follows below. Reply with a JSON array of actions:

[{"type": "<action>", "parameters": {...}}, ...]

Available actions and their required parameters:
  print_message         {"message": "<text shown to the user>"}
  name_cohort           {"name": "<cohort name>"}
  save_cohort           {"name": "<file name>"}
  create_visualization  {"request": {"chart_type": "...", "title": "...", ...}}
  show_statistics       {}
  suggestion            {"message": "<text>", "prompt": "<follow-up query>"}

Always include one print_message summarizing the cohort in the user's
language. Suggest a visualization or follow-up filter only when the schema
makes it meaningful. Do not invent column names.`

// Analyzer runs the post-execution phase of a turn: it asks the model
// what to do with the new cohort and executes the returned action batch.
type Analyzer struct {
	client   llm.Client
	schema   schema.Provider
	executor *Executor
	logger   *zap.Logger
}

// NewAnalyzer wires the analysis phase.
func NewAnalyzer(client llm.Client, provider schema.Provider, executor *Executor, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{client: client, schema: provider, executor: executor, logger: logger}
}

// Analyze sends the conversation plus the current cohort schema to the
// model and executes the decoded batch. A rejected batch returns the
// collected reasons as an error; nothing is partially applied.
func (an *Analyzer) Analyze(ctx context.Context, history []llm.Message) ([]string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: analyzerPrompt},
		{Role: llm.RoleSystem, Content: "Current cohort schema:\n" + an.schema.CurrentSchema().Readable()},
	}
	messages = append(messages, history...)

	reply, err := an.client.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("analysis LLM call failed: %w", err)
	}

	batch, ok, reasons := DecodeResponse(reply, an.logger)
	if !ok {
		return nil, fmt.Errorf("action batch rejected: %s", strings.Join(reasons, "; "))
	}

	an.logger.Info("executing action batch", zap.Int("actions", len(batch)))
	return an.executor.Execute(batch), nil
}
