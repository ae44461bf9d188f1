// Package actions decodes and runs the action batches the LLM emits in
// the analysis phase of a turn. Decoding is all-or-nothing: one invalid
// action rejects the whole batch.
package actions

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Type enumerates the actions the model may request.
type Type string

const (
	TypePrintMessage        Type = "print_message"
	TypeNameCohort          Type = "name_cohort"
	TypeSaveCohort          Type = "save_cohort"
	TypeCreateVisualization Type = "create_visualization"
	TypeShowStatistics      Type = "show_statistics"
	TypeSuggestion          Type = "suggestion"
)

// Action is one decoded batch element.
type Action struct {
	Type       Type           `json:"type"`
	Parameters map[string]any `json:"parameters"`
}

// Message returns the "message" parameter, empty if absent.
func (a Action) Message() string {
	s, _ := a.Parameters["message"].(string)
	return s
}

// Name returns the "name" parameter, empty if absent.
func (a Action) Name() string {
	s, _ := a.Parameters["name"].(string)
	return s
}

// DecodeResponse extracts the JSON array embedded in the model reply
// (first '[' to last ']') and validates every element before committing.
// On any failure it returns ok=false with the collected reasons and an
// empty action list, never a partial batch.
func DecodeResponse(text string, logger *zap.Logger) (batch []Action, ok bool, reasons []string) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if strings.TrimSpace(text) == "" {
		return nil, false, []string{"empty LLM response"}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		logger.Warn("no JSON array found in LLM response")
		return nil, false, []string{"no JSON array found in response"}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		logger.Warn("malformed action array", zap.Error(err))
		return nil, false, []string{fmt.Sprintf("malformed JSON array: %v", err)}
	}

	// Phase one: decode and validate everything, collecting reasons.
	candidate := make([]Action, 0, len(raw))
	for i, element := range raw {
		var action Action
		if err := json.Unmarshal(element, &action); err != nil {
			reasons = append(reasons, fmt.Sprintf("action %d: not an object: %v", i+1, err))
			continue
		}
		if action.Parameters == nil {
			action.Parameters = map[string]any{}
		}
		if err := validateAction(action); err != nil {
			reasons = append(reasons, fmt.Sprintf("action %d: %v", i+1, err))
			continue
		}
		candidate = append(candidate, action)
	}

	// Phase two: commit only a fully valid batch.
	if len(reasons) > 0 {
		logger.Warn("action batch rejected", zap.Strings("reasons", reasons))
		return nil, false, reasons
	}
	return candidate, true, nil
}

func validateAction(a Action) error {
	switch a.Type {
	case TypePrintMessage:
		if a.Message() == "" {
			return fmt.Errorf("print_message requires a message parameter")
		}
	case TypeNameCohort, TypeSaveCohort:
		if a.Name() == "" {
			return fmt.Errorf("%s requires a name parameter", a.Type)
		}
	case TypeCreateVisualization:
		if _, ok := a.Parameters["request"].(map[string]any); !ok {
			return fmt.Errorf("create_visualization requires a request object")
		}
	case TypeShowStatistics:
		// No required parameters.
	case TypeSuggestion:
		if a.Message() == "" {
			return fmt.Errorf("suggestion requires a message parameter")
		}
		if _, ok := a.Parameters["prompt"].(string); !ok {
			return fmt.Errorf("suggestion requires a prompt parameter")
		}
	case "":
		return fmt.Errorf("missing action type")
	default:
		return fmt.Errorf("unknown action type: %s", a.Type)
	}
	return nil
}
