package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/errors"
	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/schema"
)

// Parser assembles the system context, invokes the model and decodes
// the reply into an Intention.
type Parser struct {
	client Client
	schema schema.Provider
	logger *zap.Logger
}

// NewParser wires a parser to a transport and a schema source.
func NewParser(client Client, provider schema.Provider, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{client: client, schema: provider, logger: logger}
}

// ProcessMessage resolves a single user message into an Intention.
func (p *Parser) ProcessMessage(ctx context.Context, message Message) (*intent.Intention, error) {
	return p.ProcessMessages(ctx, []Message{message})
}

// ProcessMessages resolves a conversation (history plus the current
// message) into an Intention. The model reply must contain a JSON
// object, possibly embedded in prose.
func (p *Parser) ProcessMessages(ctx context.Context, messages []Message) (*intent.Intention, error) {
	all := append(p.systemMessages(), messages...)

	reply, err := p.client.Chat(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}

	payload, err := DecodeObject(reply)
	if err != nil {
		return nil, err
	}

	in := intent.FromResponse(payload, p.logger)
	p.logger.Info("intention resolved", zap.String("intention", in.String()))
	return in, nil
}

func (p *Parser) systemMessages() []Message {
	schemaText := "Schema unavailable."
	if p.schema != nil {
		if s := p.schema.FullSchema(); len(s.Columns) > 0 {
			var b strings.Builder
			for _, name := range s.ColumnNames() {
				fmt.Fprintf(&b, "%s: %s\n", name, s.Columns[name].Dtype)
			}
			schemaText = b.String()
		}
	}

	return []Message{
		{Role: RoleSystem, Content: intentionsPrompt},
		{Role: RoleSystem, Content: schemaPrompt + "\n" + schemaText},
		{Role: RoleSystem, Content: examplesPrompt},
	}
}

// DecodeObject extracts the JSON object embedded in a model reply,
// delimited by the first '{' and the last '}'.
func DecodeObject(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil, errors.NewParseError("DecodeObject", "no JSON object found in LLM response", nil)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return nil, errors.NewParseError("DecodeObject", "malformed JSON in LLM response", err)
	}
	return payload, nil
}
