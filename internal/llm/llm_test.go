package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/llm"
	"github.com/cohortql/cohortql/internal/schema"
)

func TestDecodeObject(t *testing.T) {
	t.Run("object embedded in prose", func(t *testing.T) {
		payload, err := llm.DecodeObject(`Sure! Here you go:
{"intention_type": "help", "description": "how it works"}
Anything else?`)
		require.NoError(t, err)
		assert.Equal(t, "help", payload["intention_type"])
	})

	t.Run("no object", func(t *testing.T) {
		_, err := llm.DecodeObject("plain refusal text")
		assert.Error(t, err)
	})

	t.Run("malformed object", func(t *testing.T) {
		_, err := llm.DecodeObject(`{"intention_type": }`)
		assert.Error(t, err)
	})
}

func TestNewChatClientRequiresCredentials(t *testing.T) {
	_, err := llm.NewChatClient(llm.ChatConfig{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)

	_, err = llm.NewChatClient(llm.ChatConfig{APIKey: "k"}, nil)
	assert.Error(t, err)
}

func completionHandler(t *testing.T, content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model    string        `json:"model"`
			Messages []llm.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.NotEmpty(t, req.Messages)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}
}

func TestChatClientRoundTrip(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "  hello there  "))
	defer server.Close()

	client, err := llm.NewChatClient(llm.ChatConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)

	reply, err := client.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hola"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply, "reply is trimmed")
}

func TestChatClientErrorPaths(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer server.Close()

		client, err := llm.NewChatClient(llm.ChatConfig{BaseURL: server.URL, APIKey: "k"}, nil)
		require.NoError(t, err)
		_, err = client.Chat(context.Background(), nil)
		assert.ErrorContains(t, err, "429")
	})

	t.Run("api error payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "model overloaded", "type": "server_error"},
			})
		}))
		defer server.Close()

		client, err := llm.NewChatClient(llm.ChatConfig{BaseURL: server.URL, APIKey: "k"}, nil)
		require.NoError(t, err)
		_, err = client.Chat(context.Background(), nil)
		assert.ErrorContains(t, err, "model overloaded")
	})

	t.Run("no choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer server.Close()

		client, err := llm.NewChatClient(llm.ChatConfig{BaseURL: server.URL, APIKey: "k"}, nil)
		require.NoError(t, err)
		_, err = client.Chat(context.Background(), nil)
		assert.ErrorContains(t, err, "no completion")
	})
}

// scriptedClient replays a fixed reply and records what it was asked.
type scriptedClient struct {
	reply    string
	err      error
	received []llm.Message
}

func (c *scriptedClient) Chat(_ context.Context, messages []llm.Message) (string, error) {
	c.received = messages
	return c.reply, c.err
}

type stubProvider struct{ s schema.Schema }

func (p stubProvider) FullSchema() schema.Schema    { return p.s }
func (p stubProvider) CurrentSchema() schema.Schema { return p.s }

func TestParserProcessMessage(t *testing.T) {
	client := &scriptedClient{reply: `The user wants a filter.
{"intention_type": "cohort_filter", "description": "mayores de 60",
 "filter_target": "full_dataset",
 "query": {"field": "Edad", "operation": "greater_than", "value": 60}}`}

	provider := stubProvider{s: schema.Schema{
		Columns: map[string]schema.ColumnInfo{"Edad": {Dtype: schema.DtypeInt64}},
	}}

	parser := llm.NewParser(client, provider, nil)
	in, err := parser.ProcessMessage(context.Background(), llm.Message{
		Role: llm.RoleUser, Content: "pacientes mayores de 60",
	})
	require.NoError(t, err)
	assert.Equal(t, intent.TypeCohortFilter, in.Type)
	assert.Equal(t, "Edad es mayor que 60", in.Query.HumanReadable())

	// The schema is injected into the system context.
	require.GreaterOrEqual(t, len(client.received), 4)
	var sawSchema bool
	for _, m := range client.received {
		if m.Role == llm.RoleSystem && strings.Contains(m.Content, "Edad: int64") {
			sawSchema = true
		}
	}
	assert.True(t, sawSchema)
	assert.Equal(t, llm.RoleUser, client.received[len(client.received)-1].Role)
}

func TestParserPropagatesChatError(t *testing.T) {
	client := &scriptedClient{err: context.DeadlineExceeded}
	parser := llm.NewParser(client, nil, nil)

	_, err := parser.ProcessMessage(context.Background(), llm.Message{Role: llm.RoleUser, Content: "hola"})
	assert.Error(t, err)
}

func TestParserRejectsUnparseableReply(t *testing.T) {
	client := &scriptedClient{reply: "I am unable to produce JSON today."}
	parser := llm.NewParser(client, nil, nil)

	_, err := parser.ProcessMessage(context.Background(), llm.Message{Role: llm.RoleUser, Content: "hola"})
	assert.Error(t, err)
}
