package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tagprofile-go/pkg/llm"
	"github.com/oceanbase/tagprofile-go/pkg/llm/openai"
)

type capturedRequest struct {
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	ResponseFormat *struct {
		Type       string `json:"type"`
		JSONSchema *struct {
			Name   string          `json:"name"`
			Schema json.RawMessage `json:"schema"`
		} `json:"json_schema"`
	} `json:"response_format"`
	Messages []llm.Message `json:"messages"`
}

func setupServer(t *testing.T, content string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  captured.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestGenerateWithSchema(t *testing.T) {
	srv, captured := setupServer(t, `{"ok":true}`)
	client, err := openai.NewClient(&openai.Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	out, err := client.GenerateWithMessages(context.Background(),
		[]llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: "hi"}},
		llm.WithTemperature(0.3),
		llm.WithMaxTokens(300),
		llm.WithResponseSchema(&llm.ResponseSchema{Name: "tags", Schema: json.RawMessage(`{"type":"object"}`)}),
	)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.InDelta(t, 0.3, captured.Temperature, 1e-6)
	assert.Equal(t, 300, captured.MaxTokens)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, llm.RoleSystem, captured.Messages[0].Role)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_schema", captured.ResponseFormat.Type)
	require.NotNil(t, captured.ResponseFormat.JSONSchema)
	assert.Equal(t, "tags", captured.ResponseFormat.JSONSchema.Name)
	assert.JSONEq(t, `{"type":"object"}`, string(captured.ResponseFormat.JSONSchema.Schema))
}

func TestDeepSeekPresetUsesJSONObject(t *testing.T) {
	srv, captured := setupServer(t, "{}")
	client, err := openai.NewClient(&openai.Config{Provider: "DeepSeek", APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", client.Model())

	_, err = client.Generate(context.Background(), "hi",
		llm.WithResponseSchema(&llm.ResponseSchema{Name: "tags", Schema: json.RawMessage(`{}`)}))
	require.NoError(t, err)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	assert.Nil(t, captured.ResponseFormat.JSONSchema)
}

func TestPlainGenerateSendsNoFormat(t *testing.T) {
	srv, captured := setupServer(t, "hello")
	client, err := openai.NewClient(&openai.Config{APIKey: "test-key", BaseURL: srv.URL, Model: "custom"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "custom", captured.Model)
	assert.Nil(t, captured.ResponseFormat)
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     openai.Config
		wantErr bool
	}{
		{"openai requires key", openai.Config{}, true},
		{"unknown provider", openai.Config{Provider: "nope", APIKey: "k"}, true},
		{"ollama without key", openai.Config{Provider: "ollama"}, false},
		{"qwen", openai.Config{Provider: "qwen", APIKey: "k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := openai.NewClient(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
