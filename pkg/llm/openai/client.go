// Package openai implements llm.Provider on the OpenAI chat completions
// API. DeepSeek, Qwen (DashScope compatible mode) and Ollama expose the
// same API and are served through provider presets.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/tagprofile-go/pkg/llm"
)

// Client is an OpenAI-compatible LLM client.
type Client struct {
	client *openai.Client
	model  string
	preset Preset
}

// Config is the configuration for an OpenAI-compatible LLM.
type Config struct {
	// Provider selects a preset: "openai" (default), "deepseek", "qwen" or
	// "ollama".
	Provider string

	// APIKey is the API key. Required except for ollama.
	APIKey string

	// Model overrides the preset's default model.
	Model string

	// BaseURL overrides the preset's endpoint.
	BaseURL string

	// HTTPClient is a custom HTTP client (uses the SDK default if nil).
	HTTPClient *http.Client
}

// NewClient creates a new client.
func NewClient(cfg *Config) (*Client, error) {
	preset, err := LookupPreset(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" && preset.RequiresAPIKey {
		return nil, fmt.Errorf("%s: API key is required", preset.Name)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = preset.BaseURL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = preset.DefaultModel
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
		preset: preset,
	}, nil
}

// Model returns the model requests are sent to.
func (c *Client) Model() string { return c.model }

// Generate generates text based on the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text using message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	// Convert message format
	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       chatMessages,
		Temperature:    float32(options.Temperature),
		MaxTokens:      options.MaxTokens,
		TopP:           float32(options.TopP),
		ResponseFormat: c.responseFormat(options.ResponseSchema),
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("llm generation failed: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) responseFormat(schema *llm.ResponseSchema) *openai.ChatCompletionResponseFormat {
	if schema == nil {
		return nil
	}
	switch c.preset.Structured {
	case StructuredJSONSchema:
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        schema.Name,
				Description: schema.Description,
				Schema:      schema.Schema,
				Strict:      schema.Strict,
			},
		}
	case StructuredJSONObject:
		return &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	default:
		return nil
	}
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}

var _ llm.Provider = (*Client)(nil)
