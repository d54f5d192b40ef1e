package openai

import (
	"fmt"
	"strings"
)

// StructuredMode is how a provider honours llm.ResponseSchema.
type StructuredMode int

const (
	// StructuredNone sends no response format.
	StructuredNone StructuredMode = iota
	// StructuredJSONObject requests a free-form JSON object.
	StructuredJSONObject
	// StructuredJSONSchema requests output matching the schema.
	StructuredJSONSchema
)

// Preset holds the endpoint defaults of one OpenAI-compatible provider.
type Preset struct {
	Name           string
	BaseURL        string
	DefaultModel   string
	RequiresAPIKey bool
	Structured     StructuredMode
}

var presets = map[string]Preset{
	"openai": {
		Name:           "openai",
		BaseURL:        "https://api.openai.com/v1",
		DefaultModel:   "gpt-4o-mini",
		RequiresAPIKey: true,
		Structured:     StructuredJSONSchema,
	},
	"deepseek": {
		Name:           "deepseek",
		BaseURL:        "https://api.deepseek.com",
		DefaultModel:   "deepseek-chat",
		RequiresAPIKey: true,
		Structured:     StructuredJSONObject,
	},
	"qwen": {
		Name:           "qwen",
		BaseURL:        "https://dashscope.aliyuncs.com/compatible-mode/v1",
		DefaultModel:   "qwen-plus",
		RequiresAPIKey: true,
		Structured:     StructuredJSONObject,
	},
	"ollama": {
		Name:         "ollama",
		BaseURL:      "http://localhost:11434/v1",
		DefaultModel: "llama3.1:8b",
		Structured:   StructuredJSONObject,
	},
}

// LookupPreset returns the preset for provider. An empty name selects
// openai.
func LookupPreset(provider string) (Preset, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		name = "openai"
	}
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
	return p, nil
}
