package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"golang.org/x/time/rate"

	"github.com/oceanbase/tagprofile-go/pkg/llm"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// ErrInvalidResponse indicates a model reply that holds no usable JSON.
var ErrInvalidResponse = errors.New("invalid extraction response")

// Category is one dimension as presented to the model.
type Category struct {
	// Key is the dimension key candidates are filed under.
	Key string

	// Label is the category name the model answers with.
	Label string

	// Description tells the model what belongs in the category.
	Description string
}

// DefaultCategories returns the four standard categories.
func DefaultCategories() []Category {
	return []Category{
		{Key: tag.EmotionalTraits, Label: "情感特征", Description: "用户的情绪倾向和心理特点"},
		{Key: tag.InterestPreferences, Label: "兴趣偏好", Description: "用户感兴趣或反感的话题内容"},
		{Key: tag.InteractionHabits, Label: "互动习惯", Description: "用户的交流风格和回应偏好"},
		{Key: tag.ValuePrinciples, Label: "价值观", Description: "用户的原则立场和底线禁忌"},
	}
}

// llmTag is one tag of the model's reply.
type llmTag struct {
	Tag        string   `json:"tag" jsonschema:"required,description=标签名"`
	Confidence *float64 `json:"confidence" jsonschema:"required,description=标签的确信度，范围0.1-1.0"`
	Evidence   string   `json:"evidence" jsonschema:"required,description=原文中支撑该标签的句子"`
}

// LLMSource extracts candidates by prompting a language model.
type LLMSource struct {
	provider          llm.Provider
	categories        []Category
	maxPerCategory    int
	defaultConfidence float64
	temperature       float64
	maxTokens         int
	limiter           *rate.Limiter
	schema            *llm.ResponseSchema
}

// LLMOption configures an LLMSource.
type LLMOption func(*LLMSource)

// WithCategories replaces the default categories.
func WithCategories(categories []Category) LLMOption {
	return func(s *LLMSource) {
		if len(categories) > 0 {
			s.categories = categories
		}
	}
}

// WithMaxPerCategory bounds the tags kept per category.
func WithMaxPerCategory(n int) LLMOption {
	return func(s *LLMSource) {
		if n > 0 {
			s.maxPerCategory = n
		}
	}
}

// WithRateLimit limits model calls to perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) LLMOption {
	return func(s *LLMSource) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithGeneration overrides the sampling temperature and the token budget.
func WithGeneration(temperature float64, maxTokens int) LLMOption {
	return func(s *LLMSource) {
		s.temperature = temperature
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
	}
}

// NewLLMSource creates a source backed by provider.
func NewLLMSource(provider llm.Provider, opts ...LLMOption) (*LLMSource, error) {
	if provider == nil {
		return nil, errors.New("llm provider is required")
	}
	s := &LLMSource{
		provider:          provider,
		categories:        DefaultCategories(),
		maxPerCategory:    3,
		defaultConfidence: 0.5,
		temperature:       0.3,
		maxTokens:         300,
	}
	for _, opt := range opts {
		opt(s)
	}
	schema, err := responseSchema(s.categories)
	if err != nil {
		return nil, fmt.Errorf("build response schema: %w", err)
	}
	s.schema = schema
	return s, nil
}

// Extract asks the model for tags in every category.
func (s *LLMSource) Extract(ctx context.Context, text string) (map[string][]tag.Candidate, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("extract tags: %w", err)
		}
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: s.systemPrompt()},
		{Role: llm.RoleUser, Content: fmt.Sprintf("用户文本: %q", text)},
	}
	response, err := s.provider.GenerateWithMessages(ctx, messages,
		llm.WithTemperature(s.temperature),
		llm.WithMaxTokens(s.maxTokens),
		llm.WithResponseSchema(s.schema),
	)
	if err != nil {
		return nil, fmt.Errorf("extract tags: %w", err)
	}

	out, err := s.Parse(response)
	if err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	return out, nil
}

// Parse decodes a model reply. Code fences and text around the JSON object
// are tolerated. Categories are matched by label or by key; unknown
// categories are ignored. A tag without confidence gets 0.5.
func (s *LLMSource) Parse(response string) (map[string][]tag.Candidate, error) {
	body := removeCodeBlocks(response)
	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, ErrInvalidResponse
	}

	var raw map[string][]llmTag
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	out := make(map[string][]tag.Candidate)
	for label, tags := range raw {
		key := s.categoryKey(label)
		if key == "" {
			continue
		}
		if len(tags) > s.maxPerCategory {
			tags = tags[:s.maxPerCategory]
		}
		for _, t := range tags {
			confidence := s.defaultConfidence
			if t.Confidence != nil {
				confidence = *t.Confidence
			}
			out[key] = append(out[key], tag.Candidate{
				Name:       t.Tag,
				Confidence: confidence,
				Evidence:   t.Evidence,
				Dimension:  key,
			})
		}
	}
	return out, nil
}

func (s *LLMSource) categoryKey(label string) string {
	label = strings.TrimSpace(label)
	for _, c := range s.categories {
		if c.Label == label || c.Key == label {
			return c.Key
		}
	}
	return ""
}

func (s *LLMSource) systemPrompt() string {
	var b strings.Builder
	b.WriteString("你是一个专业的心理分析师，请分析用户文本并提取标签。\n\n")
	fmt.Fprintf(&b, "请从以下%d个维度提取标签（每个维度最多%d个标签）：\n", len(s.categories), s.maxPerCategory)
	for i, c := range s.categories {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, c.Label, c.Description)
	}
	b.WriteString("\n输出JSON格式：\n{\n")
	for i, c := range s.categories {
		fmt.Fprintf(&b, "    %q: [{\"tag\": \"标签名\", \"confidence\": 0.8, \"evidence\": \"支撑证据\"}]", c.Label)
		if i < len(s.categories)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n\n注意：\n")
	b.WriteString("- confidence范围0.1-1.0，表示该标签的确信度\n")
	b.WriteString("- evidence是从原文中提取的支撑该标签的具体句子\n")
	b.WriteString("- 如果某个维度没有明显特征，返回空数组\n")
	return b.String()
}

// responseSchema builds the JSON schema of the reply: one array of tags per
// category label.
func responseSchema(categories []Category) (*llm.ResponseSchema, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	item, err := schemaToMap(reflector.Reflect(&llmTag{}))
	if err != nil {
		return nil, err
	}
	delete(item, "$schema")
	delete(item, "$id")

	properties := make(map[string]interface{}, len(categories))
	required := make([]string, 0, len(categories))
	for _, c := range categories {
		properties[c.Label] = map[string]interface{}{
			"type":        "array",
			"description": c.Description,
			"items":       item,
		}
		required = append(required, c.Label)
	}
	data, err := json.Marshal(map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	})
	if err != nil {
		return nil, err
	}
	return &llm.ResponseSchema{
		Name:        "tag_extraction",
		Description: "Tags extracted from user text, grouped by category",
		Schema:      data,
		Strict:      true,
	}, nil
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// removeCodeBlocks removes code blocks (```json ... ```) from response.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
