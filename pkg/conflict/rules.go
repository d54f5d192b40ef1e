// Package conflict classifies candidate tags against the active tags of a
// dimension and applies the resulting resolutions.
//
// The matching vocabulary (opposite pairs, temporal patterns, intensity
// groups and context keywords) is data held in Rules, so it can be loaded
// from YAML and replaced at runtime.
package conflict

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// ErrInvalidRules indicates a rule table that cannot be used.
var ErrInvalidRules = errors.New("invalid conflict rules")

// Pair is two words on opposite sides of a concept.
type Pair [2]string

// UnmarshalYAML accepts a two element sequence such as [乐观, 悲观].
func (p *Pair) UnmarshalYAML(node *yaml.Node) error {
	var words []string
	if err := node.Decode(&words); err != nil {
		return err
	}
	if len(words) != 2 {
		return fmt.Errorf("pair at line %d: want 2 words, got %d", node.Line, len(words))
	}
	p[0], p[1] = words[0], words[1]
	return nil
}

// Rules is the rule table used by a Resolver.
type Rules struct {
	// ContradictoryPairs maps a dimension key to its opposite word pairs.
	ContradictoryPairs map[string][]Pair `json:"contradictory_pairs" yaml:"contradictory_pairs"`

	// TemporalPatterns are opposite pairs that indicate a change over time.
	// They apply to every dimension.
	TemporalPatterns []Pair `json:"temporal_patterns" yaml:"temporal_patterns"`

	// IntensityGroups maps a dimension key to groups ordered from mild to
	// strong.
	IntensityGroups map[string][][]string `json:"intensity_groups" yaml:"intensity_groups"`

	// ContextIndicators are keywords that qualify a candidate by context.
	ContextIndicators []string `json:"context_indicators" yaml:"context_indicators"`

	// ReplaceMargin is how much a contradicting candidate must exceed the
	// existing tag's average confidence to replace it.
	ReplaceMargin float64 `json:"replace_margin" yaml:"replace_margin"`

	// FreshnessDays is the age in whole days beyond which an opposite tag
	// is treated as a past state instead of a contradiction.
	FreshnessDays int `json:"freshness_days" yaml:"freshness_days"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() *Rules {
	return &Rules{
		ContradictoryPairs: map[string][]Pair{
			tag.EmotionalTraits: {
				{"乐观", "悲观"}, {"积极", "消极"}, {"开朗", "内向"}, {"自信", "自卑"},
				{"冷静", "急躁"}, {"温和", "暴躁"}, {"理性", "感性"}, {"外向", "内向"},
			},
			tag.InterestPreferences: {
				{"喜欢运动", "反感运动"}, {"爱好读书", "讨厌阅读"},
				{"热爱音乐", "不喜欢音乐"}, {"喜欢社交", "偏好独处"},
			},
			tag.InteractionHabits: {
				{"偏好详细表达", "偏好简短交流"}, {"主动交流", "被动回应"},
				{"直接沟通", "委婉表达"}, {"正式语气", "随意语气"},
			},
			tag.ValuePrinciples: {
				{"追求自由", "重视稳定"}, {"个人主义", "集体主义"},
				{"冒险精神", "谨慎保守"}, {"创新思维", "传统观念"},
			},
		},
		TemporalPatterns: []Pair{
			{"喜欢", "反感"}, {"热爱", "厌倦"}, {"积极", "消极"}, {"主动", "被动"}, {"外向", "内向"},
		},
		IntensityGroups: map[string][][]string{
			tag.EmotionalTraits: {
				{"轻微焦虑", "中度焦虑", "重度焦虑"},
				{"略显内向", "比较内向", "极度内向"},
				{"有点乐观", "很乐观", "极度乐观"},
				{"轻微敏感", "比较敏感", "高度敏感"},
			},
			tag.InterestPreferences: {
				{"一般喜欢", "比较喜欢", "非常喜欢", "狂热爱好"},
				{"偶尔关注", "经常关注", "深度关注"},
			},
		},
		ContextIndicators: []string{"工作", "学习", "家庭", "社交", "娱乐", "运动", "旅行"},
		ReplaceMargin:     0.2,
		FreshnessDays:     7,
	}
}

// Validate checks that the table is usable.
func (r *Rules) Validate() error {
	if r.ReplaceMargin < 0 || r.ReplaceMargin > 1 {
		return fmt.Errorf("%w: replace_margin %v out of [0,1]", ErrInvalidRules, r.ReplaceMargin)
	}
	if r.FreshnessDays < 0 {
		return fmt.Errorf("%w: freshness_days %d is negative", ErrInvalidRules, r.FreshnessDays)
	}
	for dim, pairs := range r.ContradictoryPairs {
		for _, p := range pairs {
			if p[0] == "" || p[1] == "" {
				return fmt.Errorf("%w: empty word in %s contradictory pair", ErrInvalidRules, dim)
			}
		}
	}
	for _, p := range r.TemporalPatterns {
		if p[0] == "" || p[1] == "" {
			return fmt.Errorf("%w: empty word in temporal pattern", ErrInvalidRules)
		}
	}
	for dim, groups := range r.IntensityGroups {
		for _, g := range groups {
			if len(g) < 2 {
				return fmt.Errorf("%w: %s intensity group needs at least 2 levels", ErrInvalidRules, dim)
			}
		}
	}
	for _, kw := range r.ContextIndicators {
		if kw == "" {
			return fmt.Errorf("%w: empty context indicator", ErrInvalidRules)
		}
	}
	return nil
}

// ParseRules decodes a YAML rule table. Keys absent from the document keep
// their default values.
func ParseRules(data []byte) (*Rules, error) {
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// LoadRules reads and decodes a YAML rule table from path.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRules: %w", err)
	}
	return ParseRules(data)
}
