// Package metrics derives the per-dimension and profile-wide indices of a tag
// profile. Every function is pure.
package metrics

import (
	"strings"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// NeutralHealthIndex is reported when no emotional tag matches the lexicon.
const NeutralHealthIndex = 0.5

// Lexicon lists the words that make an emotional tag positive or negative.
type Lexicon struct {
	Positive []string `json:"positive" yaml:"positive"`
	Negative []string `json:"negative" yaml:"negative"`
}

// DefaultLexicon returns the built-in emotional lexicon.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Positive: []string{"乐观", "积极", "开朗", "自信"},
		Negative: []string{"焦虑", "消极", "悲观", "敏感"},
	}
}

// DimensionStats are the derived fields of one dimension.
type DimensionStats struct {
	DominantTag     string  `json:"dominant_tag"`
	DimensionWeight float64 `json:"dimension_weight"`
	StabilityScore  float64 `json:"stability_score"`
}

// Result is the output of Compute.
type Result struct {
	Dimensions             map[string]DimensionStats `json:"dimensions"`
	EmotionalHealthIndex   float64                   `json:"emotional_health_index"`
	OverallProfileMaturity float64                   `json:"overall_profile_maturity"`
}

// ComputeDimension returns the dominant tag (first of equal weights), its
// weight and the stability score mean(avg_confidence) × min(1, n/10).
func ComputeDimension(tags []*tag.ActiveTag) DimensionStats {
	if len(tags) == 0 {
		return DimensionStats{}
	}
	var stats DimensionStats
	best := -1.0
	sum := 0.0
	for _, t := range tags {
		if t.CurrentWeight > best {
			best = t.CurrentWeight
			stats.DominantTag = t.DisplayName()
		}
		sum += t.AvgConfidence
	}
	stats.DimensionWeight = best
	breadth := float64(len(tags)) / 10
	if breadth > 1 {
		breadth = 1
	}
	stats.StabilityScore = sum / float64(len(tags)) * breadth
	return stats
}

// Compute derives every metric from the given dimensions.
func Compute(dimensions map[string]*tag.Dimension, lex Lexicon) Result {
	res := Result{
		Dimensions:           make(map[string]DimensionStats, len(dimensions)),
		EmotionalHealthIndex: NeutralHealthIndex,
	}
	for key, d := range dimensions {
		res.Dimensions[key] = ComputeDimension(d.ActiveTags)
	}
	if d, ok := dimensions[tag.EmotionalTraits]; ok {
		res.EmotionalHealthIndex = HealthIndex(d.ActiveTags, lex)
	}
	res.OverallProfileMaturity = Maturity(res.Dimensions)
	return res
}

// HealthIndex is (positive − 0.5·negative) / (positive + negative) over the
// current weights of lexicon-matching tags, or NeutralHealthIndex when no
// tag matches. A tag matching both word lists counts as positive.
func HealthIndex(tags []*tag.ActiveTag, lex Lexicon) float64 {
	var pos, neg float64
	for _, t := range tags {
		name := t.DisplayName()
		switch {
		case containsAny(name, lex.Positive):
			pos += t.CurrentWeight
		case containsAny(name, lex.Negative):
			neg += t.CurrentWeight
		}
	}
	if pos+neg <= 0 {
		return NeutralHealthIndex
	}
	return (pos - 0.5*neg) / (pos + neg)
}

// Maturity is the fraction of dimensions weighing more than 0.1 times the
// mean stability across all dimensions.
func Maturity(dims map[string]DimensionStats) float64 {
	if len(dims) == 0 {
		return 0
	}
	active := 0
	stability := 0.0
	for _, s := range dims {
		if s.DimensionWeight > 0.1 {
			active++
		}
		stability += s.StabilityScore
	}
	n := float64(len(dims))
	return float64(active) / n * (stability / n)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}
