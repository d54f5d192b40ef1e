package extractor

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Behaviour tag names.
const (
	TagDetailedExpression = "偏好详细表达"
	TagBriefExchange      = "偏好简短交流"
	TagPositiveMood       = "情绪偏向积极"
	TagNegativeMood       = "情绪偏向消极"
)

// BehaviorAnalyzer derives tags from surface features of the text: its
// length and the balance of positive and negative words.
type BehaviorAnalyzer struct {
	// LongText is the rune count above which text counts as detailed.
	LongText int

	// ShortText is the rune count below which text counts as brief.
	ShortText int

	// LengthConfidence is the confidence of the length tags.
	LengthConfidence float64

	// MoodConfidence is the confidence of the mood tags.
	MoodConfidence float64

	PositiveWords []string
	NegativeWords []string
}

// NewBehaviorAnalyzer returns an analyzer with the standard thresholds and
// word lists.
func NewBehaviorAnalyzer() *BehaviorAnalyzer {
	return &BehaviorAnalyzer{
		LongText:         100,
		ShortText:        30,
		LengthConfidence: 0.6,
		MoodConfidence:   0.7,
		PositiveWords:    []string{"开心", "高兴", "快乐", "满意", "不错", "好的"},
		NegativeWords:    []string{"难过", "沮丧", "失望", "糟糕", "痛苦", "烦躁"},
	}
}

// Analyze returns the behaviour tags of text. It never fails.
func (a *BehaviorAnalyzer) Analyze(text string) map[string][]tag.Candidate {
	out := make(map[string][]tag.Candidate)

	n := utf8.RuneCountInString(text)
	lengthEvidence := fmt.Sprintf("文本长度%d字符", n)
	switch {
	case n > a.LongText:
		out[tag.InteractionHabits] = append(out[tag.InteractionHabits], tag.Candidate{
			Name: TagDetailedExpression, Confidence: a.LengthConfidence,
			Evidence: lengthEvidence, Dimension: tag.InteractionHabits,
		})
	case n < a.ShortText:
		out[tag.InteractionHabits] = append(out[tag.InteractionHabits], tag.Candidate{
			Name: TagBriefExchange, Confidence: a.LengthConfidence,
			Evidence: lengthEvidence, Dimension: tag.InteractionHabits,
		})
	}

	pos := countWords(text, a.PositiveWords)
	neg := countWords(text, a.NegativeWords)
	switch {
	case pos > neg:
		out[tag.EmotionalTraits] = append(out[tag.EmotionalTraits], tag.Candidate{
			Name: TagPositiveMood, Confidence: a.MoodConfidence,
			Evidence: fmt.Sprintf("积极词汇%d个", pos), Dimension: tag.EmotionalTraits,
		})
	case neg > pos:
		out[tag.EmotionalTraits] = append(out[tag.EmotionalTraits], tag.Candidate{
			Name: TagNegativeMood, Confidence: a.MoodConfidence,
			Evidence: fmt.Sprintf("消极词汇%d个", neg), Dimension: tag.EmotionalTraits,
		})
	}
	return out
}

// Extract implements Source.
func (a *BehaviorAnalyzer) Extract(_ context.Context, text string) (map[string][]tag.Candidate, error) {
	return a.Analyze(text), nil
}

// countWords counts how many words of the list occur in text, each at most
// once.
func countWords(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
