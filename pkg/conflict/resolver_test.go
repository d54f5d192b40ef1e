package conflict_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tagprofile-go/pkg/conflict"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func activeTag(name string, confidence float64, lastReinforced time.Time) *tag.ActiveTag {
	t := tag.NewActiveTag(tag.ParseName(name), confidence, "", lastReinforced)
	t.FirstDetected = lastReinforced
	return t
}

func candidate(dim, name string, confidence float64, evidence string) tag.Candidate {
	return tag.Candidate{Name: name, Confidence: confidence, Evidence: evidence, Dimension: dim}
}

func names(tags []*tag.ActiveTag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.DisplayName())
	}
	return out
}

func TestContradictionReplace(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("乐观", 0.5, now)}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "悲观", 0.8, "最近总觉得不顺")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, tag.ConflictContradictory, res[0].ConflictType)
	assert.Equal(t, tag.ActionReplace, res[0].Action)
	assert.Contains(t, res[0].Explanation, "0.50")
	assert.Contains(t, res[0].Explanation, "0.80")

	updated, records := r.Apply(existing, res, now)
	require.Len(t, updated, 1)
	assert.Equal(t, "悲观", updated[0].DisplayName())
	assert.InDelta(t, 0.8, updated[0].AvgConfidence, 1e-9)
	assert.True(t, updated[0].ConflictResolved)
	assert.Contains(t, updated[0].Evidence, "[替换原标签:乐观]")

	require.Len(t, records, 1)
	assert.Equal(t, "乐观", records[0].ReplacedTag)
	assert.Equal(t, []string{"悲观"}, records[0].ResolvedTags)
}

func TestContradictionKeepExisting(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("乐观", 0.7, now)}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "悲观", 0.8, "")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, tag.ActionKeepExisting, res[0].Action)

	updated, records := r.Apply(existing, res, now)
	assert.Equal(t, []string{"乐观"}, names(updated))
	assert.InDelta(t, 0.7, updated[0].AvgConfidence, 1e-9)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].ResolvedTags)
}

func TestTemporalChange(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	old := now.Add(-10 * 24 * time.Hour)
	existing := []*tag.ActiveTag{activeTag("喜欢运动", 0.5, old)}
	cands := []tag.Candidate{candidate(tag.InterestPreferences, "反感运动", 0.6, "现在不想动了")}

	res := r.Resolve(tag.InterestPreferences, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, tag.ConflictTemporalChange, res[0].ConflictType)
	assert.Equal(t, tag.ActionCreateTemporal, res[0].Action)

	updated, records := r.Apply(existing, res, now)
	assert.Equal(t, []string{"喜欢运动(历史)", "反感运动(当前)"}, names(updated))
	assert.True(t, updated[0].IsHistorical())
	assert.False(t, updated[1].IsHistorical())
	assert.Equal(t, old, updated[0].LastReinforced)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"喜欢运动(历史)", "反感运动(当前)"}, records[0].ResolvedTags)
}

func TestFreshOppositeIsContradiction(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("喜欢运动", 0.5, now.Add(-3*24*time.Hour))}
	cands := []tag.Candidate{candidate(tag.InterestPreferences, "反感运动", 0.6, "")}

	res := r.Resolve(tag.InterestPreferences, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, tag.ActionKeepExisting, res[0].Action)
}

func TestIntensityMerge(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("轻微焦虑", 0.4, now)}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "重度焦虑", 0.8, "彻夜难眠")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, tag.ActionMerge, res[0].Action)
	assert.InDelta(t, 0.7*0.4+0.3*0.8, res[0].Weight, 1e-9)

	updated, _ := r.Apply(existing, res, now)
	require.Len(t, updated, 1)
	assert.Equal(t, "重度焦虑", updated[0].DisplayName())
	assert.InDelta(t, 0.6, updated[0].AvgConfidence, 1e-9)
	assert.Contains(t, updated[0].Evidence, "程度融合: [轻微焦虑→重度焦虑]")
}

func TestIntensityMergeKeepsHigherRank(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("非常喜欢", 0.6, now)}
	cands := []tag.Candidate{candidate(tag.InterestPreferences, "一般喜欢", 0.4, "")}

	res := r.Resolve(tag.InterestPreferences, existing, cands, now)
	require.Len(t, res, 1)
	updated, _ := r.Apply(existing, res, now)
	assert.Equal(t, []string{"非常喜欢"}, names(updated))
}

func TestIntensityMergeDropsHistoricalOverlap(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	earlier := now.Add(-30 * 24 * time.Hour)
	existing := []*tag.ActiveTag{
		activeTag("重度焦虑(历史)", 0.5, earlier),
		activeTag("轻微焦虑", 0.4, now),
	}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "重度焦虑", 0.8, "")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	require.Equal(t, tag.ActionMerge, res[0].Action)

	updated, _ := r.Apply(existing, res, now)
	assert.Equal(t, []string{"重度焦虑"}, names(updated))
	assert.Equal(t, earlier, updated[0].FirstDetected)
}

func TestIntensityMergeWeightCappedByConfidence(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("轻微焦虑", 0.9, now)}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "重度焦虑", 0.1, "")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	assert.InDelta(t, 0.66, res[0].Weight, 1e-9)

	updated, _ := r.Apply(existing, res, now)
	require.Len(t, updated, 1)
	assert.InDelta(t, 0.5, updated[0].AvgConfidence, 1e-9)
	assert.InDelta(t, 0.5, updated[0].CurrentWeight, 1e-9)
	assert.LessOrEqual(t, updated[0].CurrentWeight, updated[0].AvgConfidence)
}

func TestContradictionMatchesEitherContainment(t *testing.T) {
	tests := []struct {
		name      string
		existing  string
		candidate string
	}{
		{"existing name contains pair word", "很乐观", "悲观"},
		{"candidate name contains pair word", "乐观", "非常悲观"},
		{"candidate name inside pair word", "乐观", "悲"},
		{"existing name inside pair word", "乐", "悲观"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := conflict.NewResolver(nil, nil)
			existing := []*tag.ActiveTag{activeTag(tt.existing, 0.5, now)}
			cands := []tag.Candidate{candidate(tag.EmotionalTraits, tt.candidate, 0.6, "")}

			res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
			require.Len(t, res, 1)
			assert.Equal(t, tag.ConflictContradictory, res[0].ConflictType)
			assert.Equal(t, tag.ActionKeepExisting, res[0].Action)
			assert.Equal(t, tt.existing, res[0].Target)
		})
	}
}

func TestContextQualification(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("焦虑", 0.5, now)}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "焦虑", 0.6, "工作上的截止日期让我很紧张")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, tag.ActionAddContext, res[0].Action)

	updated, _ := r.Apply(existing, res, now)
	assert.Equal(t, []string{"焦虑", "焦虑[工作]"}, names(updated))
	assert.True(t, updated[1].IsContextual())

	// the same qualified tag again reinforces instead of duplicating
	res = r.Resolve(tag.EmotionalTraits, updated, cands, now)
	updated, _ = r.Apply(updated, res, now)
	assert.Equal(t, []string{"焦虑", "焦虑[工作]"}, names(updated))
	assert.Equal(t, 2, updated[1].EvidenceCount)
}

func TestNoResolution(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("乐观", 0.5, now)}
	cands := []tag.Candidate{
		candidate(tag.EmotionalTraits, "乐观", 0.6, "心情不错"),
		candidate(tag.EmotionalTraits, "好奇", 0.6, ""),
	}
	assert.Empty(t, r.Resolve(tag.EmotionalTraits, existing, cands, now))
}

func TestHistoricalTagsIgnored(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("乐观(历史)", 0.5, now)}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "悲观", 0.9, "")}
	assert.Empty(t, r.Resolve(tag.EmotionalTraits, existing, cands, now))
}

func TestReplaceFirstMatchWins(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{
		activeTag("乐观", 0.3, now),
		activeTag("乐观[工作]", 0.3, now),
	}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "悲观", 0.9, "")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, "乐观", res[0].Target)

	updated, _ := r.Apply(existing, res, now)
	assert.Equal(t, []string{"悲观", "乐观[工作]"}, names(updated))
}

func TestContradictionScansAllExistingTags(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("乐观", 0.1, now), activeTag("自卑", 0.2, now)}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "自信", 0.9, "")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, "自卑", res[0].Target)

	updated, _ := r.Apply(existing, res, now)
	assert.Equal(t, []string{"乐观", "自信"}, names(updated))
}

func TestReplaceFoldsExistingDuplicate(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	existing := []*tag.ActiveTag{activeTag("乐观", 0.1, now), activeTag("悲观", 0.3, now)}
	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "悲观", 0.9, "")}

	res := r.Resolve(tag.EmotionalTraits, existing, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, tag.ActionReplace, res[0].Action)

	updated, _ := r.Apply(existing, res, now)
	require.Equal(t, []string{"悲观"}, names(updated))
	assert.Equal(t, 2, updated[0].EvidenceCount)
	assert.InDelta(t, 0.6, updated[0].AvgConfidence, 1e-9)
}

func TestRulesSwap(t *testing.T) {
	r := conflict.NewResolver(nil, nil)
	rules := conflict.DefaultRules()
	rules.ContextIndicators = []string{"会议"}
	r.SetRules(rules)

	cands := []tag.Candidate{candidate(tag.EmotionalTraits, "紧张", 0.6, "开会议时很紧张")}
	res := r.Resolve(tag.EmotionalTraits, nil, cands, now)
	require.Len(t, res, 1)
	assert.Equal(t, "紧张[会议]", res[0].Tags[0].Name.String())
}
