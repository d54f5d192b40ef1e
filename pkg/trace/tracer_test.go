package trace_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/storage/badger"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
	"github.com/oceanbase/tagprofile-go/pkg/trace"
)

var start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

func setupTracer(t *testing.T) (*trace.Tracer, storage.Repository) {
	t.Helper()
	repo, err := badger.NewClient(&badger.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return trace.NewTracer(repo, trace.WithIDGenerator(&seqIDs{}), trace.WithClock(func() time.Time { return start })), repo
}

func track(t *testing.T, tr *trace.Tracer, name string, before, after float64, at time.Time) tag.TriggerRecord {
	t.Helper()
	rec, err := tr.Track(context.Background(), "u1", trace.TrackInput{
		TagName:          name,
		Dimension:        tag.EmotionalTraits,
		TriggerText:      fmt.Sprintf("%s %.2f", name, after),
		ConfidenceBefore: before,
		ConfidenceAfter:  after,
		Evidence:         "证据",
		Time:             at,
	})
	require.NoError(t, err)
	return rec
}

func TestTrackCreate(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTracer(t)

	rec := track(t, tr, "乐观", 0, 0.7, time.Time{})
	assert.Equal(t, tag.TriggerCreate, rec.ActionType)
	assert.InDelta(t, 0.7, rec.ConfidenceDelta, 1e-9)
	assert.Equal(t, trace.DefaultSessionID, rec.SessionID)
	assert.NotEmpty(t, rec.MessageID)
	assert.Equal(t, "id-1", rec.TriggerID)
	assert.True(t, rec.TriggerTime.Equal(start))

	history, err := tr.History(ctx, "u1", "乐观")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tag.TriggerCreate, history[0].Action)
	assert.InDelta(t, 0.7, history[0].Confidence, 1e-9)

	chain, err := tr.EvidenceChain(ctx, "u1", "乐观")
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.InDelta(t, 0.7, chain[0].Weight, 1e-9)
	assert.InDelta(t, 0.7, chain[0].ConfidenceContribution, 1e-9)

	stats, err := tr.Statistics(ctx, "u1", "乐观")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, stats.CurrentConfidence, 1e-9)
	assert.Equal(t, 1, stats.TotalTriggers)
	assert.Equal(t, 1, stats.PositiveTriggers)
	assert.Equal(t, 0, stats.NegativeTriggers)
	assert.InDelta(t, 0.7, stats.AvgPositiveDelta, 1e-9)
	require.NotNil(t, stats.CreationTime)
	assert.True(t, stats.CreationTime.Equal(start))
}

func TestTrackRejectsEmptyTagName(t *testing.T) {
	tr, _ := setupTracer(t)
	_, err := tr.Track(context.Background(), "u1", trace.TrackInput{ConfidenceAfter: 0.5})
	assert.ErrorIs(t, err, trace.ErrEmptyTagName)
}

func TestStrengthenWeakenTimeline(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTracer(t)

	track(t, tr, "好奇", 0, 0.5, start)
	track(t, tr, "好奇", 0.5, 0.8, start.Add(time.Hour))
	rec := track(t, tr, "好奇", 0.8, 0.6, start.Add(2*time.Hour))
	assert.Equal(t, tag.TriggerWeaken, rec.ActionType)

	timeline, err := tr.ConfidenceTimeline(ctx, "u1", "好奇")
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, tag.TriggerCreate, timeline[0].Action)
	assert.Equal(t, tag.TriggerStrengthen, timeline[1].Action)
	assert.Equal(t, tag.TriggerWeaken, timeline[2].Action)
	assert.True(t, timeline[0].Timestamp.Before(timeline[2].Timestamp))

	stats, err := tr.Statistics(ctx, "u1", "好奇")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, stats.CurrentConfidence, 1e-9)
	assert.True(t, stats.CreationTime.Equal(start))
	assert.Equal(t, 2, stats.PositiveTriggers)
	assert.Equal(t, 1, stats.NegativeTriggers)
	assert.InDelta(t, 0.4, stats.AvgPositiveDelta, 1e-9)
	assert.InDelta(t, -0.2, stats.AvgNegativeDelta, 1e-9)
	assert.Equal(t, 3, stats.EvidenceCount)
	assert.InDelta(t, 1.0, stats.TotalEvidenceWeight, 1e-9)
}

func TestTimelineAbbreviatesEvidence(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTracer(t)
	_, err := tr.Track(ctx, "u1", trace.TrackInput{
		TagName:         "阅读",
		ConfidenceAfter: 0.6,
		Evidence:        strings.Repeat("书", 120),
	})
	require.NoError(t, err)

	timeline, err := tr.ConfidenceTimeline(ctx, "u1", "阅读")
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, strings.Repeat("书", 100)+"...", timeline[0].Evidence)
}

func TestEvidenceKeepsHeaviest(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTracer(t)
	ledger := tr.Begin("u1")

	// weights 0.01 .. 0.35 in scrambled order
	for i := 0; i < 35; i++ {
		w := float64((i*12)%35+1) / 100
		_, err := ledger.Track(ctx, trace.TrackInput{TagName: "乐观", ConfidenceAfter: w, Time: start.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	dirty := ledger.Dirty()
	require.Len(t, dirty, 1)
	assert.Len(t, dirty[0].Triggers, 35)

	chain := trace.EvidenceChain(dirty[0])
	require.Len(t, chain, 30)
	assert.InDelta(t, 0.35, chain[0].Weight, 1e-9)
	assert.InDelta(t, 0.06, chain[29].Weight, 1e-9)
	for i := 1; i < len(chain); i++ {
		assert.GreaterOrEqual(t, chain[i-1].Weight, chain[i].Weight)
	}
}

func TestLedgerStagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	tr, repo := setupTracer(t)
	track(t, tr, "乐观", 0, 0.5, start)

	ledger := tr.Begin("u1")
	_, err := ledger.Track(ctx, trace.TrackInput{TagName: "好奇", ConfidenceAfter: 0.6})
	require.NoError(t, err)
	_, err = ledger.Track(ctx, trace.TrackInput{TagName: "乐观", ConfidenceBefore: 0.5, ConfidenceAfter: 0.7})
	require.NoError(t, err)

	history, err := tr.History(ctx, "u1", "好奇")
	require.NoError(t, err)
	assert.Empty(t, history)

	dirty := ledger.Dirty()
	require.Len(t, dirty, 2)
	assert.Equal(t, "好奇", dirty[0].TagName)
	// the stored log was loaded before the new entry was staged
	assert.Len(t, dirty[1].History, 2)
	assert.Len(t, ledger.Triggers(), 2)

	require.NoError(t, repo.Commit(ctx, &storage.Commit{UserID: "u1", TagLogs: dirty}))
	history, err = tr.History(ctx, "u1", "乐观")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.InDelta(t, 0.7, history[0].Confidence, 1e-9)
}

func TestTriggerRecordsAggregate(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTracer(t)
	track(t, tr, "乐观", 0, 0.5, start)
	track(t, tr, "好奇", 0, 0.6, start.Add(2*time.Hour))
	track(t, tr, "乐观", 0.5, 0.7, start.Add(time.Hour))

	all, err := tr.TriggerRecords(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "好奇", all[0].TagName)
	assert.Equal(t, "乐观", all[1].TagName)
	assert.Equal(t, tag.TriggerStrengthen, all[1].ActionType)
	assert.Equal(t, tag.TriggerCreate, all[2].ActionType)

	one, err := tr.TriggerRecords(ctx, "u1", "乐观")
	require.NoError(t, err)
	assert.Len(t, one, 2)
}

func TestSessionSummary(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTracer(t)
	for i, in := range []trace.TrackInput{
		{TagName: "乐观", Dimension: tag.EmotionalTraits, ConfidenceAfter: 0.5, SessionID: "s1"},
		{TagName: "乐观", Dimension: tag.EmotionalTraits, ConfidenceBefore: 0.5, ConfidenceAfter: 0.7, SessionID: "s1"},
		{TagName: "阅读", Dimension: tag.InterestPreferences, ConfidenceBefore: 0.4, ConfidenceAfter: 0.6, SessionID: "s1"},
		{TagName: "好奇", Dimension: tag.EmotionalTraits, ConfidenceAfter: 0.6, SessionID: "s2"},
	} {
		in.Time = start.Add(time.Duration(i) * time.Minute)
		_, err := tr.Track(ctx, "u1", in)
		require.NoError(t, err)
	}

	sum, err := tr.SessionSummary(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalTriggers)
	assert.Equal(t, 1, sum.TotalNewTags)
	assert.Equal(t, 2, sum.TotalUpdates)
	assert.Equal(t, 2, sum.CategoriesAffected)
	require.Len(t, sum.TagChanges, 2)

	var optimism trace.TagSessionChange
	for _, c := range sum.TagChanges {
		if c.TagName == "乐观" {
			optimism = c
		}
	}
	assert.InDelta(t, 0.7, optimism.TotalConfidenceChange, 1e-9)
	require.NotNil(t, optimism.CreationTime)
	assert.True(t, optimism.LastUpdateTime.Equal(start.Add(time.Minute)))
}

func TestExportReportEmptyTag(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTracer(t)

	out, err := tr.ExportReport(ctx, "u1", "不存在", trace.FormatJSON)
	require.NoError(t, err)
	var info trace.TraceInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "不存在", info.TagName)
	assert.Equal(t, 0, info.Statistics.TotalTriggers)
	assert.Zero(t, info.Statistics.CurrentConfidence)
	assert.Nil(t, info.Statistics.CreationTime)
	assert.Empty(t, info.History)
	assert.Empty(t, info.EvidenceChain)

	md, err := tr.ExportReport(ctx, "u1", "不存在", trace.FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, md, "# 标签溯源报告：不存在")
	assert.Contains(t, md, "- **创建时间**: N/A")
	assert.Contains(t, md, "- **当前置信度**: 0.0%")
	assert.NotContains(t, md, "| 时间 |")
	assert.NotContains(t, md, "## 主要支持证据")
	assert.NotContains(t, md, "## 提取记录")
}

func TestExportReportIncludesExtractions(t *testing.T) {
	ctx := context.Background()
	tr, repo := setupTracer(t)
	track(t, tr, "乐观", 0, 0.6, start)

	p := tag.NewProfile("u1", tag.DefaultDimensions(), start)
	for i, conf := range []float64{0.6, 0.8} {
		p.RecordEvent(tag.TagEvent{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			EventType: tag.EventTagExtraction,
			ExtractedTags: map[string][]tag.Candidate{
				tag.EmotionalTraits: {
					{Name: "乐观", Confidence: conf, Evidence: "心情好", Dimension: tag.EmotionalTraits},
					{Name: "好奇", Confidence: 0.5, Dimension: tag.EmotionalTraits},
				},
			},
		}, tag.DefaultTagEventLimit)
	}
	require.NoError(t, repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: p}))

	out, err := tr.ExportReport(ctx, "u1", "乐观", trace.FormatJSON)
	require.NoError(t, err)
	var info trace.TraceInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.Len(t, info.Extractions, 2)
	assert.Equal(t, tag.EmotionalTraits, info.Extractions[0].Dimension)
	assert.InDelta(t, 0.6, info.Extractions[0].Confidence, 1e-9)
	assert.InDelta(t, 0.8, info.Extractions[1].Confidence, 1e-9)
	assert.Equal(t, "心情好", info.Extractions[1].Evidence)

	md, err := tr.ExportReport(ctx, "u1", "乐观", trace.FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, md, "## 提取记录")
	newest := strings.Index(md, "| emotional_traits | 80.0% |")
	oldest := strings.Index(md, "| emotional_traits | 60.0% |")
	require.Positive(t, newest)
	assert.Greater(t, oldest, newest)

	none, err := tr.Extractions(ctx, "nobody", "乐观")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExportReportUnsupportedFormat(t *testing.T) {
	tr, _ := setupTracer(t)
	_, err := tr.ExportReport(context.Background(), "u1", "乐观", "xml")
	assert.ErrorIs(t, err, trace.ErrUnsupportedFormat)
}

func TestExportMarkdownLimitsRows(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTracer(t)
	prev := 0.0
	for i := 0; i < 12; i++ {
		next := 0.3 + float64(i)/20
		track(t, tr, "乐观", prev, next, start.Add(time.Duration(i)*time.Hour))
		prev = next
	}

	md, err := tr.ExportReport(ctx, "u1", "乐观", trace.FormatMarkdown)
	require.NoError(t, err)

	rows := 0
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "| 2024-") {
			rows++
		}
	}
	assert.Equal(t, 10, rows)
	// newest row first
	newest := strings.Index(md, start.Add(11*time.Hour).Format("2006-01-02T15:04:05"))
	older := strings.Index(md, start.Add(2*time.Hour).Format("2006-01-02T15:04:05"))
	assert.Greater(t, older, newest)

	assert.Contains(t, md, "### 证据 5")
	assert.NotContains(t, md, "### 证据 6")
	assert.Contains(t, md, "| 85.0% | +5.0% | strengthen |")
}
