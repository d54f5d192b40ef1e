package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tagprofile-go/pkg/core"
	"github.com/oceanbase/tagprofile-go/pkg/extractor"
	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/storage/badger"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
	"github.com/oceanbase/tagprofile-go/pkg/trace"
)

var start = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

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

// scripted returns candidates keyed by the text it is given.
type scripted map[string]map[string][]tag.Candidate

func (s scripted) Extract(_ context.Context, text string) (map[string][]tag.Candidate, error) {
	return s[text], nil
}

func cand(dim, name string, confidence float64, evidence string) tag.Candidate {
	return tag.Candidate{Name: name, Confidence: confidence, Evidence: evidence, Dimension: dim}
}

func newRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := badger.NewClient(&badger.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func setupClient(t *testing.T, repo storage.Repository, source extractor.Source, opts ...core.ClientOption) *core.Client {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Storage = core.StorageConfig{Provider: core.ProviderBadger, Badger: core.BadgerConfig{InMemory: true}}
	opts = append([]core.ClientOption{
		core.WithRepository(repo),
		core.WithSource(source),
		core.WithIDGenerator(&seqIDs{}),
		core.WithClock(func() time.Time { return start }),
	}, opts...)
	client, err := core.NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestProcessEndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	source := scripted{
		"今天很开心": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.8, "很开心")}},
		"有点累":   {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.4, "有点累")}},
	}
	client := setupClient(t, repo, source)

	first, err := client.Process(ctx, "u1", "今天很开心", core.WithSessionID("s1"), core.WithTime(start))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempts)
	assert.NoError(t, first.ExtractionErr)
	assert.Equal(t, int64(1), first.Profile.Version)
	require.Len(t, first.Triggers, 1)
	assert.Equal(t, tag.TriggerCreate, first.Triggers[0].ActionType)
	assert.Equal(t, "s1", first.Triggers[0].SessionID)
	assert.Equal(t, start, first.Triggers[0].TriggerTime)

	second, err := client.Process(ctx, "u1", "有点累", core.WithSessionID("s1"), core.WithTime(start.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Profile.Version)
	require.Len(t, second.Triggers, 1)
	assert.Equal(t, tag.TriggerWeaken, second.Triggers[0].ActionType)
	assert.InDelta(t, 0.8, second.Triggers[0].ConfidenceBefore, 1e-9)
	assert.InDelta(t, 0.4, second.Triggers[0].ConfidenceAfter, 1e-9)

	stored, err := client.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	at := stored.Dimension(tag.EmotionalTraits).ActiveTags
	require.Len(t, at, 1)
	assert.Equal(t, 2, at[0].EvidenceCount)

	history, err := client.GetTagHistory(ctx, "u1", "乐观")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, tag.TriggerWeaken, history[0].Action)

	records, err := client.GetTriggerRecords(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	timeline, err := client.GetConfidenceTimeline(ctx, "u1", "乐观")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, tag.TriggerCreate, timeline[0].Action)

	stats, err := client.GetTagStatistics(ctx, "u1", "乐观")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTriggers)
	assert.Equal(t, 1, stats.PositiveTriggers)
	assert.Equal(t, 1, stats.NegativeTriggers)

	chain, err := client.GetEvidenceChain(ctx, "u1", "乐观")
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	summary, err := client.GetSessionSummary(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalTriggers)
	assert.Equal(t, 1, summary.TotalNewTags)

	traceInfo, err := client.GetTagTraceInfo(ctx, "u1", "乐观")
	require.NoError(t, err)
	assert.Len(t, traceInfo.History, 2)
	assert.Equal(t, 2, traceInfo.Statistics.TotalTriggers)

	md, err := client.ExportTagTraceReport(ctx, "u1", "乐观", "markdown")
	require.NoError(t, err)
	assert.Contains(t, md, "# 标签溯源报告：乐观")

	raw, err := client.ExportTagTraceReport(ctx, "u1", "乐观", "json")
	require.NoError(t, err)
	var info trace.TraceInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &info))
	assert.Equal(t, "乐观", info.TagName)
	assert.Len(t, info.RecentTriggers, 2)
	require.Len(t, info.Extractions, 2)
	assert.InDelta(t, 0.4, info.Extractions[1].Confidence, 1e-9)

	events, err := client.GetTagEvents(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, tag.EventTagExtraction, events[0].EventType)
	assert.True(t, events[1].Timestamp.Equal(start.Add(time.Hour)))

	_, err = client.ExportTagTraceReport(ctx, "u1", "乐观", "pdf")
	assert.ErrorIs(t, err, trace.ErrUnsupportedFormat)
}

func TestProcessTriggersFollowExtractedConfidence(t *testing.T) {
	ctx := context.Background()
	source := scripted{
		"心情不错": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.5, "心情不错")}},
		"有点丧":  {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "悲观", 0.6, "有点丧")}},
		"非常开心": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.9, "非常开心")}},
	}
	client := setupClient(t, newRepo(t), source)

	_, err := client.Process(ctx, "u1", "心情不错", core.WithTime(start))
	require.NoError(t, err)

	// the contradiction keeps 乐观, yet the extracted 悲观 is still a new tag
	rejected, err := client.Process(ctx, "u1", "有点丧", core.WithTime(start))
	require.NoError(t, err)
	var actions []tag.ResolutionAction
	for _, out := range rejected.Outcomes {
		for _, c := range out.Conflicts {
			actions = append(actions, c.Action)
		}
	}
	assert.Equal(t, []tag.ResolutionAction{tag.ActionKeepExisting}, actions)
	require.Len(t, rejected.Triggers, 1)
	assert.Equal(t, "悲观", rejected.Triggers[0].TagName)
	assert.Equal(t, tag.TriggerCreate, rejected.Triggers[0].ActionType)
	assert.Zero(t, rejected.Triggers[0].ConfidenceBefore)
	assert.InDelta(t, 0.6, rejected.Triggers[0].ConfidenceAfter, 1e-9)
	_, kept := rejected.Profile.Dimension(tag.EmotionalTraits).Find("悲观")
	assert.Nil(t, kept)

	// reinforcement reports the extracted confidence, not the running average
	stronger, err := client.Process(ctx, "u1", "非常开心", core.WithTime(start))
	require.NoError(t, err)
	require.Len(t, stronger.Triggers, 1)
	assert.Equal(t, tag.TriggerStrengthen, stronger.Triggers[0].ActionType)
	assert.InDelta(t, 0.5, stronger.Triggers[0].ConfidenceBefore, 1e-9)
	assert.InDelta(t, 0.9, stronger.Triggers[0].ConfidenceAfter, 1e-9)
	_, optimist := stronger.Profile.Dimension(tag.EmotionalTraits).Find("乐观")
	require.NotNil(t, optimist)
	assert.InDelta(t, 0.7, optimist.AvgConfidence, 1e-9)

	preview, err := client.PreviewImpact(ctx, "u1", "有点丧", core.WithTime(start))
	require.NoError(t, err)
	require.Len(t, preview.Triggers, 1)
	assert.Equal(t, "悲观", preview.Triggers[0].TagName)
	assert.Equal(t, tag.TriggerCreate, preview.Triggers[0].ActionType)
}

func TestStatisticsOfUnknownTag(t *testing.T) {
	client := setupClient(t, newRepo(t), scripted{})
	stats, err := client.GetTagStatistics(context.Background(), "u1", "不存在")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalTriggers)
	assert.Nil(t, stats.CreationTime)
}

func TestProcessExtractionFailureDecaysOnly(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	var fail atomic.Bool
	source := extractor.SourceFunc(func(context.Context, string) (map[string][]tag.Candidate, error) {
		if fail.Load() {
			return nil, errors.New("model offline")
		}
		return map[string][]tag.Candidate{
			tag.InterestPreferences: {cand(tag.InterestPreferences, "阅读", 0.8, "读书")},
		}, nil
	})
	client := setupClient(t, repo, source)

	_, err := client.Process(ctx, "u1", "在读书", core.WithTime(start))
	require.NoError(t, err)

	fail.Store(true)
	result, err := client.Process(ctx, "u1", "随便聊聊", core.WithTime(start.Add(30*24*time.Hour)))
	require.NoError(t, err)
	require.Error(t, result.ExtractionErr)
	assert.ErrorIs(t, result.ExtractionErr, core.ErrExtractionUnavailable)
	assert.Empty(t, result.Triggers)
	assert.Equal(t, int64(2), result.Profile.Version)

	at := result.Profile.Dimension(tag.InterestPreferences).ActiveTags
	require.Len(t, at, 1)
	assert.Less(t, at[0].CurrentWeight, 0.8)
	assert.Equal(t, 1, at[0].EvidenceCount)
}

// failingRepo fails commits while fail is set and injects a number of
// version conflicts.
type failingRepo struct {
	storage.Repository
	fail      atomic.Bool
	conflicts atomic.Int32
}

func (r *failingRepo) Commit(ctx context.Context, c *storage.Commit) error {
	if r.fail.Load() {
		return errors.New("disk full")
	}
	if r.conflicts.Load() > 0 {
		r.conflicts.Add(-1)
		return storage.ErrVersionConflict
	}
	return r.Repository.Commit(ctx, c)
}

func TestProcessStorageFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{Repository: newRepo(t)}
	source := scripted{
		"a": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.8, "a")}},
		"b": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "焦虑", 0.7, "b")}},
	}
	client := setupClient(t, repo, source)

	_, err := client.Process(ctx, "u1", "a")
	require.NoError(t, err)

	repo.fail.Store(true)
	_, err = client.Process(ctx, "u1", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
	var tagErr *core.TagError
	require.ErrorAs(t, err, &tagErr)
	assert.Equal(t, "Process", tagErr.Op)

	p, err := client.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
	_, found := p.Dimension(tag.EmotionalTraits).Find("焦虑")
	assert.Nil(t, found)

	records, err := client.GetTriggerRecords(ctx, "u1", "焦虑")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessRetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{Repository: newRepo(t)}
	repo.conflicts.Store(2)
	source := scripted{"a": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.8, "a")}}}
	reg := prometheus.NewPedanticRegistry()
	client := setupClient(t, repo, source, core.WithRegistry(reg))

	result, err := client.Process(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int64(1), result.Profile.Version)

	families, err := reg.Gather()
	require.NoError(t, err)
	var retries float64
	for _, f := range families {
		if f.GetName() == "tagprofile_commit_retries_total" {
			retries = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, retries)
}

func TestProcessGivesUpAfterRetries(t *testing.T) {
	repo := &failingRepo{Repository: newRepo(t)}
	repo.conflicts.Store(100)
	client := setupClient(t, repo, scripted{})

	_, err := client.Process(context.Background(), "u1", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)
	assert.Equal(t, int32(100-1-core.DefaultMaxCommitRetries), repo.conflicts.Load())
}

func TestConcurrentProcessSameUser(t *testing.T) {
	ctx := context.Background()
	const n = 20
	source := extractor.SourceFunc(func(_ context.Context, text string) (map[string][]tag.Candidate, error) {
		return map[string][]tag.Candidate{
			tag.InterestPreferences: {cand(tag.InterestPreferences, "话题"+text, 0.6, text)},
		}, nil
	})
	client := setupClient(t, newRepo(t), source, core.WithClock(time.Now))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.Process(ctx, "u1", fmt.Sprint(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := client.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), p.Version)
}

func TestPreviewImpactWritesNothing(t *testing.T) {
	ctx := context.Background()
	source := scripted{
		"a": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.8, "a")}},
		"b": {tag.InterestPreferences: {cand(tag.InterestPreferences, "阅读", 0.9, "b")}},
	}
	client := setupClient(t, newRepo(t), source)

	_, err := client.Process(ctx, "u1", "a")
	require.NoError(t, err)

	preview, err := client.PreviewImpact(ctx, "u1", "b")
	require.NoError(t, err)
	require.Len(t, preview.Triggers, 1)
	assert.Equal(t, "阅读", preview.Triggers[0].TagName)
	require.Len(t, preview.Explanations, 1)
	assert.Equal(t, 1, preview.Summary.TotalTriggers)
	assert.True(t, preview.Consistency.IsConsistent)
	assert.Equal(t, 2, preview.Profile.TagCount())

	stored, err := client.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, 1, stored.TagCount())

	records, err := client.GetTriggerRecords(ctx, "u1", "阅读")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngestRejectsMalformedCandidates(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewPedanticRegistry()
	client := setupClient(t, newRepo(t), scripted{}, core.WithRegistry(reg))

	result, err := client.Ingest(ctx, "u1", "文本", map[string][]tag.Candidate{
		tag.EmotionalTraits: {
			cand("", "乐观", 1.4, "x"),
			cand(tag.EmotionalTraits, "  ", 0.5, "y"),
		},
		"unknown": {cand("unknown", "奇怪", 0.5, "z")},
	})
	require.NoError(t, err)
	require.Len(t, result.Rejected, 1)
	assert.ErrorIs(t, result.Rejected[0], extractor.ErrMalformedCandidate)
	assert.Equal(t, []string{"unknown"}, result.SkippedDimensions)
	require.Len(t, result.Triggers, 1)
	assert.Equal(t, "乐观", result.Triggers[0].TagName)

	at := result.Profile.Dimension(tag.EmotionalTraits).ActiveTags
	require.Len(t, at, 1)
	assert.InDelta(t, 1.0, at[0].AvgConfidence, 1e-9)

	n, err := testutil.GatherAndCount(reg, "tagprofile_rejected_candidates_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t, newRepo(t), scripted{})

	_, err := client.Process(ctx, "", "text")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = client.GetTagHistory(ctx, "", "乐观")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.ErrorIs(t, client.DeleteUser(ctx, ""), core.ErrInvalidInput)

	_, err = client.GetProfile(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := setupClient(t, newRepo(t), scripted{})

	_, err := client.Process(ctx, "u1", "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	source := scripted{"a": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.8, "a")}}}
	client := setupClient(t, newRepo(t), source)

	_, err := client.Process(ctx, "u1", "a")
	require.NoError(t, err)
	require.NoError(t, client.DeleteUser(ctx, "u1"))

	_, err = client.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	records, err := client.GetTriggerRecords(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTagLogStream(t *testing.T) {
	ctx := context.Background()
	source := scripted{"a": {tag.InterestPreferences: {
		cand(tag.InterestPreferences, "阅读", 0.8, "a"),
		cand(tag.InterestPreferences, "跑步", 0.8, "a"),
		cand(tag.InterestPreferences, "摄影", 0.8, "a"),
	}}}
	client := setupClient(t, newRepo(t), source)
	_, err := client.Process(ctx, "u1", "a")
	require.NoError(t, err)

	var (
		names   []string
		batches int
		last    bool
	)
	for batch := range client.TagLogStream(ctx, "u1", 2) {
		require.NoError(t, batch.Error)
		assert.Equal(t, batches, batch.BatchIndex)
		batches++
		last = batch.IsLastBatch
		for _, l := range batch.Logs {
			names = append(names, l.TagName)
		}
	}
	assert.Equal(t, 2, batches)
	assert.True(t, last)
	assert.ElementsMatch(t, []string{"阅读", "跑步", "摄影"}, names)

	empty := <-client.TagLogStream(ctx, "nobody", 2)
	require.NoError(t, empty.Error)
	assert.True(t, empty.IsLastBatch)
	assert.Empty(t, empty.Logs)
}

func TestTagLogStreamAbandonedAfterCancel(t *testing.T) {
	source := scripted{"a": {tag.InterestPreferences: {
		cand(tag.InterestPreferences, "阅读", 0.8, "a"),
		cand(tag.InterestPreferences, "跑步", 0.8, "a"),
		cand(tag.InterestPreferences, "摄影", 0.8, "a"),
		cand(tag.InterestPreferences, "登山", 0.8, "a"),
	}}}
	client := setupClient(t, newRepo(t), source)
	_, err := client.Process(context.Background(), "u1", "a")
	require.NoError(t, err)

	baseline := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	stream := client.TagLogStream(ctx, "u1", 1)
	first := <-stream
	require.NoError(t, first.Error)

	// stop reading, then cancel: the producer must still exit
	cancel()
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, 2*time.Second, 10*time.Millisecond)

	var rest []*core.TagLogBatch
	for batch := range stream {
		rest = append(rest, batch)
	}
	assert.LessOrEqual(t, len(rest), 2)
}

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()
	source := extractor.SourceFunc(func(_ context.Context, text string) (map[string][]tag.Candidate, error) {
		return map[string][]tag.Candidate{
			tag.InterestPreferences: {cand(tag.InterestPreferences, text, 0.6, text)},
		}, nil
	})
	client := setupClient(t, newRepo(t), source)

	events := []core.Event{
		{UserID: "u1", Text: "阅读"},
		{UserID: "u2", Text: "跑步"},
		{UserID: "u1", Text: "摄影"},
		{UserID: "", Text: "无效"},
	}
	results := client.ProcessBatch(ctx, events, 2)
	require.Len(t, results, len(events))

	for i, r := range results[:3] {
		assert.Equal(t, i, r.Index)
		require.NoError(t, r.Error, "event %d", i)
	}
	assert.Equal(t, int64(1), results[0].Result.Profile.Version)
	assert.Equal(t, int64(2), results[2].Result.Profile.Version)
	assert.Equal(t, int64(1), results[1].Result.Profile.Version)
	assert.ErrorIs(t, results[3].Error, core.ErrInvalidInput)
}

func TestAsyncClient(t *testing.T) {
	ctx := context.Background()
	cfg := core.DefaultConfig()
	cfg.Storage = core.StorageConfig{Provider: core.ProviderBadger, Badger: core.BadgerConfig{InMemory: true}}
	source := scripted{"a": {tag.EmotionalTraits: {cand(tag.EmotionalTraits, "乐观", 0.8, "a")}}}

	client, err := core.NewAsyncClient(cfg, core.WithSource(source))
	require.NoError(t, err)

	results := make([]<-chan *core.ProcessResult, 0, 5)
	for i := 0; i < 5; i++ {
		results = append(results, client.ProcessAsync(ctx, "u1", "a"))
	}
	client.Wait()
	for _, ch := range results {
		r := <-ch
		require.NoError(t, r.Error)
	}

	p, err := client.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Version)

	require.NoError(t, <-client.DeleteUserAsync(ctx, "u1"))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
}

func TestClientWithCustomRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replace_margin: 0.3\ncontext_indicators: [工作]\n"), 0o644))

	cfg := core.DefaultConfig()
	cfg.Storage = core.StorageConfig{Provider: core.ProviderBadger, Badger: core.BadgerConfig{InMemory: true}}
	cfg.Profile.RulesPath = path
	client, err := core.NewClient(cfg, core.WithSource(scripted{}))
	require.NoError(t, err)
	defer client.Close()
	assert.InDelta(t, 0.3, client.Resolver().Rules().ReplaceMargin, 1e-9)

	cfg.Profile.WatchRules = true
	watched, err := core.NewClient(cfg, core.WithSource(scripted{}))
	require.NoError(t, err)
	require.NoError(t, watched.Close())
	cfg.Profile.WatchRules = false

	cfg.Profile.RulesPath = filepath.Join(dir, "missing.yaml")
	_, err = core.NewClient(cfg, core.WithSource(scripted{}))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewClientDefaultStorage(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "tags.db")
	client, err := core.NewClient(cfg)
	require.NoError(t, err)

	result, err := client.Process(context.Background(), "u1", strings.Repeat("好", 120)+"开心快乐")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Triggers)
	require.NoError(t, client.Close())
}
