// Package storagetest provides a conformance suite for storage.Repository
// implementations.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Factory returns a fresh, empty repository. The suite closes it.
type Factory func(t *testing.T) storage.Repository

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// Run executes the conformance suite against repositories from newRepo.
func Run(t *testing.T, newRepo Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, repo storage.Repository)
	}{
		{"ProfileNotFound", testProfileNotFound},
		{"ProfileRoundTrip", testProfileRoundTrip},
		{"VersionConflict", testVersionConflict},
		{"TagLogs", testTagLogs},
		{"ConflictWritesNothing", testConflictWritesNothing},
		{"ConcurrentCommits", testConcurrentCommits},
		{"DeleteUser", testDeleteUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newRepo(t)
			t.Cleanup(func() { _ = repo.Close() })
			tc.fn(t, repo)
		})
	}
}

// NewProfile returns a profile with one tag in the emotional dimension.
func NewProfile(userID string) *tag.Profile {
	p := tag.NewProfile(userID, tag.DefaultDimensions(), epoch)
	d := p.Dimension(tag.EmotionalTraits)
	d.ActiveTags = append(d.ActiveTags, tag.NewActiveTag(tag.ParseName("乐观"), 0.8, "今天心情不错", epoch))
	d.DominantTag = "乐观"
	d.DimensionWeight = 0.8
	return p
}

// NewTagLog returns a log holding one entry of each kind.
func NewTagLog(name string) *tag.TagLog {
	l := tag.NewTagLog(name)
	l.AppendTrigger(tag.TriggerRecord{
		TriggerID:       "t1",
		TagName:         name,
		Dimension:       tag.EmotionalTraits,
		TriggerText:     "今天心情不错",
		TriggerTime:     epoch,
		ConfidenceAfter: 0.8,
		ConfidenceDelta: 0.8,
		ActionType:      tag.TriggerCreate,
		SessionID:       "default",
		MessageID:       "m1",
	}, 0)
	l.PrependHistory(tag.HistoryEntry{EntryID: "h1", Timestamp: epoch, Action: tag.TriggerCreate, Confidence: 0.8}, 0)
	l.AddEvidence(tag.EvidenceItem{EvidenceID: "e1", Text: "今天心情不错", Weight: 0.8, Timestamp: epoch}, 0)
	return l
}

func testProfileNotFound(t *testing.T, repo storage.Repository) {
	_, err := repo.LoadProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testProfileRoundTrip(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	p := NewProfile("u1")
	require.NoError(t, repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: p}))
	assert.Equal(t, int64(1), p.Version)

	got, err := repo.LoadProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.CreatedAt.Equal(epoch))
	require.Len(t, got.Dimensions, 4)

	d := got.Dimension(tag.EmotionalTraits)
	require.NotNil(t, d)
	require.Len(t, d.ActiveTags, 1)
	assert.Equal(t, "乐观", d.ActiveTags[0].DisplayName())
	assert.InDelta(t, 0.8, d.ActiveTags[0].AvgConfidence, 1e-9)
	assert.Equal(t, "乐观", d.DominantTag)
	assert.Empty(t, got.Dimension(tag.ValuePrinciples).ActiveTags)
}

func testVersionConflict(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	p := NewProfile("u1")
	require.NoError(t, repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: p}))

	// A second insert of the same user conflicts.
	err := repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: NewProfile("u1")})
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	require.NoError(t, repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: p, ExpectedVersion: 1}))
	assert.Equal(t, int64(2), p.Version)

	stale := NewProfile("u1")
	err = repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: stale, ExpectedVersion: 1})
	assert.ErrorIs(t, err, storage.ErrVersionConflict)
	assert.Equal(t, int64(0), stale.Version)

	got, err := repo.LoadProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func testTagLogs(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	empty, err := repo.LoadTagLog(ctx, "u1", "乐观")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.Equal(t, "乐观", empty.TagName)

	require.NoError(t, repo.Commit(ctx, &storage.Commit{
		UserID:  "u1",
		TagLogs: []*tag.TagLog{NewTagLog("乐观"), NewTagLog("好奇")},
	}))

	l, err := repo.LoadTagLog(ctx, "u1", "乐观")
	require.NoError(t, err)
	require.Len(t, l.Triggers, 1)
	assert.Equal(t, "t1", l.Triggers[0].TriggerID)
	assert.Equal(t, tag.TriggerCreate, l.Triggers[0].ActionType)
	assert.True(t, l.Triggers[0].TriggerTime.Equal(epoch))
	assert.Len(t, l.History, 1)
	assert.Len(t, l.Evidence, 1)

	// Replacing a log overwrites it.
	updated := NewTagLog("乐观")
	updated.AddEvidence(tag.EvidenceItem{EvidenceID: "e2", Text: "很开心", Weight: 0.9, Timestamp: epoch}, 0)
	require.NoError(t, repo.Commit(ctx, &storage.Commit{UserID: "u1", TagLogs: []*tag.TagLog{updated}}))

	logs, err := repo.ListTagLogs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "乐观", logs[0].TagName)
	assert.Equal(t, "好奇", logs[1].TagName)
	assert.Len(t, logs[0].Evidence, 2)

	other, err := repo.ListTagLogs(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testConflictWritesNothing(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: NewProfile("u1")}))

	err := repo.Commit(ctx, &storage.Commit{
		UserID:          "u1",
		Profile:         NewProfile("u1"),
		ExpectedVersion: 7,
		TagLogs:         []*tag.TagLog{NewTagLog("乐观")},
	})
	require.ErrorIs(t, err, storage.ErrVersionConflict)

	l, err := repo.LoadTagLog(ctx, "u1", "乐观")
	require.NoError(t, err)
	assert.True(t, l.Empty())
}

func testConcurrentCommits(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: NewProfile("u1")}))

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicted := 0, 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Commit(ctx, &storage.Commit{UserID: "u1", Profile: NewProfile("u1"), ExpectedVersion: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, storage.ErrVersionConflict):
				conflicted++
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicted)
	got, err := repo.LoadProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func testDeleteUser(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	for _, u := range []string{"u1", "u2"} {
		require.NoError(t, repo.Commit(ctx, &storage.Commit{
			UserID:  u,
			Profile: NewProfile(u),
			TagLogs: []*tag.TagLog{NewTagLog("乐观")},
		}))
	}

	require.NoError(t, repo.DeleteUser(ctx, "u1"))
	// Deleting an unknown user is not an error.
	require.NoError(t, repo.DeleteUser(ctx, "nobody"))

	_, err := repo.LoadProfile(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	logs, err := repo.ListTagLogs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = repo.LoadProfile(ctx, "u2")
	assert.NoError(t, err)
	logs, err = repo.ListTagLogs(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
