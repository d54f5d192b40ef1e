// Package trace records and queries tag provenance.
//
// Every tag owns three bounded logs (see tag.TagLog): a FIFO of trigger
// records, a newest-first history and a weight-ranked evidence library.
// A Tracer writes them through a storage.Repository and answers the
// audit queries; a Detector derives trigger records from two candidate
// snapshots.
package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// DefaultSessionID is used for tracks without a session.
const DefaultSessionID = "default"

var (
	// ErrUnsupportedFormat is returned by ExportReport for unknown formats.
	ErrUnsupportedFormat = errors.New("unsupported report format")

	// ErrEmptyTagName is returned when a track names no tag.
	ErrEmptyTagName = errors.New("tag name is required")
)

// TrackInput describes one confidence change to record.
type TrackInput struct {
	// TriggerID is reused when set, otherwise a new ID is issued.
	TriggerID        string
	TagName          string
	Dimension        string
	TriggerText      string
	ConfidenceBefore float64
	ConfidenceAfter  float64
	Evidence         string
	Context          map[string]interface{}
	SessionID        string
	MessageID        string

	// Time defaults to the tracer's clock.
	Time time.Time
}

// Tracer writes and reads the per-tag provenance logs.
type Tracer struct {
	repo   storage.Repository
	limits tag.LogLimits
	ids    IDGenerator
	clock  func() time.Time
	logger *slog.Logger
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithLogLimits overrides the log caps.
func WithLogLimits(l tag.LogLimits) TracerOption {
	return func(t *Tracer) { t.limits = l }
}

// WithIDGenerator overrides the identifier source.
func WithIDGenerator(ids IDGenerator) TracerOption {
	return func(t *Tracer) { t.ids = ids }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) TracerOption {
	return func(t *Tracer) { t.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TracerOption {
	return func(t *Tracer) { t.logger = logger }
}

// NewTracer creates a tracer over repo.
func NewTracer(repo storage.Repository, opts ...TracerOption) *Tracer {
	t := &Tracer{
		repo:   repo,
		limits: tag.DefaultLogLimits(),
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.ids == nil {
		t.ids = defaultIDs()
	}
	return t
}

// Limits returns the log caps in use.
func (t *Tracer) Limits() tag.LogLimits { return t.limits }

// Ledger stages tracks for one user in memory. The staged logs are written
// by the caller, usually in the same commit as the profile they explain.
//
// A Ledger is not safe for concurrent use.
type Ledger struct {
	tracer   *Tracer
	userID   string
	logs     map[string]*tag.TagLog
	order    []string
	triggers []tag.TriggerRecord
}

// Begin starts a ledger for userID.
func (t *Tracer) Begin(userID string) *Ledger {
	return &Ledger{tracer: t, userID: userID, logs: map[string]*tag.TagLog{}}
}

// Track applies one change to the staged logs of its tag, loading the
// stored logs on first use, and returns the trigger record.
func (l *Ledger) Track(ctx context.Context, in TrackInput) (tag.TriggerRecord, error) {
	if in.TagName == "" {
		return tag.TriggerRecord{}, ErrEmptyTagName
	}
	log, ok := l.logs[in.TagName]
	if !ok {
		loaded, err := l.tracer.repo.LoadTagLog(ctx, l.userID, in.TagName)
		if err != nil {
			return tag.TriggerRecord{}, fmt.Errorf("load tag log %q: %w", in.TagName, err)
		}
		log = loaded
		l.logs[in.TagName] = log
		l.order = append(l.order, in.TagName)
	}

	rec := l.tracer.record(in)
	limits := l.tracer.limits
	log.AppendTrigger(rec, limits.Triggers)
	log.PrependHistory(tag.HistoryEntry{
		EntryID:         l.tracer.ids.NewID(),
		Timestamp:       rec.TriggerTime,
		Action:          rec.ActionType,
		Confidence:      rec.ConfidenceAfter,
		Evidence:        rec.Evidence,
		SourceText:      rec.TriggerText,
		Context:         rec.Context,
		ConfidenceDelta: rec.ConfidenceDelta,
	}, limits.History)
	log.AddEvidence(tag.EvidenceItem{
		EvidenceID:             l.tracer.ids.NewID(),
		Text:                   rec.TriggerText,
		Weight:                 math.Abs(rec.ConfidenceDelta),
		ConfidenceContribution: rec.ConfidenceDelta,
		Timestamp:              rec.TriggerTime,
		SessionID:              rec.SessionID,
		Context:                rec.Context,
	}, limits.Evidence)

	l.triggers = append(l.triggers, rec)
	return rec, nil
}

// Dirty returns the logs touched by the ledger in first-touch order.
func (l *Ledger) Dirty() []*tag.TagLog {
	out := make([]*tag.TagLog, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.logs[name])
	}
	return out
}

// Triggers returns the records tracked so far.
func (l *Ledger) Triggers() []tag.TriggerRecord {
	return l.triggers
}

func (t *Tracer) record(in TrackInput) tag.TriggerRecord {
	id := in.TriggerID
	if id == "" {
		id = t.ids.NewID()
	}
	when := in.Time
	if when.IsZero() {
		when = t.clock()
	}
	session := in.SessionID
	if session == "" {
		session = DefaultSessionID
	}
	message := in.MessageID
	if message == "" {
		message = uuid.NewString()
	}
	ctx := in.Context
	if ctx == nil {
		ctx = map[string]interface{}{}
	}
	return tag.TriggerRecord{
		TriggerID:        id,
		TagName:          in.TagName,
		Dimension:        in.Dimension,
		TriggerText:      in.TriggerText,
		TriggerTime:      when,
		ConfidenceBefore: in.ConfidenceBefore,
		ConfidenceAfter:  in.ConfidenceAfter,
		ConfidenceDelta:  in.ConfidenceAfter - in.ConfidenceBefore,
		Evidence:         in.Evidence,
		Context:          ctx,
		SessionID:        session,
		MessageID:        message,
		ActionType:       tag.ClassifyTrigger(in.ConfidenceBefore, in.ConfidenceAfter),
	}
}

// Track records one change and commits the tag's logs on their own.
func (t *Tracer) Track(ctx context.Context, userID string, in TrackInput) (tag.TriggerRecord, error) {
	ledger := t.Begin(userID)
	rec, err := ledger.Track(ctx, in)
	if err != nil {
		return tag.TriggerRecord{}, err
	}
	if err := t.repo.Commit(ctx, &storage.Commit{UserID: userID, TagLogs: ledger.Dirty()}); err != nil {
		return tag.TriggerRecord{}, fmt.Errorf("commit tag log %q: %w", in.TagName, err)
	}
	return rec, nil
}

// History returns the newest-first history of tagName.
func (t *Tracer) History(ctx context.Context, userID, tagName string) ([]tag.HistoryEntry, error) {
	l, err := t.repo.LoadTagLog(ctx, userID, tagName)
	if err != nil {
		return nil, err
	}
	return l.History, nil
}

// EvidenceChain returns the evidence of tagName by descending weight.
func (t *Tracer) EvidenceChain(ctx context.Context, userID, tagName string) ([]tag.EvidenceItem, error) {
	l, err := t.repo.LoadTagLog(ctx, userID, tagName)
	if err != nil {
		return nil, err
	}
	return EvidenceChain(l), nil
}

// TriggerRecords returns the triggers of tagName, newest first. An empty
// tagName aggregates the triggers of every tag of the user.
func (t *Tracer) TriggerRecords(ctx context.Context, userID, tagName string) ([]tag.TriggerRecord, error) {
	var logs []*tag.TagLog
	if tagName != "" {
		l, err := t.repo.LoadTagLog(ctx, userID, tagName)
		if err != nil {
			return nil, err
		}
		logs = []*tag.TagLog{l}
	} else {
		all, err := t.repo.ListTagLogs(ctx, userID)
		if err != nil {
			return nil, err
		}
		logs = all
	}

	var out []tag.TriggerRecord
	for _, l := range logs {
		out = append(out, l.Triggers...)
	}
	sortTriggersNewestFirst(out)
	return out, nil
}

// ConfidenceTimeline returns the chronological confidence points of tagName.
func (t *Tracer) ConfidenceTimeline(ctx context.Context, userID, tagName string) ([]TimelinePoint, error) {
	l, err := t.repo.LoadTagLog(ctx, userID, tagName)
	if err != nil {
		return nil, err
	}
	return Timeline(l), nil
}

// Statistics summarises tagName. A tag without history yields zeroed
// statistics.
func (t *Tracer) Statistics(ctx context.Context, userID, tagName string) (Statistics, error) {
	l, err := t.repo.LoadTagLog(ctx, userID, tagName)
	if err != nil {
		return Statistics{}, err
	}
	return StatisticsOf(l), nil
}

// TraceInfo collects every audit view of tagName, including the
// extraction events of the user's profile that proposed it.
func (t *Tracer) TraceInfo(ctx context.Context, userID, tagName string) (TraceInfo, error) {
	l, err := t.repo.LoadTagLog(ctx, userID, tagName)
	if err != nil {
		return TraceInfo{}, err
	}
	info := TraceInfoOf(l)
	if info.Extractions, err = t.Extractions(ctx, userID, tagName); err != nil {
		return TraceInfo{}, err
	}
	return info, nil
}

// Extractions returns the timeline events of the user's profile that
// proposed tagName. A user without a profile has none.
func (t *Tracer) Extractions(ctx context.Context, userID, tagName string) ([]ExtractionPoint, error) {
	p, err := t.repo.LoadProfile(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return []ExtractionPoint{}, nil
	case err != nil:
		return nil, err
	}
	return Extractions(p.TagEvents, tagName), nil
}

// SessionSummary aggregates the triggers of one session across all tags.
func (t *Tracer) SessionSummary(ctx context.Context, userID, sessionID string) (SessionSummary, error) {
	all, err := t.TriggerRecords(ctx, userID, "")
	if err != nil {
		return SessionSummary{}, err
	}
	return SummarizeSession(sessionID, all), nil
}

func sortTriggersNewestFirst(recs []tag.TriggerRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].TriggerTime.After(recs[j].TriggerTime)
	})
}
