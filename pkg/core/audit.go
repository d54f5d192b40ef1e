package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/oceanbase/tagprofile-go/pkg/extractor"
	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
	"github.com/oceanbase/tagprofile-go/pkg/trace"
)

// GetTagHistory returns the newest-first history of a tag.
func (c *Client) GetTagHistory(ctx context.Context, userID, tagName string) ([]tag.HistoryEntry, error) {
	if err := checkUser("GetTagHistory", userID); err != nil {
		return nil, err
	}
	history, err := c.tracer.History(ctx, userID, tagName)
	return history, NewTagError("GetTagHistory", err)
}

// GetEvidenceChain returns a tag's evidence ordered by weight, heaviest
// first.
func (c *Client) GetEvidenceChain(ctx context.Context, userID, tagName string) ([]tag.EvidenceItem, error) {
	if err := checkUser("GetEvidenceChain", userID); err != nil {
		return nil, err
	}
	chain, err := c.tracer.EvidenceChain(ctx, userID, tagName)
	return chain, NewTagError("GetEvidenceChain", err)
}

// GetTriggerRecords returns trigger records newest first. An empty tagName
// returns the triggers of every tag of the user.
func (c *Client) GetTriggerRecords(ctx context.Context, userID, tagName string) ([]tag.TriggerRecord, error) {
	if err := checkUser("GetTriggerRecords", userID); err != nil {
		return nil, err
	}
	records, err := c.tracer.TriggerRecords(ctx, userID, tagName)
	return records, NewTagError("GetTriggerRecords", err)
}

// GetConfidenceTimeline returns a tag's confidence over time, oldest
// first.
func (c *Client) GetConfidenceTimeline(ctx context.Context, userID, tagName string) ([]trace.TimelinePoint, error) {
	if err := checkUser("GetConfidenceTimeline", userID); err != nil {
		return nil, err
	}
	timeline, err := c.tracer.ConfidenceTimeline(ctx, userID, tagName)
	return timeline, NewTagError("GetConfidenceTimeline", err)
}

// GetTagStatistics summarises a tag's logs. A tag without logs yields
// zeroed statistics.
func (c *Client) GetTagStatistics(ctx context.Context, userID, tagName string) (trace.Statistics, error) {
	if err := checkUser("GetTagStatistics", userID); err != nil {
		return trace.Statistics{}, err
	}
	stats, err := c.tracer.Statistics(ctx, userID, tagName)
	return stats, NewTagError("GetTagStatistics", err)
}

// GetTagTraceInfo returns history, evidence, timeline, statistics, the
// ten most recent triggers and the extraction events of a tag.
func (c *Client) GetTagTraceInfo(ctx context.Context, userID, tagName string) (trace.TraceInfo, error) {
	if err := checkUser("GetTagTraceInfo", userID); err != nil {
		return trace.TraceInfo{}, err
	}
	info, err := c.tracer.TraceInfo(ctx, userID, tagName)
	return info, NewTagError("GetTagTraceInfo", err)
}

// GetTagEvents returns the user's extraction timeline, oldest first.
func (c *Client) GetTagEvents(ctx context.Context, userID string) ([]tag.TagEvent, error) {
	if err := checkUser("GetTagEvents", userID); err != nil {
		return nil, err
	}
	p, err := c.repo.LoadProfile(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return []tag.TagEvent{}, nil
	case err != nil:
		return nil, NewTagError("GetTagEvents", fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}
	return p.TagEvents, nil
}

// GetSessionSummary aggregates the triggers recorded in one session.
func (c *Client) GetSessionSummary(ctx context.Context, userID, sessionID string) (trace.SessionSummary, error) {
	if err := checkUser("GetSessionSummary", userID); err != nil {
		return trace.SessionSummary{}, err
	}
	summary, err := c.tracer.SessionSummary(ctx, userID, sessionID)
	return summary, NewTagError("GetSessionSummary", err)
}

// ExportTagTraceReport renders a tag's trace as "json" or "markdown".
// Other formats fail with trace.ErrUnsupportedFormat.
func (c *Client) ExportTagTraceReport(ctx context.Context, userID, tagName, format string) (string, error) {
	if err := checkUser("ExportTagTraceReport", userID); err != nil {
		return "", err
	}
	report, err := c.tracer.ExportReport(ctx, userID, tagName, format)
	return report, NewTagError("ExportTagTraceReport", err)
}

// Preview is the predicted effect of a text on a profile.
type Preview struct {
	// Triggers are the triggers Process would record.
	Triggers []tag.TriggerRecord `json:"triggers"`

	// Explanations describe each trigger in prose.
	Explanations []string `json:"explanations"`

	Summary trace.TriggerSummary `json:"summary"`

	// Changes compares the active tags before and after the update.
	Changes trace.ChangeAnalysis `json:"changes"`

	// Consistency checks the transitions behind Triggers.
	Consistency trace.ConsistencyReport `json:"consistency"`

	// Profile is the profile as it would be committed.
	Profile *tag.Profile `json:"profile"`

	Rejected      []extractor.Rejection `json:"rejected,omitempty"`
	ExtractionErr error                 `json:"-"`
}

// PreviewImpact runs extraction and the profile update on a copy of the
// stored profile and reports what Process would change. Nothing is
// written.
func (c *Client) PreviewImpact(ctx context.Context, userID, text string, opts ...ProcessOption) (*Preview, error) {
	if err := checkUser("PreviewImpact", userID); err != nil {
		return nil, err
	}
	o := applyProcessOptions(opts)
	now := o.Time
	if now.IsZero() {
		now = c.clock()
	}

	candidates, extractErr := c.extract(ctx, text)
	normalized, rejected := extractor.Normalize(candidates)

	p, err := c.repo.LoadProfile(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = c.manager.NewProfile(userID, now)
	case err != nil:
		return nil, NewTagError("PreviewImpact", fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}

	before := p.Candidates()
	_, skipped := c.manager.UpdateAll(p, normalized, now)
	after := p.Candidates()
	extracted := withoutDimensions(normalized, skipped)

	triggers := c.detector.DetectTriggers(text, before, extracted, o.SessionID, o.MessageID)
	explanations := make([]string, 0, len(triggers))
	for _, t := range triggers {
		explanations = append(explanations, trace.Explain(t))
	}
	return &Preview{
		Triggers:      triggers,
		Explanations:  explanations,
		Summary:       trace.Summarize(triggers),
		Changes:       c.detector.AnalyzeChanges(before, after),
		Consistency:   c.detector.ValidateConsistency(before, extracted),
		Profile:       p,
		Rejected:      rejected,
		ExtractionErr: extractErr,
	}, nil
}

func checkUser(op, userID string) error {
	if userID == "" {
		return NewTagError(op, fmt.Errorf("%w: user id is required", ErrInvalidInput))
	}
	return nil
}
