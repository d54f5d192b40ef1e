package trace

import (
	"sort"
	"time"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

const (
	timelineEvidenceRunes = 100
	recentTriggerCount    = 10
)

// TimelinePoint is one step of a tag's confidence timeline.
type TimelinePoint struct {
	Timestamp       time.Time         `json:"timestamp"`
	Confidence      float64           `json:"confidence"`
	Action          tag.TriggerAction `json:"action"`
	ConfidenceDelta float64           `json:"confidence_delta"`
	Evidence        string            `json:"evidence"`
}

// Statistics summarises the provenance of one tag.
type Statistics struct {
	TagName             string     `json:"tag_name"`
	CurrentConfidence   float64    `json:"current_confidence"`
	CreationTime        *time.Time `json:"creation_time"`
	TotalTriggers       int        `json:"total_triggers"`
	PositiveTriggers    int        `json:"positive_triggers"`
	NegativeTriggers    int        `json:"negative_triggers"`
	EvidenceCount       int        `json:"evidence_count"`
	AvgPositiveDelta    float64    `json:"avg_positive_delta"`
	AvgNegativeDelta    float64    `json:"avg_negative_delta"`
	TotalEvidenceWeight float64    `json:"total_evidence_weight"`
}

// ExtractionPoint is one extraction event that proposed a tag.
type ExtractionPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Dimension  string    `json:"dimension"`
	Confidence float64   `json:"confidence"`
	Evidence   string    `json:"evidence,omitempty"`
}

// TraceInfo bundles every audit view of one tag.
type TraceInfo struct {
	TagName        string              `json:"tag_name"`
	History        []tag.HistoryEntry  `json:"history"`
	EvidenceChain  []tag.EvidenceItem  `json:"evidence_chain"`
	Timeline       []TimelinePoint     `json:"confidence_timeline"`
	Statistics     Statistics          `json:"statistics"`
	RecentTriggers []tag.TriggerRecord `json:"recent_triggers"`

	// Extractions are the timeline events that proposed the tag, oldest
	// first.
	Extractions []ExtractionPoint `json:"extractions"`
}

// Extractions picks the candidates named name out of a profile's
// extraction timeline.
func Extractions(events []tag.TagEvent, name string) []ExtractionPoint {
	out := []ExtractionPoint{}
	for _, e := range events {
		for _, dim := range sortedKeys(e.ExtractedTags) {
			for _, c := range e.ExtractedTags[dim] {
				if c.Name != name {
					continue
				}
				out = append(out, ExtractionPoint{
					Timestamp:  e.Timestamp,
					Dimension:  dim,
					Confidence: c.Confidence,
					Evidence:   c.Evidence,
				})
			}
		}
	}
	return out
}

// TagSessionChange aggregates the triggers of one tag within a session.
type TagSessionChange struct {
	TagName               string              `json:"tag_name"`
	Dimension             string              `json:"dimension"`
	Triggers              []tag.TriggerRecord `json:"triggers"`
	TotalConfidenceChange float64             `json:"total_confidence_change"`
	CreationTime          *time.Time          `json:"creation_time"`
	LastUpdateTime        time.Time           `json:"last_update_time"`
}

// SessionSummary aggregates the triggers of one session.
type SessionSummary struct {
	SessionID          string             `json:"session_id"`
	TagChanges         []TagSessionChange `json:"tag_changes"`
	TotalNewTags       int                `json:"total_new_tags"`
	TotalUpdates       int                `json:"total_updates"`
	TotalTriggers      int                `json:"total_triggers"`
	CategoriesAffected int                `json:"categories_affected"`
}

// EvidenceChain returns the evidence of l by descending weight. Equal
// weights keep insertion order.
func EvidenceChain(l *tag.TagLog) []tag.EvidenceItem {
	out := append([]tag.EvidenceItem(nil), l.Evidence...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	if out == nil {
		out = []tag.EvidenceItem{}
	}
	return out
}

// Timeline returns the history of l oldest first, with evidence shortened
// to 100 characters.
func Timeline(l *tag.TagLog) []TimelinePoint {
	out := make([]TimelinePoint, 0, len(l.History))
	for i := len(l.History) - 1; i >= 0; i-- {
		e := l.History[i]
		out = append(out, TimelinePoint{
			Timestamp:       e.Timestamp,
			Confidence:      e.Confidence,
			Action:          e.Action,
			ConfidenceDelta: e.ConfidenceDelta,
			Evidence:        tag.Abbreviate(e.Evidence, timelineEvidenceRunes),
		})
	}
	return out
}

// StatisticsOf summarises l. Without history every figure is zero.
func StatisticsOf(l *tag.TagLog) Statistics {
	s := Statistics{TagName: l.TagName}
	if len(l.History) == 0 {
		return s
	}

	s.CurrentConfidence = l.History[0].Confidence
	created := l.History[len(l.History)-1].Timestamp
	s.CreationTime = &created
	s.TotalTriggers = len(l.Triggers)

	var posSum, negSum float64
	for _, t := range l.Triggers {
		switch {
		case t.ConfidenceDelta > 0:
			s.PositiveTriggers++
			posSum += t.ConfidenceDelta
		case t.ConfidenceDelta < 0:
			s.NegativeTriggers++
			negSum += t.ConfidenceDelta
		}
	}
	if s.PositiveTriggers > 0 {
		s.AvgPositiveDelta = posSum / float64(s.PositiveTriggers)
	}
	if s.NegativeTriggers > 0 {
		s.AvgNegativeDelta = negSum / float64(s.NegativeTriggers)
	}

	s.EvidenceCount = len(l.Evidence)
	for _, e := range l.Evidence {
		s.TotalEvidenceWeight += e.Weight
	}
	return s
}

// TraceInfoOf builds every audit view of l.
func TraceInfoOf(l *tag.TagLog) TraceInfo {
	recent := append([]tag.TriggerRecord(nil), l.Triggers...)
	sortTriggersNewestFirst(recent)
	if len(recent) > recentTriggerCount {
		recent = recent[:recentTriggerCount]
	}
	if recent == nil {
		recent = []tag.TriggerRecord{}
	}
	history := l.History
	if history == nil {
		history = []tag.HistoryEntry{}
	}
	return TraceInfo{
		TagName:        l.TagName,
		History:        history,
		EvidenceChain:  EvidenceChain(l),
		Timeline:       Timeline(l),
		Statistics:     StatisticsOf(l),
		RecentTriggers: recent,
		Extractions:    []ExtractionPoint{},
	}
}

// SummarizeSession groups the triggers of sessionID by tag. Tags appear in
// the order of their first trigger in triggers.
func SummarizeSession(sessionID string, triggers []tag.TriggerRecord) SessionSummary {
	sum := SessionSummary{SessionID: sessionID, TagChanges: []TagSessionChange{}}
	byTag := map[string]int{}
	dims := map[string]bool{}

	for _, t := range triggers {
		if t.SessionID != sessionID {
			continue
		}
		sum.TotalTriggers++
		dims[t.Dimension] = true

		i, ok := byTag[t.TagName]
		if !ok {
			i = len(sum.TagChanges)
			byTag[t.TagName] = i
			sum.TagChanges = append(sum.TagChanges, TagSessionChange{TagName: t.TagName, Dimension: t.Dimension})
		}
		c := &sum.TagChanges[i]
		c.Triggers = append(c.Triggers, t)
		c.TotalConfidenceChange += t.ConfidenceDelta
		if t.ActionType == tag.TriggerCreate {
			created := t.TriggerTime
			c.CreationTime = &created
		}
		if t.TriggerTime.After(c.LastUpdateTime) {
			c.LastUpdateTime = t.TriggerTime
		}
	}

	for _, c := range sum.TagChanges {
		if c.CreationTime != nil {
			sum.TotalNewTags++
		}
	}
	sum.TotalUpdates = sum.TotalTriggers - sum.TotalNewTags
	sum.CategoriesAffected = len(dims)
	return sum
}
