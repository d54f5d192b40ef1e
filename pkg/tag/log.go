package tag

import (
	"sort"
	"time"
)

// TriggerAction classifies a change in a tag's confidence.
type TriggerAction string

const (
	TriggerCreate     TriggerAction = "create"
	TriggerStrengthen TriggerAction = "strengthen"
	TriggerWeaken     TriggerAction = "weaken"
)

// ClassifyTrigger maps a confidence change to its action.
// A zero prior confidence means the tag is new.
func ClassifyTrigger(before, after float64) TriggerAction {
	switch {
	case before == 0:
		return TriggerCreate
	case after-before > 0:
		return TriggerStrengthen
	default:
		return TriggerWeaken
	}
}

// TriggerRecord is one detected change event for a tag.
type TriggerRecord struct {
	TriggerID        string                 `json:"trigger_id"`
	TagName          string                 `json:"tag_name"`
	Dimension        string                 `json:"dimension"`
	TriggerText      string                 `json:"trigger_text"`
	TriggerTime      time.Time              `json:"trigger_time"`
	ConfidenceBefore float64                `json:"confidence_before"`
	ConfidenceAfter  float64                `json:"confidence_after"`
	ConfidenceDelta  float64                `json:"confidence_delta"`
	Evidence         string                 `json:"evidence"`
	Context          map[string]interface{} `json:"context,omitempty"`
	SessionID        string                 `json:"session_id"`
	MessageID        string                 `json:"message_id"`
	ActionType       TriggerAction          `json:"action_type"`
}

// HistoryEntry is one step in a tag's reverse-chronological history.
type HistoryEntry struct {
	EntryID         string                 `json:"entry_id"`
	Timestamp       time.Time              `json:"timestamp"`
	Action          TriggerAction          `json:"action"`
	Confidence      float64                `json:"confidence"`
	Evidence        string                 `json:"evidence"`
	SourceText      string                 `json:"source_text"`
	Context         map[string]interface{} `json:"context,omitempty"`
	ConfidenceDelta float64                `json:"confidence_delta"`
}

// EvidenceItem is one entry of a tag's evidence library.
type EvidenceItem struct {
	EvidenceID             string                 `json:"evidence_id"`
	Text                   string                 `json:"text"`
	Weight                 float64                `json:"weight"`
	ConfidenceContribution float64                `json:"confidence_contribution"`
	Timestamp              time.Time              `json:"timestamp"`
	SessionID              string                 `json:"session_id"`
	Context                map[string]interface{} `json:"context,omitempty"`
}

// LogLimits caps the three per-tag logs.
type LogLimits struct {
	Triggers int `json:"triggers" yaml:"triggers"`
	History  int `json:"history" yaml:"history"`
	Evidence int `json:"evidence" yaml:"evidence"`
}

// DefaultLogLimits returns the standard caps: 100 triggers, 50 history
// entries and 30 evidence items.
func DefaultLogLimits() LogLimits {
	return LogLimits{Triggers: 100, History: 50, Evidence: 30}
}

// EventTagExtraction is the event type of a profile update.
const EventTagExtraction = "tag_extraction"

// DefaultTagEventLimit caps a profile's extraction timeline.
const DefaultTagEventLimit = 100

// TagEvent is one entry of a profile's extraction timeline: the candidates
// a single update applied, keyed by dimension.
type TagEvent struct {
	Timestamp     time.Time              `json:"timestamp"`
	EventType     string                 `json:"event_type"`
	ExtractedTags map[string][]Candidate `json:"extracted_tags"`
}

// TagLog holds the audit logs of one tag for one user.
//
// Each log keeps its own eviction policy: triggers are FIFO, history is
// newest first and truncated at the tail, evidence keeps the heaviest items.
type TagLog struct {
	TagName  string          `json:"tag_name"`
	Triggers []TriggerRecord `json:"triggers"`
	History  []HistoryEntry  `json:"history"`
	Evidence []EvidenceItem  `json:"evidence"`
}

// NewTagLog returns an empty log for name.
func NewTagLog(name string) *TagLog {
	return &TagLog{
		TagName:  name,
		Triggers: []TriggerRecord{},
		History:  []HistoryEntry{},
		Evidence: []EvidenceItem{},
	}
}

// AppendTrigger appends rec, evicting the oldest records beyond limit.
func (l *TagLog) AppendTrigger(rec TriggerRecord, limit int) {
	l.Triggers = appendFIFO(l.Triggers, rec, limit)
}

// PrependHistory inserts e as the newest entry and drops the oldest
// entries beyond limit.
func (l *TagLog) PrependHistory(e HistoryEntry, limit int) {
	l.History = append([]HistoryEntry{e}, l.History...)
	if limit > 0 && len(l.History) > limit {
		l.History = l.History[:limit]
	}
}

// AddEvidence appends item. On overflow the limit heaviest items are kept
// regardless of age; among equal weights the earlier item survives.
// Retained items stay in insertion order.
func (l *TagLog) AddEvidence(item EvidenceItem, limit int) {
	l.Evidence = append(l.Evidence, item)
	if limit <= 0 || len(l.Evidence) <= limit {
		return
	}
	idx := make([]int, len(l.Evidence))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return l.Evidence[idx[a]].Weight > l.Evidence[idx[b]].Weight
	})
	keep := idx[:limit]
	sort.Ints(keep)
	kept := make([]EvidenceItem, 0, limit)
	for _, i := range keep {
		kept = append(kept, l.Evidence[i])
	}
	l.Evidence = kept
}

// Empty reports whether the log holds no entries at all.
func (l *TagLog) Empty() bool {
	return len(l.Triggers) == 0 && len(l.History) == 0 && len(l.Evidence) == 0
}

func appendFIFO[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = append(s[:0:0], s[len(s)-limit:]...)
	}
	return s
}
