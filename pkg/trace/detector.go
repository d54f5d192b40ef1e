package trace

import (
	"fmt"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Detector thresholds.
const (
	DefaultChangeThreshold = 0.05
	DefaultNewTagThreshold = 0.3

	consistencyDeltaLimit = 0.5
	triggerEvidenceRunes  = 150
	explainEvidenceRunes  = 50
)

// Detector derives trigger records from two candidate snapshots.
//
// Detector holds no mutable state and is safe for concurrent use.
type Detector struct {
	// ChangeThreshold is the smallest |Δconfidence| reported for a tag
	// present in both snapshots.
	ChangeThreshold float64

	// NewTagThreshold is the smallest confidence reported for a new tag.
	NewTagThreshold float64

	ids   IDGenerator
	clock func() time.Time
}

// NewDetector creates a detector with the default thresholds. A nil ids
// uses a snowflake generator; a nil clock uses time.Now.
func NewDetector(ids IDGenerator, clock func() time.Time) *Detector {
	if ids == nil {
		ids = defaultIDs()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Detector{
		ChangeThreshold: DefaultChangeThreshold,
		NewTagThreshold: DefaultNewTagThreshold,
		ids:             ids,
		clock:           clock,
	}
}

// DetectTriggers compares the old and new candidate snapshots of one text
// event.
//
// A candidate in new but absent by exact name from old yields a create
// trigger when its confidence reaches NewTagThreshold. A candidate in both
// yields strengthen or weaken when |Δ| exceeds ChangeThreshold. Candidates
// only in old are not reported; AnalyzeChanges reports them.
func (d *Detector) DetectTriggers(text string, old, new map[string][]tag.Candidate, sessionID, messageID string) []tag.TriggerRecord {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	dims := sortedKeys(new)

	var out []tag.TriggerRecord
	for _, dim := range dims {
		known := candidateIndex(old[dim])
		for _, c := range new[dim] {
			if _, ok := known[c.Name]; !ok && c.Confidence >= d.NewTagThreshold {
				out = append(out, d.trigger(text, dim, c, 0, sessionID, messageID))
			}
		}
	}
	for _, dim := range dims {
		known := candidateIndex(old[dim])
		for _, c := range new[dim] {
			prev, ok := known[c.Name]
			if ok && math.Abs(c.Confidence-prev.Confidence) > d.ChangeThreshold {
				out = append(out, d.trigger(text, dim, c, prev.Confidence, sessionID, messageID))
			}
		}
	}
	return out
}

func (d *Detector) trigger(text, dim string, c tag.Candidate, before float64, sessionID, messageID string) tag.TriggerRecord {
	evidence := c.Evidence
	if evidence == "" {
		evidence = tag.Abbreviate(text, triggerEvidenceRunes)
	}
	delta := c.Confidence - before
	return tag.TriggerRecord{
		TriggerID:        d.ids.NewID(),
		TagName:          c.Name,
		Dimension:        dim,
		TriggerText:      text,
		TriggerTime:      d.clock(),
		ConfidenceBefore: before,
		ConfidenceAfter:  c.Confidence,
		ConfidenceDelta:  delta,
		Evidence:         evidence,
		Context: map[string]interface{}{
			"text_length":                 utf8.RuneCountInString(text),
			"confidence_change_magnitude": math.Abs(delta),
			"is_new_tag":                  before == 0,
			"llm_based_detection":         true,
		},
		SessionID:  sessionID,
		MessageID:  messageID,
		ActionType: tag.ClassifyTrigger(before, c.Confidence),
	}
}

// TagChange is one entry of a ChangeAnalysis.
type TagChange struct {
	Name          string  `json:"name"`
	Dimension     string  `json:"category"`
	Confidence    float64 `json:"confidence,omitempty"`
	OldConfidence float64 `json:"old_confidence,omitempty"`
	NewConfidence float64 `json:"new_confidence,omitempty"`
	Change        float64 `json:"change,omitempty"`
	Evidence      string  `json:"evidence,omitempty"`
}

// ChangeAnalysis is the full diff between two candidate snapshots.
type ChangeAnalysis struct {
	New          []TagChange `json:"new_tags"`
	Strengthened []TagChange `json:"strengthened_tags"`
	Weakened     []TagChange `json:"weakened_tags"`
	Unchanged    []TagChange `json:"unchanged_tags"`
	Removed      []TagChange `json:"removed_tags"`
}

// AnalyzeChanges diffs old and new keyed by "dimension:name". Unlike
// DetectTriggers it reports removed tags and applies no new-tag threshold.
func (d *Detector) AnalyzeChanges(old, new map[string][]tag.Candidate) ChangeAnalysis {
	oldMap := flatten(old)
	newMap := flatten(new)
	var a ChangeAnalysis

	for _, key := range sortedKeys(newMap) {
		n := newMap[key]
		o, ok := oldMap[key]
		if !ok {
			a.New = append(a.New, TagChange{Name: n.Name, Dimension: n.Dimension, Confidence: n.Confidence, Evidence: n.Evidence})
			continue
		}
		delta := n.Confidence - o.Confidence
		switch {
		case math.Abs(delta) <= d.ChangeThreshold:
			a.Unchanged = append(a.Unchanged, TagChange{Name: n.Name, Dimension: n.Dimension, Confidence: n.Confidence})
		case delta > 0:
			a.Strengthened = append(a.Strengthened, TagChange{
				Name: n.Name, Dimension: n.Dimension, OldConfidence: o.Confidence, NewConfidence: n.Confidence, Change: delta,
			})
		default:
			a.Weakened = append(a.Weakened, TagChange{
				Name: n.Name, Dimension: n.Dimension, OldConfidence: o.Confidence, NewConfidence: n.Confidence, Change: delta,
			})
		}
	}
	for _, key := range sortedKeys(oldMap) {
		if _, ok := newMap[key]; !ok {
			o := oldMap[key]
			a.Removed = append(a.Removed, TagChange{Name: o.Name, Dimension: o.Dimension, Confidence: o.Confidence})
		}
	}
	return a
}

// TriggerSummary aggregates a batch of trigger records.
type TriggerSummary struct {
	TotalTriggers       int     `json:"total_triggers"`
	NewTags             int     `json:"new_tags"`
	StrengthenedTags    int     `json:"strengthened_tags"`
	WeakenedTags        int     `json:"weakened_tags"`
	CategoriesAffected  int     `json:"categories_affected"`
	AvgConfidenceChange float64 `json:"avg_confidence_change"`
}

// Summarize aggregates triggers. An empty input yields all zeros.
func Summarize(triggers []tag.TriggerRecord) TriggerSummary {
	var s TriggerSummary
	if len(triggers) == 0 {
		return s
	}
	dims := map[string]bool{}
	var total float64
	for _, t := range triggers {
		switch t.ActionType {
		case tag.TriggerCreate:
			s.NewTags++
		case tag.TriggerStrengthen:
			s.StrengthenedTags++
		case tag.TriggerWeaken:
			s.WeakenedTags++
		}
		dims[t.Dimension] = true
		total += math.Abs(t.ConfidenceDelta)
	}
	s.TotalTriggers = len(triggers)
	s.CategoriesAffected = len(dims)
	s.AvgConfidenceChange = total / float64(len(triggers))
	return s
}

// Explain renders a one-paragraph explanation of rec.
func Explain(rec tag.TriggerRecord) string {
	var msg string
	switch rec.ActionType {
	case tag.TriggerCreate:
		msg = fmt.Sprintf("识别出新标签 '%s'，置信度: %s", rec.TagName, percent(rec.ConfidenceAfter))
	case tag.TriggerStrengthen:
		msg = fmt.Sprintf("标签 '%s' 得到加强，置信度从 %s 提升到 %s",
			rec.TagName, percent(rec.ConfidenceBefore), percent(rec.ConfidenceAfter))
	case tag.TriggerWeaken:
		msg = fmt.Sprintf("标签 '%s' 有所减弱，置信度从 %s 降低到 %s",
			rec.TagName, percent(rec.ConfidenceBefore), percent(rec.ConfidenceAfter))
	default:
		msg = "标签发生变化"
	}
	if rec.Evidence != "" {
		msg += "\n支持证据: " + tag.Abbreviate(rec.Evidence, explainEvidenceRunes)
	}
	return msg
}

// ConsistencyReport is the result of ValidateConsistency.
type ConsistencyReport struct {
	IsConsistent bool     `json:"is_consistent"`
	Warnings     []string `json:"warnings"`
	Errors       []string `json:"errors"`
}

// ValidateConsistency flags suspicious transitions between two snapshots:
// a warning for a confidence jump above 0.5, an error for a confidence
// outside [0, 1].
func (d *Detector) ValidateConsistency(old, new map[string][]tag.Candidate) ConsistencyReport {
	r := ConsistencyReport{IsConsistent: true, Warnings: []string{}, Errors: []string{}}
	for _, dim := range sortedKeys(new) {
		known := candidateIndex(old[dim])
		for _, c := range new[dim] {
			if prev, ok := known[c.Name]; ok {
				if delta := math.Abs(c.Confidence - prev.Confidence); delta > consistencyDeltaLimit {
					r.Warnings = append(r.Warnings, fmt.Sprintf("标签 '%s' 的置信度变化过大: %.2f", c.Name, delta))
				}
			}
			if c.Confidence < 0 || c.Confidence > 1 || math.IsNaN(c.Confidence) {
				r.Errors = append(r.Errors, fmt.Sprintf("标签 '%s' 的置信度超出范围: %v", c.Name, c.Confidence))
				r.IsConsistent = false
			}
		}
	}
	return r
}

func candidateIndex(list []tag.Candidate) map[string]tag.Candidate {
	m := make(map[string]tag.Candidate, len(list))
	for _, c := range list {
		if _, dup := m[c.Name]; !dup {
			m[c.Name] = c
		}
	}
	return m
}

func flatten(byDim map[string][]tag.Candidate) map[string]tag.Candidate {
	m := map[string]tag.Candidate{}
	for dim, list := range byDim {
		for _, c := range list {
			c.Dimension = dim
			key := dim + ":" + c.Name
			if _, dup := m[key]; !dup {
				m[key] = c
			}
		}
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
