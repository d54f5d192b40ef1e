package tag

import (
	"time"
)

// Dimension keys of the default profile layout.
const (
	EmotionalTraits     = "emotional_traits"
	InterestPreferences = "interest_preferences"
	InteractionHabits   = "interaction_habits"
	ValuePrinciples     = "value_principles"
)

// DimensionSpec declares one dimension of a profile.
type DimensionSpec struct {
	Key  string `json:"key" yaml:"key"`
	Name string `json:"name" yaml:"name"`
}

// DefaultDimensions returns the four standard dimensions in display order.
func DefaultDimensions() []DimensionSpec {
	return []DimensionSpec{
		{Key: EmotionalTraits, Name: "情感特征维度"},
		{Key: InterestPreferences, Name: "兴趣偏好维度"},
		{Key: InteractionHabits, Name: "互动习惯维度"},
		{Key: ValuePrinciples, Name: "价值观维度"},
	}
}

// ConflictType classifies why a candidate conflicted with an existing tag.
type ConflictType string

const (
	ConflictContradictory       ConflictType = "contradictory"
	ConflictTemporalChange      ConflictType = "temporal_change"
	ConflictIntensityDifference ConflictType = "intensity_difference"
	ConflictContextDependent    ConflictType = "context_dependent"
)

// ResolutionAction is the mutation chosen for a conflict.
type ResolutionAction string

const (
	ActionReplace        ResolutionAction = "replace"
	ActionMerge          ResolutionAction = "merge"
	ActionCreateTemporal ResolutionAction = "create_temporal"
	ActionAddContext     ResolutionAction = "add_context"
	ActionKeepExisting   ResolutionAction = "keep_existing"
)

// ConflictRecord is one entry of a dimension's conflict history.
type ConflictRecord struct {
	Timestamp    time.Time        `json:"timestamp"`
	ConflictType ConflictType     `json:"conflict_type"`
	Action       ResolutionAction `json:"action"`
	Explanation  string           `json:"explanation"`
	ResolvedTags []string         `json:"resolved_tags"`
	ReplacedTag  string           `json:"replaced_tag,omitempty"`
}

// Dimension owns the active tags of one category.
type Dimension struct {
	Key             string           `json:"key"`
	Name            string           `json:"dimension_name"`
	ActiveTags      []*ActiveTag     `json:"active_tags"`
	DominantTag     string           `json:"dominant_tag"`
	DimensionWeight float64          `json:"dimension_weight"`
	StabilityScore  float64          `json:"stability_score"`
	ConflictHistory []ConflictRecord `json:"conflict_history"`
}

// NewDimension returns an empty dimension.
func NewDimension(spec DimensionSpec) *Dimension {
	return &Dimension{
		Key:             spec.Key,
		Name:            spec.Name,
		ActiveTags:      []*ActiveTag{},
		ConflictHistory: []ConflictRecord{},
	}
}

// Find returns the index and tag whose display name equals name.
func (d *Dimension) Find(name string) (int, *ActiveTag) {
	for i, t := range d.ActiveTags {
		if t.DisplayName() == name {
			return i, t
		}
	}
	return -1, nil
}

// AppendConflicts appends records and drops the oldest beyond limit.
func (d *Dimension) AppendConflicts(records []ConflictRecord, limit int) {
	for _, r := range records {
		d.ConflictHistory = appendFIFO(d.ConflictHistory, r, limit)
	}
}

// Clone returns a deep copy of the dimension.
func (d *Dimension) Clone() *Dimension {
	c := *d
	c.ActiveTags = make([]*ActiveTag, len(d.ActiveTags))
	for i, t := range d.ActiveTags {
		c.ActiveTags[i] = t.Clone()
	}
	c.ConflictHistory = make([]ConflictRecord, len(d.ConflictHistory))
	for i, r := range d.ConflictHistory {
		r.ResolvedTags = append([]string(nil), r.ResolvedTags...)
		c.ConflictHistory[i] = r
	}
	return &c
}

// ComputedMetrics are the profile-wide derived indices.
type ComputedMetrics struct {
	EmotionalHealthIndex   float64 `json:"emotional_health_index"`
	OverallProfileMaturity float64 `json:"overall_profile_maturity"`
}

// Profile is the per-user aggregate persisted as one record.
//
// Version is the compare-and-swap counter maintained by the repository.
// A profile that was never committed has Version 0.
type Profile struct {
	UserID      string                `json:"user_id"`
	Version     int64                 `json:"version"`
	CreatedAt   time.Time             `json:"created_at"`
	LastUpdated time.Time             `json:"last_updated"`
	Dimensions  map[string]*Dimension `json:"tag_dimensions"`
	Metrics     ComputedMetrics       `json:"computed_metrics"`

	// TagEvents is the extraction timeline, oldest first.
	TagEvents []TagEvent `json:"tag_events,omitempty"`
}

// NewProfile creates an empty profile with the given dimensions.
func NewProfile(userID string, specs []DimensionSpec, now time.Time) *Profile {
	p := &Profile{
		UserID:      userID,
		CreatedAt:   now,
		LastUpdated: now,
		Dimensions:  make(map[string]*Dimension, len(specs)),
		Metrics:     ComputedMetrics{EmotionalHealthIndex: 0.5},
	}
	p.EnsureDimensions(specs)
	return p
}

// EnsureDimensions adds any declared dimension the profile lacks.
func (p *Profile) EnsureDimensions(specs []DimensionSpec) {
	if p.Dimensions == nil {
		p.Dimensions = make(map[string]*Dimension, len(specs))
	}
	for _, s := range specs {
		if _, ok := p.Dimensions[s.Key]; !ok {
			p.Dimensions[s.Key] = NewDimension(s)
		}
	}
}

// Dimension returns the dimension with the given key, or nil.
func (p *Profile) Dimension(key string) *Dimension {
	return p.Dimensions[key]
}

// Candidates snapshots the active tags as candidates keyed by dimension,
// using the display name and average confidence of each tag.
func (p *Profile) Candidates() map[string][]Candidate {
	out := make(map[string][]Candidate, len(p.Dimensions))
	for key, d := range p.Dimensions {
		list := make([]Candidate, 0, len(d.ActiveTags))
		for _, t := range d.ActiveTags {
			list = append(list, Candidate{
				Name:       t.DisplayName(),
				Confidence: t.AvgConfidence,
				Evidence:   t.Evidence,
				Dimension:  key,
			})
		}
		out[key] = list
	}
	return out
}

// RecordEvent appends e to the extraction timeline and drops the oldest
// events beyond limit.
func (p *Profile) RecordEvent(e TagEvent, limit int) {
	p.TagEvents = appendFIFO(p.TagEvents, e, limit)
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Dimensions = make(map[string]*Dimension, len(p.Dimensions))
	for k, d := range p.Dimensions {
		c.Dimensions[k] = d.Clone()
	}
	if p.TagEvents != nil {
		c.TagEvents = make([]TagEvent, len(p.TagEvents))
		for i, e := range p.TagEvents {
			tags := make(map[string][]Candidate, len(e.ExtractedTags))
			for k, v := range e.ExtractedTags {
				tags[k] = append([]Candidate(nil), v...)
			}
			e.ExtractedTags = tags
			c.TagEvents[i] = e
		}
	}
	return &c
}

// TagCount returns the number of active tags across all dimensions.
func (p *Profile) TagCount() int {
	n := 0
	for _, d := range p.Dimensions {
		n += len(d.ActiveTags)
	}
	return n
}
