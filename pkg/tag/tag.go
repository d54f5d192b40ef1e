// Package tag defines the value types shared by every part of the tag profile
// engine: candidate tags produced by extraction, active tags owned by a
// dimension, the per-user Profile aggregate and the per-tag audit logs.
//
// Tag names carry state (historical, current, contextual) as structured
// fields. The suffixed string form such as "喜欢运动(历史)" or "乐观[工作]" is
// produced only when a name is displayed or serialized.
package tag

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// HistoricalSuffix marks a tag that was superseded by a temporal change.
	HistoricalSuffix = "(历史)"

	// CurrentSuffix marks the tag that superseded a historical one.
	CurrentSuffix = "(当前)"

	// DefaultDecayRate is the decay rate assigned to newly created tags.
	DefaultDecayRate = 0.1

	// MaxEvidenceRunes bounds the evidence string kept on an ActiveTag.
	MaxEvidenceRunes = 200
)

// TemporalMark records whether a tag belongs to an earlier or the current
// period after a temporal change was resolved.
type TemporalMark int

const (
	// Untimed is the mark of ordinary tags.
	Untimed TemporalMark = iota

	// Historical marks the archived side of a temporal change.
	Historical

	// Current marks the new side of a temporal change.
	Current
)

// Name is a structured tag name.
type Name struct {
	// Base is the label text without any state suffix.
	Base string

	// Temporal is the temporal mark, rendered as (历史) or (当前).
	Temporal TemporalMark

	// Context is the context qualifier, rendered as [Context].
	Context string
}

// ParseName splits a displayed tag name into its structured parts.
//
// Only the suffixes this package renders are recognised. Any other
// parenthetical text stays part of Base.
func ParseName(s string) Name {
	s = strings.TrimSpace(s)
	var n Name
	if strings.HasSuffix(s, "]") {
		if open := strings.LastIndex(s, "["); open > 0 {
			n.Context = s[open+1 : len(s)-1]
			s = s[:open]
		}
	}
	switch {
	case strings.HasSuffix(s, HistoricalSuffix):
		n.Temporal = Historical
		s = strings.TrimSuffix(s, HistoricalSuffix)
	case strings.HasSuffix(s, CurrentSuffix):
		n.Temporal = Current
		s = strings.TrimSuffix(s, CurrentSuffix)
	}
	n.Base = s
	return n
}

// String renders the name in its suffixed display form.
func (n Name) String() string {
	var b strings.Builder
	b.WriteString(n.Base)
	switch n.Temporal {
	case Historical:
		b.WriteString(HistoricalSuffix)
	case Current:
		b.WriteString(CurrentSuffix)
	}
	if n.Context != "" {
		b.WriteString("[")
		b.WriteString(n.Context)
		b.WriteString("]")
	}
	return b.String()
}

// BaseName strips everything from the first "(" or "[" onwards.
func BaseName(s string) string {
	if i := strings.IndexAny(s, "(["); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Overlaps reports whether either string contains the other.
// Empty strings never overlap.
func Overlaps(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Candidate is a tag proposed by the extraction step for one text.
type Candidate struct {
	Name       string  `json:"name" validate:"required"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
	Dimension  string  `json:"category" validate:"required"`
}

// ActiveTag is a label currently tracked within a dimension.
type ActiveTag struct {
	Name             Name
	FirstDetected    time.Time
	LastReinforced   time.Time
	EvidenceCount    int
	TotalConfidence  float64
	AvgConfidence    float64
	DecayRate        float64
	CurrentWeight    float64
	Evidence         string
	ConflictResolved bool
}

// NewActiveTag creates a tag from its first piece of evidence.
func NewActiveTag(name Name, confidence float64, evidence string, now time.Time) *ActiveTag {
	return &ActiveTag{
		Name:            name,
		FirstDetected:   now,
		LastReinforced:  now,
		EvidenceCount:   1,
		TotalConfidence: confidence,
		AvgConfidence:   confidence,
		DecayRate:       DefaultDecayRate,
		CurrentWeight:   confidence,
		Evidence:        TruncateEvidence(evidence),
	}
}

// DisplayName returns the suffixed name.
func (t *ActiveTag) DisplayName() string { return t.Name.String() }

// BaseName returns the name with any suffix removed.
func (t *ActiveTag) BaseName() string { return BaseName(t.Name.Base) }

// IsHistorical reports whether the tag was archived by a temporal change.
func (t *ActiveTag) IsHistorical() bool { return t.Name.Temporal == Historical }

// IsContextual reports whether the tag carries a context qualifier.
func (t *ActiveTag) IsContextual() bool { return t.Name.Context != "" }

// Reinforce folds one more observation into the tag.
func (t *ActiveTag) Reinforce(confidence float64, evidence string, now time.Time) {
	t.EvidenceCount++
	t.TotalConfidence += confidence
	t.AvgConfidence = t.TotalConfidence / float64(t.EvidenceCount)
	t.LastReinforced = now
	t.Evidence = AppendEvidence(t.Evidence, evidence)
}

// Clone returns a copy of the tag.
func (t *ActiveTag) Clone() *ActiveTag {
	c := *t
	return &c
}

// DaysSince returns the number of whole days between then and now, never
// negative.
func DaysSince(then, now time.Time) int {
	d := now.Sub(then)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// AppendEvidence concatenates evidence strings and keeps the most recent
// MaxEvidenceRunes runes.
func AppendEvidence(existing, evidence string) string {
	switch {
	case evidence == "":
		return existing
	case existing == "":
		return TruncateEvidence(evidence)
	}
	joined := existing + "; " + evidence
	if utf8.RuneCountInString(joined) <= MaxEvidenceRunes {
		return joined
	}
	r := []rune(joined)
	return string(r[len(r)-MaxEvidenceRunes:])
}

// TruncateEvidence keeps the first MaxEvidenceRunes runes of s.
func TruncateEvidence(s string) string {
	return truncateRunes(s, MaxEvidenceRunes, "")
}

// Abbreviate shortens s to max runes, appending "..." when it was cut.
func Abbreviate(s string, max int) string {
	return truncateRunes(s, max, "...")
}

func truncateRunes(s string, max int, ellipsis string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + ellipsis
}

type activeTagJSON struct {
	TagName          string    `json:"tag_name"`
	FirstDetected    time.Time `json:"first_detected"`
	LastReinforced   time.Time `json:"last_reinforced"`
	EvidenceCount    int       `json:"evidence_count"`
	TotalConfidence  float64   `json:"total_confidence"`
	AvgConfidence    float64   `json:"avg_confidence"`
	DecayRate        float64   `json:"decay_rate"`
	CurrentWeight    float64   `json:"current_weight"`
	Evidence         string    `json:"evidence"`
	IsHistorical     bool      `json:"is_historical"`
	IsContextual     bool      `json:"is_contextual"`
	ConflictResolved bool      `json:"conflict_resolved"`
}

// MarshalJSON emits the suffixed tag name alongside the structured flags.
func (t ActiveTag) MarshalJSON() ([]byte, error) {
	return json.Marshal(activeTagJSON{
		TagName:          t.DisplayName(),
		FirstDetected:    t.FirstDetected,
		LastReinforced:   t.LastReinforced,
		EvidenceCount:    t.EvidenceCount,
		TotalConfidence:  t.TotalConfidence,
		AvgConfidence:    t.AvgConfidence,
		DecayRate:        t.DecayRate,
		CurrentWeight:    t.CurrentWeight,
		Evidence:         t.Evidence,
		IsHistorical:     t.IsHistorical(),
		IsContextual:     t.IsContextual(),
		ConflictResolved: t.ConflictResolved,
	})
}

// UnmarshalJSON restores the structured name from the suffixed form.
func (t *ActiveTag) UnmarshalJSON(data []byte) error {
	var raw activeTagJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	name := ParseName(raw.TagName)
	if raw.IsHistorical && name.Temporal == Untimed {
		name.Temporal = Historical
	}
	*t = ActiveTag{
		Name:             name,
		FirstDetected:    raw.FirstDetected,
		LastReinforced:   raw.LastReinforced,
		EvidenceCount:    raw.EvidenceCount,
		TotalConfidence:  raw.TotalConfidence,
		AvgConfidence:    raw.AvgConfidence,
		DecayRate:        raw.DecayRate,
		CurrentWeight:    raw.CurrentWeight,
		Evidence:         raw.Evidence,
		ConflictResolved: raw.ConflictResolved,
	}
	return nil
}
