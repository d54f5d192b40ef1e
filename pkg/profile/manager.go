package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oceanbase/tagprofile-go/pkg/conflict"
	"github.com/oceanbase/tagprofile-go/pkg/metrics"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// ErrUnknownDimension indicates candidates for a dimension the manager was
// not configured with.
var ErrUnknownDimension = errors.New("unknown dimension")

// Config contains the tunables of a Manager.
type Config struct {
	// Dimensions declares the dimensions every profile carries.
	Dimensions []tag.DimensionSpec

	// MaxTagsPerDimension bounds the active set of each dimension.
	MaxTagsPerDimension int

	// ConflictHistoryLimit bounds each dimension's conflict history.
	ConflictHistoryLimit int

	// TagEventLimit bounds the profile's extraction timeline.
	TagEventLimit int

	// DecayRate is assigned to newly inserted tags.
	DecayRate float64

	// Decay is the decay model applied on every update.
	Decay DecayModel

	// Lexicon drives the emotional health index.
	Lexicon metrics.Lexicon
}

// DefaultConfig returns a configuration with the standard dimensions, 20
// tags per dimension, 50 conflict records and 100 timeline events.
func DefaultConfig() Config {
	return Config{
		Dimensions:           tag.DefaultDimensions(),
		MaxTagsPerDimension:  20,
		ConflictHistoryLimit: 50,
		TagEventLimit:        tag.DefaultTagEventLimit,
		DecayRate:            tag.DefaultDecayRate,
		Decay:                DefaultDecayModel(),
		Lexicon:              metrics.DefaultLexicon(),
	}
}

// Outcome summarises what one dimension update did.
type Outcome struct {
	Dimension   string                `json:"dimension"`
	Resolutions []conflict.Resolution `json:"-"`
	Conflicts   []tag.ConflictRecord  `json:"conflicts,omitempty"`
	Reinforced  []string              `json:"reinforced,omitempty"`
	Inserted    []string              `json:"inserted,omitempty"`
	Evicted     []string              `json:"evicted,omitempty"`
}

// Manager applies candidate tags to a Profile.
//
// A Manager holds no per-user state; callers must not update the same
// Profile value from several goroutines at once.
type Manager struct {
	cfg      Config
	resolver *conflict.Resolver
	logger   *slog.Logger
}

// NewManager creates a manager. Zero values in cfg fall back to
// DefaultConfig. A nil resolver uses the default rules.
func NewManager(cfg Config, resolver *conflict.Resolver, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if len(cfg.Dimensions) == 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.MaxTagsPerDimension <= 0 {
		cfg.MaxTagsPerDimension = def.MaxTagsPerDimension
	}
	if cfg.ConflictHistoryLimit <= 0 {
		cfg.ConflictHistoryLimit = def.ConflictHistoryLimit
	}
	if cfg.TagEventLimit <= 0 {
		cfg.TagEventLimit = def.TagEventLimit
	}
	if cfg.DecayRate <= 0 {
		cfg.DecayRate = def.DecayRate
	}
	if cfg.Decay.PeriodDays <= 0 {
		cfg.Decay = def.Decay
	}
	if len(cfg.Lexicon.Positive) == 0 && len(cfg.Lexicon.Negative) == 0 {
		cfg.Lexicon = def.Lexicon
	}
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = conflict.NewResolver(nil, logger)
	}
	return &Manager{cfg: cfg, resolver: resolver, logger: logger}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Resolver returns the conflict resolver in use.
func (m *Manager) Resolver() *conflict.Resolver { return m.resolver }

// NewProfile creates an empty profile with the configured dimensions.
func (m *Manager) NewProfile(userID string, now time.Time) *tag.Profile {
	return tag.NewProfile(userID, m.cfg.Dimensions, now)
}

// Update applies candidates to one dimension of p and recomputes all
// derived values:
//
//  1. resolve conflicts and apply the resolutions
//  2. reinforce or insert the remaining candidates
//  3. decay every tag of the dimension
//  4. trim to MaxTagsPerDimension by current weight
//  5. recompute dimension and profile metrics
func (m *Manager) Update(p *tag.Profile, dimension string, candidates []tag.Candidate, now time.Time) (Outcome, error) {
	p.EnsureDimensions(m.cfg.Dimensions)
	d := p.Dimension(dimension)
	if d == nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownDimension, dimension)
	}
	out := Outcome{Dimension: dimension}

	if len(candidates) > 0 {
		out.Resolutions = m.resolver.Resolve(dimension, d.ActiveTags, candidates, now)
		tags, records := m.resolver.Apply(d.ActiveTags, out.Resolutions, now)
		d.ActiveTags = tags
		d.AppendConflicts(records, m.cfg.ConflictHistoryLimit)
		out.Conflicts = records
	}

	absorbed := make(map[int]bool, len(out.Resolutions))
	for _, r := range out.Resolutions {
		absorbed[r.CandidateIndex] = true
	}
	for i, c := range candidates {
		if absorbed[i] {
			continue
		}
		name := tag.ParseName(c.Name)
		if _, t := d.Find(name.String()); t != nil {
			t.Reinforce(c.Confidence, c.Evidence, now)
			out.Reinforced = append(out.Reinforced, t.DisplayName())
			continue
		}
		t := tag.NewActiveTag(name, c.Confidence, c.Evidence, now)
		t.DecayRate = m.cfg.DecayRate
		d.ActiveTags = append(d.ActiveTags, t)
		out.Inserted = append(out.Inserted, t.DisplayName())
	}

	m.decay(d, now)
	out.Evicted = m.trim(d)
	if len(out.Evicted) > 0 {
		m.logger.Debug("tags trimmed",
			slog.String("user_id", p.UserID),
			slog.String("dimension", dimension),
			slog.Any("evicted", out.Evicted))
	}

	stats := metrics.ComputeDimension(d.ActiveTags)
	d.DominantTag = stats.DominantTag
	d.DimensionWeight = stats.DimensionWeight
	d.StabilityScore = stats.StabilityScore

	m.recomputeProfile(p, now)
	return out, nil
}

// UpdateAll applies candidates grouped by dimension. Every configured
// dimension is visited, so dimensions without candidates still decay.
// Candidates for unknown dimensions are skipped and their keys returned.
//
// Each call appends one event holding the applied candidates to the
// profile's extraction timeline.
func (m *Manager) UpdateAll(p *tag.Profile, byDimension map[string][]tag.Candidate, now time.Time) ([]Outcome, []string) {
	outcomes, skipped := m.updateAll(p, byDimension, now)

	event := tag.TagEvent{
		Timestamp:     now,
		EventType:     tag.EventTagExtraction,
		ExtractedTags: make(map[string][]tag.Candidate, len(byDimension)),
	}
	for k, list := range byDimension {
		if p.Dimension(k) != nil && len(list) > 0 {
			event.ExtractedTags[k] = append([]tag.Candidate(nil), list...)
		}
	}
	p.RecordEvent(event, m.cfg.TagEventLimit)
	return outcomes, skipped
}

func (m *Manager) updateAll(p *tag.Profile, byDimension map[string][]tag.Candidate, now time.Time) ([]Outcome, []string) {
	p.EnsureDimensions(m.cfg.Dimensions)

	keys := make([]string, 0, len(p.Dimensions))
	seen := make(map[string]bool, len(p.Dimensions))
	for _, s := range m.cfg.Dimensions {
		keys = append(keys, s.Key)
		seen[s.Key] = true
	}
	var extra []string
	for k := range p.Dimensions {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	var skipped []string
	for k := range byDimension {
		if p.Dimension(k) == nil {
			skipped = append(skipped, k)
		}
	}
	sort.Strings(skipped)
	for _, k := range skipped {
		m.logger.Warn("candidates for unknown dimension dropped",
			slog.String("user_id", p.UserID), slog.String("dimension", k))
	}

	outcomes := make([]Outcome, 0, len(keys))
	for _, k := range keys {
		out, err := m.Update(p, k, byDimension[k], now)
		if err != nil {
			continue
		}
		outcomes = append(outcomes, out)
	}
	if len(keys) == 0 {
		m.recomputeProfile(p, now)
	}
	return outcomes, skipped
}

// Refresh recomputes decay and metrics for every dimension without
// applying any candidates. It records no timeline event.
func (m *Manager) Refresh(p *tag.Profile, now time.Time) {
	m.updateAll(p, nil, now)
}

func (m *Manager) decay(d *tag.Dimension, now time.Time) {
	for _, t := range d.ActiveTags {
		t.CurrentWeight = m.cfg.Decay.CurrentWeight(t, now)
	}
}

// trim keeps the MaxTagsPerDimension heaviest tags. Survivors keep their
// relative order; among equal weights the earlier tag survives.
func (m *Manager) trim(d *tag.Dimension) []string {
	limit := m.cfg.MaxTagsPerDimension
	if len(d.ActiveTags) <= limit {
		return nil
	}
	idx := make([]int, len(d.ActiveTags))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return d.ActiveTags[idx[a]].CurrentWeight > d.ActiveTags[idx[b]].CurrentWeight
	})
	keep := make(map[int]bool, limit)
	for _, i := range idx[:limit] {
		keep[i] = true
	}
	kept := make([]*tag.ActiveTag, 0, limit)
	var evicted []string
	for i, t := range d.ActiveTags {
		if keep[i] {
			kept = append(kept, t)
		} else {
			evicted = append(evicted, t.DisplayName())
		}
	}
	d.ActiveTags = kept
	return evicted
}

func (m *Manager) recomputeProfile(p *tag.Profile, now time.Time) {
	res := metrics.Compute(p.Dimensions, m.cfg.Lexicon)
	p.Metrics = tag.ComputedMetrics{
		EmotionalHealthIndex:   res.EmotionalHealthIndex,
		OverallProfileMaturity: res.OverallProfileMaturity,
	}
	p.LastUpdated = now
}
