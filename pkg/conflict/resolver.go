package conflict

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// ResolvedTag is a tag synthesized by a resolution.
type ResolvedTag struct {
	Name       tag.Name
	Confidence float64
	Evidence   string
}

// Resolution is the decision taken for one candidate.
type Resolution struct {
	// CandidateIndex is the position of the candidate in the input slice.
	CandidateIndex int

	Candidate    tag.Candidate
	ConflictType tag.ConflictType
	Action       tag.ResolutionAction
	Explanation  string

	// Target is the display name of the existing tag the candidate
	// conflicted with. Empty for context qualification.
	Target string

	// Tags are the tags the resolution synthesizes, in apply order.
	Tags []ResolvedTag

	// Weight is the blended weight of a merge.
	Weight float64
}

// Resolver classifies candidates against the active tags of a dimension.
//
// Rules are evaluated per candidate in fixed order and the first match wins:
// contradiction, temporal variant, intensity merge, context qualification.
// Historical tags take no part in matching.
//
// A Resolver is safe for concurrent use; SetRules swaps the table atomically
// for subsequent calls.
type Resolver struct {
	mu     sync.RWMutex
	rules  *Rules
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil rules uses DefaultRules and a nil
// logger uses slog.Default.
func NewResolver(rules *Rules, logger *slog.Logger) *Resolver {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{rules: rules, logger: logger}
}

// Rules returns the current rule table.
func (r *Resolver) Rules() *Rules {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules
}

// SetRules replaces the rule table.
func (r *Resolver) SetRules(rules *Rules) {
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
}

// Resolve returns one resolution for every candidate that matched a rule.
// Candidates without a resolution are left to plain reinforcement.
func (r *Resolver) Resolve(dimension string, existing []*tag.ActiveTag, candidates []tag.Candidate, now time.Time) []Resolution {
	rules := r.Rules()
	live := make([]*tag.ActiveTag, 0, len(existing))
	for _, t := range existing {
		if !t.IsHistorical() {
			live = append(live, t)
		}
	}

	var out []Resolution
	for i, c := range candidates {
		res, ok := r.resolveOne(rules, dimension, live, c, now)
		if !ok {
			continue
		}
		res.CandidateIndex = i
		res.Candidate = c
		r.logger.Debug("conflict resolved",
			slog.String("dimension", dimension),
			slog.String("candidate", c.Name),
			slog.String("type", string(res.ConflictType)),
			slog.String("action", string(res.Action)))
		out = append(out, res)
	}
	return out
}

func (r *Resolver) resolveOne(rules *Rules, dimension string, live []*tag.ActiveTag, c tag.Candidate, now time.Time) (Resolution, bool) {
	if res, ok := contradiction(rules, dimension, live, c, now); ok {
		return res, true
	}
	if res, ok := temporal(rules, live, c, now); ok {
		return res, true
	}
	if res, ok := intensity(rules, dimension, live, c); ok {
		return res, true
	}
	return contextual(rules, c)
}

func contradiction(rules *Rules, dimension string, live []*tag.ActiveTag, c tag.Candidate, now time.Time) (Resolution, bool) {
	for _, ex := range live {
		name := ex.DisplayName()
		if name == c.Name {
			continue
		}
		// a stale opposite that is also a temporal pattern belongs to the
		// temporal rule
		if isTemporalOpposite(rules, c.Name, name) && stale(rules, ex, now) {
			continue
		}
		for _, pair := range rules.ContradictoryPairs[dimension] {
			if !onOppositeSides(c.Name, name, pair) {
				continue
			}
			if c.Confidence > ex.AvgConfidence+rules.ReplaceMargin {
				return Resolution{
					ConflictType: tag.ConflictContradictory,
					Action:       tag.ActionReplace,
					Target:       name,
					Explanation: fmt.Sprintf("新标签'%s'(置信度%.2f)与现有标签'%s'(置信度%.2f)矛盾，新标签置信度更高，替换原标签",
						c.Name, c.Confidence, name, ex.AvgConfidence),
					Tags: []ResolvedTag{{
						Name:       tag.ParseName(c.Name),
						Confidence: c.Confidence,
						Evidence:   c.Evidence + " [替换原标签:" + name + "]",
					}},
				}, true
			}
			return Resolution{
				ConflictType: tag.ConflictContradictory,
				Action:       tag.ActionKeepExisting,
				Target:       name,
				Explanation: fmt.Sprintf("新标签'%s'(置信度%.2f)与现有标签'%s'(置信度%.2f)矛盾，置信度差距不足，保留现有标签",
					c.Name, c.Confidence, name, ex.AvgConfidence),
			}, true
		}
	}
	return Resolution{}, false
}

func temporal(rules *Rules, live []*tag.ActiveTag, c tag.Candidate, now time.Time) (Resolution, bool) {
	for _, ex := range live {
		name := ex.DisplayName()
		if name == c.Name || !isTemporalOpposite(rules, c.Name, name) || !stale(rules, ex, now) {
			continue
		}
		days := tag.DaysSince(ex.LastReinforced, now)
		past := ex.Name
		past.Temporal = tag.Historical
		current := tag.ParseName(c.Name)
		current.Temporal = tag.Current
		return Resolution{
			ConflictType: tag.ConflictTemporalChange,
			Action:       tag.ActionCreateTemporal,
			Target:       name,
			Explanation:  fmt.Sprintf("检测到时间变化：'%s'(%d天前) → '%s'，创建时间段标签", name, days, c.Name),
			Tags: []ResolvedTag{
				{Name: past, Confidence: ex.AvgConfidence, Evidence: fmt.Sprintf("历史标签，活跃期至%d天前", days)},
				{Name: current, Confidence: c.Confidence, Evidence: c.Evidence + " [时间段标签]"},
			},
		}, true
	}
	return Resolution{}, false
}

func intensity(rules *Rules, dimension string, live []*tag.ActiveTag, c tag.Candidate) (Resolution, bool) {
	for _, group := range rules.IntensityGroups[dimension] {
		newRank := indexOf(group, c.Name)
		if newRank < 0 {
			continue
		}
		for _, ex := range live {
			name := ex.DisplayName()
			oldRank := indexOf(group, name)
			if oldRank < 0 || oldRank == newRank {
				continue
			}
			existingWeight := ex.CurrentWeight
			if existingWeight == 0 {
				existingWeight = ex.AvgConfidence
			}
			weight := 0.7*existingWeight + 0.3*c.Confidence
			confidence := (ex.AvgConfidence + c.Confidence) / 2
			final := group[oldRank]
			if newRank > oldRank {
				final = group[newRank]
			}
			return Resolution{
				ConflictType: tag.ConflictIntensityDifference,
				Action:       tag.ActionMerge,
				Target:       name,
				Weight:       weight,
				Explanation: fmt.Sprintf("程度差异融合：'%s' + '%s' → '%s'，融合权重%.2f，融合置信度%.2f",
					name, c.Name, final, weight, confidence),
				Tags: []ResolvedTag{{
					Name:       tag.ParseName(final),
					Confidence: confidence,
					Evidence:   fmt.Sprintf("程度融合: [%s→%s] %s", name, c.Name, c.Evidence),
				}},
			}, true
		}
	}
	return Resolution{}, false
}

func contextual(rules *Rules, c tag.Candidate) (Resolution, bool) {
	name := tag.ParseName(c.Name)
	if name.Context != "" {
		return Resolution{}, false
	}
	evidence := strings.ToLower(c.Evidence)
	for _, kw := range rules.ContextIndicators {
		if !strings.Contains(evidence, strings.ToLower(kw)) {
			continue
		}
		name.Context = kw
		return Resolution{
			ConflictType: tag.ConflictContextDependent,
			Action:       tag.ActionAddContext,
			Explanation:  fmt.Sprintf("检测到上下文依赖：'%s'在'%s'情境下出现，添加上下文标签", c.Name, kw),
			Tags: []ResolvedTag{{
				Name:       name,
				Confidence: c.Confidence,
				Evidence:   c.Evidence + " [上下文:" + kw + "]",
			}},
		}, true
	}
	return Resolution{}, false
}

// onOppositeSides reports whether a and b overlap opposite words of pair.
func onOppositeSides(a, b string, pair Pair) bool {
	return (tag.Overlaps(a, pair[0]) && tag.Overlaps(b, pair[1])) ||
		(tag.Overlaps(a, pair[1]) && tag.Overlaps(b, pair[0]))
}

func isTemporalOpposite(rules *Rules, a, b string) bool {
	for _, p := range rules.TemporalPatterns {
		if onOppositeSides(a, b, p) {
			return true
		}
	}
	return false
}

func stale(rules *Rules, t *tag.ActiveTag, now time.Time) bool {
	return tag.DaysSince(t.LastReinforced, now) > rules.FreshnessDays
}

func indexOf(group []string, name string) int {
	for i, g := range group {
		if g == name {
			return i
		}
	}
	return -1
}
