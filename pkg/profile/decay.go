// Package profile owns the canonical per-dimension tag state of a Profile:
// conflict resolution, reinforcement, time decay, trimming and metrics.
package profile

import (
	"math"
	"time"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// DecayModel computes the effective weight of a tag from the time since it
// was last reinforced.
//
// The weight falls linearly with whole elapsed days:
//
//	current_weight = avg_confidence × max(Floor, 1 − days × decay_rate / PeriodDays)
//
// With the default decay rate of 0.1 a tag reaches the floor after about
// 270 days without reinforcement.
type DecayModel struct {
	// Floor is the smallest decay factor, so a tag never fades out entirely.
	Floor float64 `json:"floor" yaml:"floor"`

	// PeriodDays scales the decay rate; a rate applies per PeriodDays days.
	PeriodDays float64 `json:"period_days" yaml:"period_days"`
}

// DefaultDecayModel returns a floor of 0.1 over a 30 day period.
func DefaultDecayModel() DecayModel {
	return DecayModel{Floor: 0.1, PeriodDays: 30}
}

// Factor returns the multiplier applied to avg_confidence, in [Floor, 1].
func (m DecayModel) Factor(decayRate float64, days int) float64 {
	if days <= 0 || m.PeriodDays <= 0 {
		return 1
	}
	f := 1 - float64(days)*decayRate/m.PeriodDays
	f = math.Max(m.Floor, f)
	return math.Min(1, f)
}

// CurrentWeight returns the decayed weight of t at now.
func (m DecayModel) CurrentWeight(t *tag.ActiveTag, now time.Time) float64 {
	return t.AvgConfidence * m.Factor(t.DecayRate, tag.DaysSince(t.LastReinforced, now))
}

// DaysToFloor returns how many days without reinforcement bring a tag with
// the given decay rate down to the floor.
func (m DecayModel) DaysToFloor(decayRate float64) int {
	if decayRate <= 0 {
		return math.MaxInt32
	}
	return int(math.Ceil((1 - m.Floor) * m.PeriodDays / decayRate))
}
