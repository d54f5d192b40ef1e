package conflict

import (
	"math"
	"time"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Apply executes resolutions left to right against existing and returns the
// updated tag list together with one ConflictRecord per resolution.
//
// When several tags share the base name a resolution targets, the first one
// in iteration order is mutated. Synthesized tags whose display name already
// exists reinforce that tag instead of duplicating it.
func (r *Resolver) Apply(existing []*tag.ActiveTag, resolutions []Resolution, now time.Time) ([]*tag.ActiveTag, []tag.ConflictRecord) {
	tags := append([]*tag.ActiveTag(nil), existing...)
	records := make([]tag.ConflictRecord, 0, len(resolutions))

	for _, res := range resolutions {
		rec := tag.ConflictRecord{
			Timestamp:    now,
			ConflictType: res.ConflictType,
			Action:       res.Action,
			Explanation:  res.Explanation,
			ResolvedTags: make([]string, 0, len(res.Tags)),
		}
		for _, rt := range res.Tags {
			rec.ResolvedTags = append(rec.ResolvedTags, rt.Name.String())
		}

		switch res.Action {
		case tag.ActionReplace:
			rec.ReplacedTag = res.Target
			tags = applyReplace(tags, res, now)
		case tag.ActionMerge:
			tags = applyMerge(tags, res, now)
		case tag.ActionCreateTemporal:
			tags = applyTemporal(tags, res, now)
		case tag.ActionAddContext:
			for _, rt := range res.Tags {
				tags = upsert(tags, rt, now)
			}
		}
		records = append(records, rec)
	}
	return tags, records
}

func applyReplace(tags []*tag.ActiveTag, res Resolution, now time.Time) []*tag.ActiveTag {
	if len(res.Tags) == 0 {
		return tags
	}
	idx := firstByBase(tags, tag.BaseName(res.Target))
	if idx < 0 {
		return upsert(tags, res.Tags[0], now)
	}
	tags[idx] = synthesize(res.Tags[0], now)
	return foldDuplicates(tags, idx)
}

func applyMerge(tags []*tag.ActiveTag, res Resolution, now time.Time) []*tag.ActiveTag {
	if len(res.Tags) == 0 {
		return tags
	}
	merged := synthesize(res.Tags[0], now)
	// the blend may not outweigh the merged confidence
	merged.CurrentWeight = math.Min(res.Weight, merged.AvgConfidence)
	base := merged.BaseName()

	// every tag overlapping the merged base goes, historical ones included
	kept := tags[:0:0]
	for _, t := range tags {
		if tag.Overlaps(t.BaseName(), base) || t.DisplayName() == res.Target {
			if t.FirstDetected.Before(merged.FirstDetected) {
				merged.FirstDetected = t.FirstDetected
			}
			continue
		}
		kept = append(kept, t)
	}
	return append(kept, merged)
}

func applyTemporal(tags []*tag.ActiveTag, res Resolution, now time.Time) []*tag.ActiveTag {
	if len(res.Tags) != 2 {
		return tags
	}
	past, current := res.Tags[0], res.Tags[1]

	idx := -1
	for i, t := range tags {
		if !t.IsHistorical() && t.DisplayName() == res.Target {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = firstByBase(tags, tag.BaseName(res.Target))
	}
	if idx >= 0 {
		tags[idx].Name = past.Name
		tags[idx].ConflictResolved = true
		tags = foldDuplicates(tags, idx)
	} else {
		tags = upsert(tags, past, now)
	}
	return upsert(tags, current, now)
}

// firstByBase returns the index of the first non-historical tag whose base
// name equals base.
func firstByBase(tags []*tag.ActiveTag, base string) int {
	for i, t := range tags {
		if !t.IsHistorical() && t.BaseName() == base {
			return i
		}
	}
	return -1
}

func synthesize(rt ResolvedTag, now time.Time) *tag.ActiveTag {
	t := tag.NewActiveTag(rt.Name, rt.Confidence, rt.Evidence, now)
	t.ConflictResolved = true
	return t
}

func upsert(tags []*tag.ActiveTag, rt ResolvedTag, now time.Time) []*tag.ActiveTag {
	name := rt.Name.String()
	for _, t := range tags {
		if t.DisplayName() == name {
			t.Reinforce(rt.Confidence, rt.Evidence, now)
			t.ConflictResolved = true
			return tags
		}
	}
	return append(tags, synthesize(rt, now))
}

// foldDuplicates merges every other tag sharing the display name of
// tags[keep] into it.
func foldDuplicates(tags []*tag.ActiveTag, keep int) []*tag.ActiveTag {
	target := tags[keep]
	name := target.DisplayName()
	out := tags[:0:0]
	for i, t := range tags {
		if i != keep && t.DisplayName() == name {
			target.EvidenceCount += t.EvidenceCount
			target.TotalConfidence += t.TotalConfidence
			target.AvgConfidence = target.TotalConfidence / float64(target.EvidenceCount)
			if t.FirstDetected.Before(target.FirstDetected) {
				target.FirstDetected = t.FirstDetected
			}
			if t.LastReinforced.After(target.LastReinforced) {
				target.LastReinforced = t.LastReinforced
			}
			continue
		}
		out = append(out, t)
	}
	return out
}
