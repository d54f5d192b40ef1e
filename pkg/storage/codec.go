package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// EncodeProfile serializes a profile snapshot.
func EncodeProfile(p *tag.Profile) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeProfile restores a profile snapshot.
func DecodeProfile(data []byte) (*tag.Profile, error) {
	var p tag.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Dimensions == nil {
		p.Dimensions = map[string]*tag.Dimension{}
	}
	for key, d := range p.Dimensions {
		if d.Key == "" {
			d.Key = key
		}
		if d.ActiveTags == nil {
			d.ActiveTags = []*tag.ActiveTag{}
		}
		if d.ConflictHistory == nil {
			d.ConflictHistory = []tag.ConflictRecord{}
		}
	}
	return &p, nil
}

// LogParts is a TagLog split into its three independently encoded logs.
type LogParts struct {
	Triggers []byte
	History  []byte
	Evidence []byte
}

// EncodeLogParts serializes each log of l separately.
func EncodeLogParts(l *tag.TagLog) (LogParts, error) {
	var parts LogParts
	var err error
	if parts.Triggers, err = json.Marshal(nonNil(l.Triggers)); err != nil {
		return parts, err
	}
	if parts.History, err = json.Marshal(nonNil(l.History)); err != nil {
		return parts, err
	}
	if parts.Evidence, err = json.Marshal(nonNil(l.Evidence)); err != nil {
		return parts, err
	}
	return parts, nil
}

// DecodeLogParts restores a TagLog. Each part that fails to decode is left
// empty and reported through the returned error, which wraps ErrCorruptLog.
func DecodeLogParts(name string, parts LogParts) (*tag.TagLog, error) {
	l := tag.NewTagLog(name)
	var errs []error
	if err := decodePart(parts.Triggers, &l.Triggers); err != nil {
		l.Triggers = []tag.TriggerRecord{}
		errs = append(errs, fmt.Errorf("triggers: %w", err))
	}
	if err := decodePart(parts.History, &l.History); err != nil {
		l.History = []tag.HistoryEntry{}
		errs = append(errs, fmt.Errorf("history: %w", err))
	}
	if err := decodePart(parts.Evidence, &l.Evidence); err != nil {
		l.Evidence = []tag.EvidenceItem{}
		errs = append(errs, fmt.Errorf("evidence: %w", err))
	}
	if len(errs) > 0 {
		return l, fmt.Errorf("%w: tag %q: %v", ErrCorruptLog, name, errors.Join(errs...))
	}
	return l, nil
}

// EncodeTagLog serializes a whole TagLog as one document.
func EncodeTagLog(l *tag.TagLog) ([]byte, error) {
	return json.Marshal(l)
}

// DecodeTagLog restores a TagLog stored as one document. A document that
// fails to decode yields an empty log and an error wrapping ErrCorruptLog.
func DecodeTagLog(name string, data []byte) (*tag.TagLog, error) {
	var l tag.TagLog
	if err := json.Unmarshal(data, &l); err != nil {
		return tag.NewTagLog(name), fmt.Errorf("%w: tag %q: %v", ErrCorruptLog, name, err)
	}
	l.TagName = name
	if l.Triggers == nil {
		l.Triggers = []tag.TriggerRecord{}
	}
	if l.History == nil {
		l.History = []tag.HistoryEntry{}
	}
	if l.Evidence == nil {
		l.Evidence = []tag.EvidenceItem{}
	}
	return &l, nil
}

func decodePart[T any](data []byte, out *[]T) error {
	if len(data) == 0 {
		*out = []T{}
		return nil
	}
	var v []T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		v = []T{}
	}
	*out = v
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
