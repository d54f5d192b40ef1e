package extractor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// ErrMalformedCandidate indicates a candidate that cannot be applied.
var ErrMalformedCandidate = errors.New("malformed candidate")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Rejection is a candidate dropped by Normalize.
type Rejection struct {
	Candidate tag.Candidate `json:"candidate"`
	Reason    string        `json:"reason"`
}

// Error implements error; the error wraps ErrMalformedCandidate.
func (r Rejection) Error() string {
	return fmt.Sprintf("%v: %q in %q: %s", ErrMalformedCandidate, r.Candidate.Name, r.Candidate.Dimension, r.Reason)
}

// Unwrap returns ErrMalformedCandidate.
func (r Rejection) Unwrap() error { return ErrMalformedCandidate }

// Normalize cleans extracted candidates before they reach the profile.
//
// Names and dimensions are trimmed, a candidate without dimension takes its
// map key, and confidence is clamped to [0,1]. Candidates with a blank name,
// a blank dimension or a NaN confidence are rejected. Rejections come back
// in dimension order.
func Normalize(byDimension map[string][]tag.Candidate) (map[string][]tag.Candidate, []Rejection) {
	keys := make([]string, 0, len(byDimension))
	for k := range byDimension {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string][]tag.Candidate, len(byDimension))
	var rejected []Rejection
	for _, key := range keys {
		for _, c := range byDimension[key] {
			c.Name = strings.TrimSpace(c.Name)
			c.Dimension = strings.TrimSpace(c.Dimension)
			if c.Dimension == "" {
				c.Dimension = strings.TrimSpace(key)
			}
			if err := validate.Struct(c); err != nil {
				rejected = append(rejected, Rejection{Candidate: c, Reason: reason(err)})
				continue
			}
			if math.IsNaN(c.Confidence) {
				rejected = append(rejected, Rejection{Candidate: c, Reason: "confidence is NaN"})
				continue
			}
			c.Confidence = clamp(c.Confidence)
			out[c.Dimension] = append(out[c.Dimension], c)
		}
	}
	return out, rejected
}

func reason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field()))
		}
		return strings.Join(fields, ", ") + " is required"
	}
	return err.Error()
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
