// Package extractor turns free text into candidate tags.
//
// A Source is the boundary between the profile engine and whatever maps text
// to labels. Two sources ship with the package: LLMSource asks an
// OpenAI-compatible model for tags per dimension, and BehaviorAnalyzer
// derives interaction and mood tags from simple text features. Combine
// merges several sources into one.
package extractor

import (
	"context"
	"errors"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Source extracts candidate tags from text, grouped by dimension key.
type Source interface {
	Extract(ctx context.Context, text string) (map[string][]tag.Candidate, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, text string) (map[string][]tag.Candidate, error)

// Extract calls f.
func (f SourceFunc) Extract(ctx context.Context, text string) (map[string][]tag.Candidate, error) {
	return f(ctx, text)
}

// Combined merges the output of several sources in order. A candidate whose
// name already exists in its dimension is dropped, so earlier sources win.
type Combined struct {
	sources []Source
}

// Combine returns a source merging sources. Nil entries are ignored.
func Combine(sources ...Source) *Combined {
	c := &Combined{}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Extract runs every source. Results of the sources that succeeded are
// merged; the joined error of the failed ones is returned alongside. Only
// when every source fails is the result nil.
func (c *Combined) Extract(ctx context.Context, text string) (map[string][]tag.Candidate, error) {
	merged := make(map[string][]tag.Candidate)
	var errs []error
	for _, s := range c.sources {
		out, err := s.Extract(ctx, text)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		Merge(merged, out)
	}
	if len(errs) > 0 && len(errs) == len(c.sources) {
		return nil, errors.Join(errs...)
	}
	return merged, errors.Join(errs...)
}

// Merge adds the candidates of src into dst, skipping names dst already
// holds for the same dimension.
func Merge(dst, src map[string][]tag.Candidate) {
	for dim, cands := range src {
		existing := make(map[string]bool, len(dst[dim])+len(cands))
		for _, c := range dst[dim] {
			existing[c.Name] = true
		}
		for _, c := range cands {
			if existing[c.Name] {
				continue
			}
			existing[c.Name] = true
			dst[dim] = append(dst[dim], c)
		}
	}
}
