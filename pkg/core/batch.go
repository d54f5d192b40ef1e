package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency is the number of users ProcessBatch updates at
// once when no limit is given.
const DefaultBatchConcurrency = 4

// Event is one text event for ProcessBatch.
type Event struct {
	UserID string
	Text   string
	Opts   []ProcessOption
}

// BatchResult is the outcome of one event of a batch.
type BatchResult struct {
	// Index is the event's position in the input.
	Index  int
	Result *Result
	Error  error
}

// ProcessBatch processes events concurrently across users. Events of the
// same user run in input order, one after the other. concurrency bounds the
// number of users processed at once; non-positive means
// DefaultBatchConcurrency.
//
// Results are returned in input order. A failing event does not stop the
// others; once ctx is cancelled the remaining events fail with ctx.Err().
func (c *Client) ProcessBatch(ctx context.Context, events []Event, concurrency int) []BatchResult {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]BatchResult, len(events))
	var order []string
	byUser := make(map[string][]int)
	for i, ev := range events {
		results[i].Index = i
		if _, ok := byUser[ev.UserID]; !ok {
			order = append(order, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], i)
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, userID := range order {
		indexes := byUser[userID]
		g.Go(func() error {
			for _, i := range indexes {
				if err := ctx.Err(); err != nil {
					results[i].Error = NewTagError("ProcessBatch", err)
					continue
				}
				ev := events[i]
				results[i].Result, results[i].Error = c.Process(ctx, ev.UserID, ev.Text, ev.Opts...)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
