package core

import (
	"context"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// TagLogBatch is a batch of tag logs from TagLogStream.
type TagLogBatch struct {
	// Logs is a batch of tag logs, ordered by tag name.
	Logs []*tag.TagLog

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming (if any).
	Error error
}

// TagLogStream streams every tag log of a user in batches, for exporting
// or auditing a whole profile's provenance.
//
// The logs are read in one repository call and delivered batchSize at a
// time. The channel is closed when all batches have been sent, ctx is
// cancelled or an error occurs. On cancellation a final batch carrying
// ctx.Err() is delivered only if the channel has room for it.
//
// Example:
//
//	for batch := range client.TagLogStream(ctx, "user_001", 20) {
//	    if batch.Error != nil {
//	        log.Fatal(batch.Error)
//	    }
//	    for _, l := range batch.Logs {
//	        fmt.Println(l.TagName, len(l.Triggers))
//	    }
//	}
func (c *Client) TagLogStream(ctx context.Context, userID string, batchSize int) <-chan *TagLogBatch {
	resultChan := make(chan *TagLogBatch, 1)

	go func() {
		defer close(resultChan)

		if err := checkUser("TagLogStream", userID); err != nil {
			resultChan <- &TagLogBatch{Error: err}
			return
		}
		if batchSize <= 0 {
			batchSize = 50
		}

		logs, err := c.repo.ListTagLogs(ctx, userID)
		if err != nil {
			resultChan <- &TagLogBatch{Error: NewTagError("TagLogStream", err)}
			return
		}
		if len(logs) == 0 {
			resultChan <- &TagLogBatch{IsLastBatch: true}
			return
		}

		for batchIndex, start := 0, 0; start < len(logs); batchIndex, start = batchIndex+1, start+batchSize {
			end := start + batchSize
			if end > len(logs) {
				end = len(logs)
			}
			batch := &TagLogBatch{
				Logs:        logs[start:end],
				BatchIndex:  batchIndex,
				IsLastBatch: end == len(logs),
			}
			select {
			case <-ctx.Done():
				// a consumer that stopped reading must not block the close
				select {
				case resultChan <- &TagLogBatch{BatchIndex: batchIndex, Error: ctx.Err()}:
				default:
				}
				return
			case resultChan <- batch:
			}
		}
	}()

	return resultChan
}
