package core

import (
	"context"
	"sync"
)

// AsyncClient provides asynchronous tag profile operations.
//
// It wraps the synchronous Client and runs Process in separate goroutines,
// returning channels that receive the results. Calls for the same user are
// still serialized by the Client, though not necessarily in call order.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.ProcessAsync(ctx, "user_001", "今天很开心")
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// ProcessResult contains the result of an asynchronous Process call.
type ProcessResult struct {
	// Result is the update result (nil if an error occurred).
	Result *Result

	// Error is the error returned by the operation (nil if it succeeded).
	Error error
}

// ProcessAsync processes a text event asynchronously.
func (ac *AsyncClient) ProcessAsync(ctx context.Context, userID, text string, opts ...ProcessOption) <-chan *ProcessResult {
	resultChan := make(chan *ProcessResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.Process(ctx, userID, text, opts...)
		resultChan <- &ProcessResult{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// DeleteUserAsync deletes a user's profile and logs asynchronously.
func (ac *AsyncClient) DeleteUserAsync(ctx context.Context, userID string) <-chan error {
	errChan := make(chan error, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		errChan <- ac.DeleteUser(ctx, userID)
		close(errChan)
	}()

	return errChan
}

// Wait waits for all asynchronous operations to complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for all asynchronous operations, then closes the underlying
// client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}
