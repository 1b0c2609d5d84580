package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// FakeClient is a scriptable Client for tests: each call to Generate pops the
// next response (or error) queued under its target tag, in FIFO order.
// Unscripted targets return an error so tests fail loudly instead of hanging.
type FakeClient struct {
	mu        sync.Mutex
	responses map[string][]fakeResult
	Calls     []Request
}

type fakeResult struct {
	body json.RawMessage
	err  error
}

// NewFakeClient constructs an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{responses: make(map[string][]fakeResult)}
}

// QueueResponse schedules body to be returned from the next Generate call
// against target.
func (f *FakeClient) QueueResponse(target string, body json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[target] = append(f.responses[target], fakeResult{body: body})
}

// QueueError schedules err to be returned from the next Generate call
// against target.
func (f *FakeClient) QueueError(target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[target] = append(f.responses[target], fakeResult{err: err})
}

// Generate implements Client.
func (f *FakeClient) Generate(_ context.Context, target string, req Request) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)

	queue := f.responses[target]
	if len(queue) == 0 {
		return nil, fmt.Errorf("fake llm client: no response queued for target %q", target)
	}
	next := queue[0]
	f.responses[target] = queue[1:]
	return next.body, next.err
}
