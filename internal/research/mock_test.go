package research

import (
	"context"
	"sync"

	"github.com/harborintel/port-research/pkg/anthropic"
)

// fakeLLM routes CreateMessage calls through a handler so each test shapes
// the responses it needs.
type fakeLLM struct {
	mu      sync.Mutex
	calls   []anthropic.MessageRequest
	handler func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (f *fakeLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.handler == nil {
		return textResponse("{}"), nil
	}
	return f.handler(req)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// fakeProvider answers research queries from a per-query-name script and
// counts attempts, so retry behavior is observable.
type fakeProvider struct {
	mu       sync.Mutex
	attempts map[string]int
	handler  func(queryName string, attempt int) (*QueryResult, error)
}

func (f *fakeProvider) ExecuteResearchQuery(ctx context.Context, query, queryName, systemPrompt, model string) (*QueryResult, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[queryName]++
	attempt := f.attempts[queryName]
	f.mu.Unlock()
	return f.handler(queryName, attempt)
}

func (f *fakeProvider) attemptCount(queryName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[queryName]
}
