// Package testutil provides common test helpers and utilities.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/pkg/llm"
)

// WriteFile creates a file with the given content below dir, creating
// parent directories as needed.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ReadFile reads the content of a file.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

// SetEnv sets an environment variable for the duration of the test.
func SetEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

// Response is one scripted reply. Err fails the Chat call itself; Events
// are streamed otherwise.
type Response struct {
	Events []domain.StreamEvent
	Err    error
}

// Reply streams text in one chunk followed by usage and done.
func Reply(text string, in, out int) Response {
	return Response{Events: []domain.StreamEvent{
		{Type: domain.StreamEventText, Content: text},
		{Type: domain.StreamEventUsage, Usage: &domain.Usage{InputTokens: in, OutputTokens: out}},
		{Type: domain.StreamEventDone, Done: true},
	}}
}

// Chunks streams each piece as its own text event and then done, with no
// provider usage.
func Chunks(pieces ...string) Response {
	var events []domain.StreamEvent
	for _, p := range pieces {
		events = append(events, domain.StreamEvent{Type: domain.StreamEventText, Content: p})
	}
	events = append(events, domain.StreamEvent{Type: domain.StreamEventDone, Done: true})
	return Response{Events: events}
}

// Fail rejects the Chat call with err.
func Fail(err error) Response {
	return Response{Err: err}
}

// Cut streams the pieces and then ends with err instead of done.
func Cut(err error, pieces ...string) Response {
	r := Chunks(pieces...)
	r.Events[len(r.Events)-1] = domain.StreamEvent{Type: domain.StreamEventError, Error: err}
	return r
}

// MockProvider replays scripted responses in order. Calls past the end of
// the script repeat the last response.
type MockProvider struct {
	mu        sync.Mutex
	responses []Response
	requests  []llm.ChatRequest
	models    []domain.Model
}

func NewMockProvider(responses ...Response) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) ID() string   { return "mock" }
func (m *MockProvider) Name() string { return "Mock" }
func (m *MockProvider) Models() []domain.Model {
	return m.models
}

// Push appends more scripted responses.
func (m *MockProvider) Push(responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

func (m *MockProvider) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, *req)
	var resp Response
	switch {
	case idx < len(m.responses):
		resp = m.responses[idx]
	case len(m.responses) > 0:
		resp = m.responses[len(m.responses)-1]
	}
	m.mu.Unlock()

	if resp.Err != nil {
		return nil, resp.Err
	}

	events := make(chan domain.StreamEvent)
	go func() {
		defer close(events)
		for _, ev := range resp.Events {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns copies of every request received so far.
func (m *MockProvider) Requests() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ChatRequest(nil), m.requests...)
}
