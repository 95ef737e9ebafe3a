package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the provider-qualified name MockLLM registers under.
const MockModelName = "mock/test-model"

// MockLLM provides deterministic model responses for testing.
//
// It matches the user message against registered patterns and returns
// the corresponding response, with optional error injection for retry
// and circuit breaker tests. Thread-safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	chunks   []string // overrides response streaming when set
	errQueue []error  // consumed one per call before any response
	errCount int
	requests []*ai.ModelRequest
}

type mockRule struct {
	pattern  string // case-insensitive substring of the user message
	response string
}

// NewMockLLM creates a mock model returning fallback when no pattern
// matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair. Patterns are checked in
// registration order; first match wins.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: strings.ToLower(pattern), response: response})
}

// FailNext queues errs to be returned by the next len(errs) calls, before
// any pattern matching. Use it to script transient failure sequences.
func (m *MockLLM) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errQueue = append(m.errQueue, errs...)
}

// SetChunks makes streaming calls deliver exactly these fragments, and the
// final response text their concatenation. Non-streaming calls are
// unaffected by the fragment boundaries.
func (m *MockLLM) SetChunks(chunks ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
}

// Calls reports how many generate calls reached the mock, including calls
// that returned injected errors.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests) + m.errCount
}

// LastRequest returns the most recent request that produced a response, or
// nil if none did. Injected-error calls record no request.
func (m *MockLLM) LastRequest() *ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Register defines the mock as a Genkit model named MockModelName.
func (m *MockLLM) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, MockModelName, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m.mu.Lock()
	if len(m.errQueue) > 0 {
		err := m.errQueue[0]
		m.errQueue = m.errQueue[1:]
		m.errCount++
		m.mu.Unlock()
		return nil, err
	}

	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	responseText := m.fallback
	lower := strings.ToLower(userText)
	for _, rule := range m.rules {
		if strings.Contains(lower, rule.pattern) {
			responseText = rule.response
			break
		}
	}

	fragments := []string{responseText}
	if len(m.chunks) > 0 {
		fragments = m.chunks
		responseText = strings.Join(m.chunks, "")
	}

	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if cb != nil {
		for _, fragment := range fragments {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(fragment)},
			}); err != nil {
				return nil, err
			}
		}
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		},
	}, nil
}
