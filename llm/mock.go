package llm

import (
	"context"
	"sync"
)

// Mock is a scripted Completer for tests. Responses are returned in order;
// once exhausted it keeps returning the last one. Prompts are recorded for
// assertions.
type Mock struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	Prompts   []string
}

var _ Completer = (*Mock)(nil)

// NewMock returns a Mock that replays the given responses.
func NewMock(responses ...string) *Mock {
	return &Mock{responses: responses}
}

// Fail makes every Complete call return err.
func (m *Mock) Fail(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *Mock) Complete(_ context.Context, _ string, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", ErrEmptyResponse
	}
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	return m.responses[idx], nil
}

// Calls reports how many times Complete was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
