package messaging

import (
	"context"
	"sync"

	"github.com/erain9/exchango/pkg/core"
)

// Published is one call recorded by MockPublisher
type Published struct {
	RunID  string
	Result *core.Result
}

// MockPublisher records published results for tests
type MockPublisher struct {
	mu    sync.Mutex
	calls []Published
	// Err is returned from every PublishResult call
	Err error
}

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishResult records the call
func (m *MockPublisher) PublishResult(_ context.Context, runID string, result *core.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Published{RunID: runID, Result: result})
	return m.Err
}

// Calls returns the recorded calls
func (m *MockPublisher) Calls() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.calls...)
}

// Ensure MockPublisher implements ResultPublisher
var _ ResultPublisher = (*MockPublisher)(nil)
