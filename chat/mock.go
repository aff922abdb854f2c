package chat

import (
	"context"
	"sync"
)

// Sent records one delivered reply.
type Sent struct {
	ChatID string
	Text   string
	Opts   SendOptions
}

// MockMessenger records sends for assertions in tests.
type MockMessenger struct {
	mu    sync.Mutex
	sent  []Sent
	Fail  error // when set, SendMessage returns it
	Woken chan struct{}
}

// NewMockMessenger creates a recording messenger. Each send signals Woken
// (non-blocking) so tests can wait for deliveries without polling.
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{Woken: make(chan struct{}, 64)}
}

func (m *MockMessenger) SendMessage(_ context.Context, chatID, text string, opts SendOptions) error {
	if m.Fail != nil {
		return m.Fail
	}
	m.mu.Lock()
	m.sent = append(m.sent, Sent{ChatID: chatID, Text: text, Opts: opts})
	m.mu.Unlock()
	select {
	case m.Woken <- struct{}{}:
	default:
	}
	return nil
}

// Messages returns a copy of everything sent so far.
func (m *MockMessenger) Messages() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// Last returns the most recent send, or a zero Sent.
func (m *MockMessenger) Last() Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Sent{}
	}
	return m.sent[len(m.sent)-1]
}
