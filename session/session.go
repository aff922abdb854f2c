// Package session tracks per-chat state for the bridge: the pending prompt
// queue, the bound backend conversation, and the registry that attributes
// backend payloads back to chats.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Prompt is one queued chat message awaiting dispatch to the backend.
type Prompt struct {
	ID     string
	ChatID string
	Text   string
	Sender string
	Queued time.Time
}

// NewPrompt stamps a prompt with a fresh id and queue time.
func NewPrompt(chatID, text, sender string) *Prompt {
	return &Prompt{
		ID:     uuid.NewString(),
		ChatID: chatID,
		Text:   text,
		Sender: sender,
		Queued: time.Now(),
	}
}

// Session is the per-chat state bundle. It is created on the first inbound
// message for a chat and lives until bridge shutdown; a reset empties it but
// keeps it registered.
//
// At most one prompt per session is in flight at any time: BeginNext refuses
// to pop while processing is set, and the dispatch loop only clears
// processing after a prompt fully resolves.
type Session struct {
	ChatID string

	mu             sync.Mutex
	queue          []*Prompt
	processing     bool
	conversationID string
	lastRollout    string
	lastActive     time.Time
	warned         bool
	warnTimer      *time.Timer
	wake           chan struct{}
}

func newSession(chatID string) *Session {
	return &Session{
		ChatID:     chatID,
		lastActive: time.Now(),
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue appends a prompt and wakes the session's dispatch loop.
func (s *Session) Enqueue(p *Prompt) {
	s.mu.Lock()
	s.queue = append(s.queue, p)
	s.lastActive = time.Now()
	s.mu.Unlock()
	s.signal()
}

// Wake returns the channel the dispatch loop blocks on.
func (s *Session) Wake() <-chan struct{} { return s.wake }

// Kick wakes the dispatch loop without enqueuing anything, used when the
// backend becomes ready and queued prompts can finally flow.
func (s *Session) Kick() { s.signal() }

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// BeginNext pops the head of the queue and marks the session processing.
// It returns nil when the queue is empty or a prompt is already in flight.
func (s *Session) BeginNext() *Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing || len(s.queue) == 0 {
		return nil
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	s.processing = true
	s.lastActive = time.Now()
	return p
}

// Finish clears the processing flag and re-wakes the loop if more prompts
// are queued.
func (s *Session) Finish() {
	s.mu.Lock()
	s.processing = false
	more := len(s.queue) > 0
	s.mu.Unlock()
	if more {
		s.signal()
	}
}

// ConversationID returns the bound conversation id, or "" when unbound.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Processing reports whether a prompt from this session is in flight.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// QueueLen returns the number of prompts waiting (not counting one in
// flight).
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SetRollout records the backend's rollout/history pointer. Informational
// only.
func (s *Session) SetRollout(path string) {
	s.mu.Lock()
	s.lastRollout = path
	s.mu.Unlock()
}

// LastRollout returns the last recorded rollout pointer, or "".
func (s *Session) LastRollout() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRollout
}

// LastActive returns the last interaction timestamp.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Snapshot is a point-in-time view of a session used by status queries.
type Snapshot struct {
	ChatID         string
	QueueLen       int
	Processing     bool
	ConversationID string
	LastRollout    string
	LastActive     time.Time
}

// Snapshot captures the session state under one lock acquisition.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ChatID:         s.ChatID,
		QueueLen:       len(s.queue),
		Processing:     s.processing,
		ConversationID: s.conversationID,
		LastRollout:    s.lastRollout,
		LastActive:     s.lastActive,
	}
}
