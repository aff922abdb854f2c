package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWarnDelay is how long the registry waits for a conversation id to
// show up before warning the chat that follow-ups cannot continue the
// conversation.
const DefaultWarnDelay = 300 * time.Millisecond

// Registry owns every live session and the conversation-id reverse index
// used to attribute unsolicited backend payloads (which carry no chat
// identifier) back to a chat. The reverse index is mutated only together
// with the session's own conversation field, under the registry lock.
type Registry struct {
	warnDelay time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	byConv   map[string]*Session
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		warnDelay: DefaultWarnDelay,
		logger:    logger,
		sessions:  make(map[string]*Session),
		byConv:    make(map[string]*Session),
	}
}

// GetOrCreate returns the session for a chat, creating it on first use.
func (r *Registry) GetOrCreate(chatID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[chatID]; ok {
		return s
	}
	s := newSession(chatID)
	r.sessions[chatID] = s
	r.logger.Debug("session created", "chat", chatID)
	return s
}

// Get returns the session for a chat, or nil if none exists yet.
func (r *Registry) Get(chatID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[chatID]
}

// All returns every live session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Bind installs (or, with an empty id, clears) a session's conversation
// binding, keeping the reverse index consistent: the old mapping is removed
// before the new one is added. Binding a non-empty id cancels any pending
// missing-id warning.
func (r *Registry) Bind(s *Session, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindLocked(s, conversationID)
}

func (r *Registry) bindLocked(s *Session, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID != "" {
		delete(r.byConv, s.conversationID)
	}
	s.conversationID = conversationID
	if conversationID == "" {
		return
	}
	r.byConv[conversationID] = s
	s.warned = false
	if s.warnTimer != nil {
		s.warnTimer.Stop()
		s.warnTimer = nil
	}
}

// SessionFor returns the session bound to a conversation id, or nil.
func (r *Registry) SessionFor(conversationID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byConv[conversationID]
}

// ResolveFromPayload extracts a conversation id from an arbitrary backend
// payload and attributes it to a session. A known id maps to its owner; an
// unknown id falls back to the most recently active session without a bound
// conversation and binds it. When two sessions are simultaneously unbound
// the last-active-wins rule can mis-attribute; ties break on chat id so the
// choice is at least deterministic. Payloads with no recognizable id, or
// with no candidate session, are ignored.
func (r *Registry) ResolveFromPayload(payload any) *Session {
	id, ok := ExtractConversationID(payload)
	if !ok {
		return nil
	}

	r.mu.Lock()
	if s := r.byConv[id]; s != nil {
		r.mu.Unlock()
		return s
	}

	var best *Session
	var bestActive time.Time
	for _, s := range r.sessions {
		s.mu.Lock()
		unbound := s.conversationID == ""
		active := s.lastActive
		s.mu.Unlock()
		if !unbound {
			continue
		}
		if best == nil || active.After(bestActive) ||
			(active.Equal(bestActive) && s.ChatID < best.ChatID) {
			best = s
			bestActive = active
		}
	}
	if best == nil {
		r.mu.Unlock()
		return nil
	}
	r.bindLocked(best, id)
	r.mu.Unlock()

	r.logger.Info("attributed conversation to chat", "conversation", id, "chat", best.ChatID)
	return best
}

// Reset empties a session: pending prompts, conversation binding, rollout
// pointer, and warning state all go. The session itself stays registered so
// the next prompt from the chat reuses it. Idempotent.
func (r *Registry) Reset(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.mu.Lock()
	s.queue = nil
	s.lastRollout = ""
	s.warned = false
	if s.warnTimer != nil {
		s.warnTimer.Stop()
		s.warnTimer = nil
	}
	s.mu.Unlock()

	r.bindLocked(s, "")
}

// ClearBindings drops every conversation binding, used when the backend
// process goes away and its conversation ids die with it.
func (r *Registry) ClearBindings() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		r.bindLocked(s, "")
	}
}

// ScheduleMissingIDWarning arms a one-shot timer that calls warn if the
// session still has no conversation id when it fires. A no-op when the
// session is bound, already warned, or already armed; binding an id later
// cancels it.
func (r *Registry) ScheduleMissingIDWarning(s *Session, warn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID != "" || s.warned || s.warnTimer != nil {
		return
	}
	s.warnTimer = time.AfterFunc(r.warnDelay, func() {
		s.mu.Lock()
		s.warnTimer = nil
		if s.conversationID != "" || s.warned {
			s.mu.Unlock()
			return
		}
		s.warned = true
		s.mu.Unlock()
		warn()
	})
}

// SetWarnDelay overrides the missing-id warning delay. Intended for tests.
func (r *Registry) SetWarnDelay(d time.Duration) { r.warnDelay = d }
