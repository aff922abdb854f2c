package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	a := r.GetOrCreate("chat-1")
	require.NotNil(t, a)
	assert.Equal(t, "chat-1", a.ChatID)
	assert.Same(t, a, r.GetOrCreate("chat-1"))
	assert.Same(t, a, r.Get("chat-1"))

	assert.Nil(t, r.Get("chat-2"))
	b := r.GetOrCreate("chat-2")
	assert.NotSame(t, a, b)
	assert.Len(t, r.All(), 2)
}

func TestBindMaintainsReverseIndex(t *testing.T) {
	r := NewRegistry(nil)
	s := r.GetOrCreate("chat-1")

	r.Bind(s, "conv-1")
	assert.Equal(t, "conv-1", s.ConversationID())
	assert.Same(t, s, r.SessionFor("conv-1"))

	// Rebinding moves the reverse mapping, it does not leave a stale one.
	r.Bind(s, "conv-2")
	assert.Equal(t, "conv-2", s.ConversationID())
	assert.Nil(t, r.SessionFor("conv-1"))
	assert.Same(t, s, r.SessionFor("conv-2"))

	r.Bind(s, "")
	assert.Empty(t, s.ConversationID())
	assert.Nil(t, r.SessionFor("conv-2"))
}

func TestResolveFromPayloadKnownID(t *testing.T) {
	r := NewRegistry(nil)
	s1 := r.GetOrCreate("chat-1")
	s2 := r.GetOrCreate("chat-2")
	r.Bind(s1, "conv-1")
	r.Bind(s2, "conv-2")

	got := r.ResolveFromPayload(map[string]any{"msg": map[string]any{"sessionId": "conv-2"}})
	assert.Same(t, s2, got)
}

func TestResolveFromPayloadFallbackBindsMostRecent(t *testing.T) {
	r := NewRegistry(nil)
	older := r.GetOrCreate("chat-a")
	time.Sleep(2 * time.Millisecond)
	newer := r.GetOrCreate("chat-b")

	got := r.ResolveFromPayload(map[string]any{"conversationId": "conv-x"})
	require.Same(t, newer, got)
	assert.Equal(t, "conv-x", newer.ConversationID())
	assert.Empty(t, older.ConversationID())
	assert.Same(t, newer, r.SessionFor("conv-x"))

	// Activity moves the fallback target.
	older.Enqueue(NewPrompt("chat-a", "hello", "alice"))
	got = r.ResolveFromPayload(map[string]any{"conversationId": "conv-y"})
	require.Same(t, older, got)
}

func TestResolveFromPayloadSkipsBoundSessions(t *testing.T) {
	r := NewRegistry(nil)
	s := r.GetOrCreate("chat-1")
	r.Bind(s, "conv-1")

	// The only session is already bound elsewhere; an unknown id has no home.
	assert.Nil(t, r.ResolveFromPayload(map[string]any{"conversationId": "conv-other"}))
	assert.Equal(t, "conv-1", s.ConversationID())
}

func TestResolveFromPayloadIgnoresUnrecognizable(t *testing.T) {
	r := NewRegistry(nil)
	r.GetOrCreate("chat-1")

	assert.Nil(t, r.ResolveFromPayload(map[string]any{"text": "no ids here"}))
	assert.Nil(t, r.ResolveFromPayload(nil))
}

func TestResetEmptiesButKeepsSession(t *testing.T) {
	r := NewRegistry(nil)
	s := r.GetOrCreate("chat-1")
	s.Enqueue(NewPrompt("chat-1", "one", "alice"))
	s.Enqueue(NewPrompt("chat-1", "two", "alice"))
	s.SetRollout("/tmp/rollout.jsonl")
	r.Bind(s, "conv-1")

	r.Reset(s)

	assert.Zero(t, s.QueueLen())
	assert.Empty(t, s.ConversationID())
	assert.Empty(t, s.LastRollout())
	assert.Nil(t, r.SessionFor("conv-1"))
	assert.Same(t, s, r.Get("chat-1"))

	// Idempotent.
	r.Reset(s)
	assert.Zero(t, s.QueueLen())
}

func TestClearBindings(t *testing.T) {
	r := NewRegistry(nil)
	s1 := r.GetOrCreate("chat-1")
	s2 := r.GetOrCreate("chat-2")
	r.Bind(s1, "conv-1")
	r.Bind(s2, "conv-2")

	r.ClearBindings()

	assert.Empty(t, s1.ConversationID())
	assert.Empty(t, s2.ConversationID())
	assert.Nil(t, r.SessionFor("conv-1"))
	assert.Nil(t, r.SessionFor("conv-2"))
}

func TestMissingIDWarningFires(t *testing.T) {
	r := NewRegistry(nil)
	r.SetWarnDelay(10 * time.Millisecond)
	s := r.GetOrCreate("chat-1")

	fired := make(chan struct{}, 1)
	r.ScheduleMissingIDWarning(s, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("warning never fired")
	}

	// Warned once; re-arming without an intervening bind stays quiet.
	r.ScheduleMissingIDWarning(s, func() { fired <- struct{}{} })
	select {
	case <-fired:
		t.Fatal("warning fired twice for the same session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMissingIDWarningCanceledByBind(t *testing.T) {
	r := NewRegistry(nil)
	r.SetWarnDelay(30 * time.Millisecond)
	s := r.GetOrCreate("chat-1")

	fired := make(chan struct{}, 1)
	r.ScheduleMissingIDWarning(s, func() { fired <- struct{}{} })
	r.Bind(s, "conv-1")

	select {
	case <-fired:
		t.Fatal("warning fired after the conversation id arrived")
	case <-time.After(100 * time.Millisecond):
	}

	// A bound session never arms the timer in the first place.
	r.ScheduleMissingIDWarning(s, func() { fired <- struct{}{} })
	select {
	case <-fired:
		t.Fatal("warning fired for a bound session")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestMissingIDWarningRearmsAfterBindCycle(t *testing.T) {
	r := NewRegistry(nil)
	r.SetWarnDelay(10 * time.Millisecond)
	s := r.GetOrCreate("chat-1")

	fired := make(chan struct{}, 2)
	r.ScheduleMissingIDWarning(s, func() { fired <- struct{}{} })
	<-fired

	// Binding clears the warned flag, so a later unbound stretch warns again.
	r.Bind(s, "conv-1")
	r.Bind(s, "")
	r.ScheduleMissingIDWarning(s, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("warning did not re-arm after a bind/unbind cycle")
	}
}

func TestSessionFIFOAndSingleFlight(t *testing.T) {
	r := NewRegistry(nil)
	s := r.GetOrCreate("chat-1")

	s.Enqueue(NewPrompt("chat-1", "one", "alice"))
	s.Enqueue(NewPrompt("chat-1", "two", "alice"))

	p1 := s.BeginNext()
	require.NotNil(t, p1)
	assert.Equal(t, "one", p1.Text)
	assert.True(t, s.Processing())

	// One in flight blocks the next pop.
	assert.Nil(t, s.BeginNext())

	s.Finish()
	assert.False(t, s.Processing())

	p2 := s.BeginNext()
	require.NotNil(t, p2)
	assert.Equal(t, "two", p2.Text)
	s.Finish()

	assert.Nil(t, s.BeginNext())
}

func TestFinishRewakesWhenMoreQueued(t *testing.T) {
	r := NewRegistry(nil)
	s := r.GetOrCreate("chat-1")

	s.Enqueue(NewPrompt("chat-1", "one", "alice"))
	<-s.Wake() // drain the enqueue signal
	s.Enqueue(NewPrompt("chat-1", "two", "alice"))
	<-s.Wake()

	require.NotNil(t, s.BeginNext())
	s.Finish()

	select {
	case <-s.Wake():
	case <-time.After(time.Second):
		t.Fatal("finish did not re-wake a session with queued prompts")
	}

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.QueueLen)
	assert.False(t, snap.Processing)
}
