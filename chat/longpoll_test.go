package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongPollerAdvancesOffset(t *testing.T) {
	var mu sync.Mutex
	var offsets []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		n := len(offsets)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch n {
		case 1:
			json.NewEncoder(w).Encode(inboxResponse{
				Messages: []Message{
					{ChatID: "1", Sender: "alice", Text: "hello"},
					{ChatID: "2", Sender: "bob", Text: "hi"},
				},
				NextOffset: 2,
			})
		default:
			json.NewEncoder(w).Encode(inboxResponse{NextOffset: 2})
		}
	}))
	defer srv.Close()

	p := NewLongPoller(srv.URL, "secret", time.Second)

	msgs, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	// Normalize stamped the fields the server omitted.
	assert.NotEmpty(t, msgs[0].ID)
	assert.False(t, msgs[0].Received.IsZero())

	msgs, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "2"}, offsets)
}

func TestLongPollerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "inbox unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewLongPoller(srv.URL, "", time.Second)
	_, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "inbox unavailable")
}

func TestLongPollerRespectsContext(t *testing.T) {
	p := NewLongPoller("http://127.0.0.1:0", "", time.Second)

	// Burn the limiter burst so the next poll has to wait on it.
	_, _ = p.Poll(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Poll(ctx)
	require.Error(t, err)
}

func TestSenderPostsMessages(t *testing.T) {
	var mu sync.Mutex
	var got []outboundMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var m outboundMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "secret")
	require.NoError(t, s.SendMessage(context.Background(), "42", "hello", SendOptions{}))
	require.NoError(t, s.SendMessage(context.Background(), "42", "status", SendOptions{Preformatted: true}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, outboundMessage{ChatID: "42", Text: "hello"}, got[0])
	assert.Equal(t, outboundMessage{ChatID: "42", Text: "status", Preformatted: true}, got[1])
}

func TestSenderReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "")
	err := s.SendMessage(context.Background(), "42", "hello", SendOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
