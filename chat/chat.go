// Package chat defines the boundary between the bridge core and the chat
// platform: the inbound message source and the outbound reply sink. The core
// only ever sees plain text plus structural hints; chunking and markup
// rendering belong to the concrete messenger.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is one inbound chat message.
type Message struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	Sender   string    `json:"sender"`
	Text     string    `json:"text"`
	Received time.Time `json:"received,omitempty"`
}

// Normalize fills in fields an inbox implementation may omit.
func (m *Message) Normalize() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Received.IsZero() {
		m.Received = time.Now()
	}
}

// SendOptions carries structural hints for the reply sink.
type SendOptions struct {
	// Preformatted asks the messenger to render the text as a
	// preformatted/code block.
	Preformatted bool
}

// Messenger delivers replies back to a chat. Implementations are
// responsible for chunking long text and rendering markup.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string, opts SendOptions) error
}

// Source yields batches of inbound messages. Delivery order across chats is
// not guaranteed.
type Source interface {
	Poll(ctx context.Context) ([]Message, error)
}
