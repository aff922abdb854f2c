package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"codexbridge/errors"
)

// LongPoller reads the chat inbox over HTTP long polling. Each poll asks the
// server to hold the request open for up to the configured timeout and
// advances an offset cursor past the messages it has seen.
//
// Polls are paced by a rate limiter so a misbehaving server that returns
// instantly (or errors) cannot turn the loop into a hot spin.
type LongPoller struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter

	offset int64
}

// NewLongPoller creates a poller against baseURL. The server is expected to
// answer GET {baseURL}/messages?offset=N&timeout=S with a JSON array of
// Message objects.
func NewLongPoller(baseURL, token string, timeout time.Duration) *LongPoller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LongPoller{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		client: &http.Client{
			// Allow the server to hold the poll open plus slack.
			Timeout: timeout + 10*time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type inboxResponse struct {
	Messages   []Message `json:"messages"`
	NextOffset int64     `json:"next_offset"`
}

// Poll blocks until the server returns messages, the long-poll window
// lapses (returning an empty batch), or ctx is canceled.
func (p *LongPoller) Poll(ctx context.Context) ([]Message, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "poll canceled")
	}

	q := url.Values{}
	q.Set("offset", strconv.FormatInt(p.offset, 10))
	q.Set("timeout", strconv.Itoa(int(p.timeout.Seconds())))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build poll request")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "inbox poll failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New("inbox poll failed: %s: %s", resp.Status, string(body))
	}

	var inbox inboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&inbox); err != nil {
		return nil, errors.Wrap(err, "could not decode inbox response")
	}

	if inbox.NextOffset > p.offset {
		p.offset = inbox.NextOffset
	} else {
		p.offset += int64(len(inbox.Messages))
	}
	for i := range inbox.Messages {
		inbox.Messages[i].Normalize()
	}
	return inbox.Messages, nil
}

// Sender posts replies to the same chat API the poller reads from.
type Sender struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewSender creates the outbound half of the HTTP chat transport.
func NewSender(baseURL, token string) *Sender {
	return &Sender{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type outboundMessage struct {
	ChatID       string `json:"chat_id"`
	Text         string `json:"text"`
	Preformatted bool   `json:"preformatted,omitempty"`
}

// SendMessage implements Messenger.
func (s *Sender) SendMessage(ctx context.Context, chatID, text string, opts SendOptions) error {
	body, err := json.Marshal(outboundMessage{
		ChatID:       chatID,
		Text:         text,
		Preformatted: opts.Preformatted,
	})
	if err != nil {
		return errors.Wrap(err, "could not encode outbound message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "could not build send request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "send to chat %s failed", chatID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.New("send to chat %s failed: %s", chatID, resp.Status)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
	return nil
}

// String renders a compact description for logs.
func (m *Message) String() string {
	return fmt.Sprintf("chat=%s sender=%s len=%d", m.ChatID, m.Sender, len(m.Text))
}
