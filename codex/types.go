package codex

import "encoding/json"

// Tool names exposed by the Codex app-server.
const (
	toolNewConversation = "codex"
	toolReply           = "codex-reply"
)

// toolCallParams is the params object of a tools/call request.
type toolCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// NewConversationArgs is the argument bag for the "codex" tool, which opens
// a fresh conversation. Everything but the prompt is optional.
type NewConversationArgs struct {
	Prompt           string         `json:"prompt"`
	Model            string         `json:"model,omitempty"`
	Profile          string         `json:"profile,omitempty"`
	Cwd              string         `json:"cwd,omitempty"`
	ApprovalPolicy   string         `json:"approval-policy,omitempty"`
	Sandbox          string         `json:"sandbox,omitempty"`
	BaseInstructions string         `json:"base-instructions,omitempty"`
	IncludePlanTool  *bool          `json:"include-plan-tool,omitempty"`
	Config           map[string]any `json:"config,omitempty"`
}

// ReplyArgs is the argument bag for the "codex-reply" tool, which continues
// an existing conversation.
type ReplyArgs struct {
	ConversationID string `json:"conversationId"`
	Prompt         string `json:"prompt"`
}

// ContentItem is one entry of a tool call result's content list. Unknown
// item shapes keep their raw JSON for rendering.
type ContentItem struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
	Output string `json:"output,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (c *ContentItem) UnmarshalJSON(data []byte) error {
	type plain ContentItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ContentItem(p)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// CallResult is the result payload of a tools/call. The backend is not
// consistent about where the conversation id and rollout path appear, so
// both the top level and structuredContent are consulted, with the generic
// extraction heuristic as a last resort.
type CallResult struct {
	Content           []ContentItem   `json:"content"`
	IsError           bool            `json:"isError,omitempty"`
	ConversationID    string          `json:"conversationId,omitempty"`
	RolloutPath       string          `json:"rolloutPath,omitempty"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

type structuredResult struct {
	ConversationID string `json:"conversationId"`
	RolloutPath    string `json:"rolloutPath"`
}

// conversationID returns the explicitly typed conversation id, if any.
func (r *CallResult) conversationID() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	var s structuredResult
	if err := json.Unmarshal(r.StructuredContent, &s); err == nil {
		return s.ConversationID
	}
	return ""
}

// rolloutPath returns the rollout/history pointer, if any.
func (r *CallResult) rolloutPath() string {
	if r.RolloutPath != "" {
		return r.RolloutPath
	}
	var s structuredResult
	if err := json.Unmarshal(r.StructuredContent, &s); err == nil {
		return s.RolloutPath
	}
	return ""
}

// Status is the synchronous per-chat snapshot exposed to hosts and to the
// /status chat command.
type Status struct {
	Ready          bool
	QueueDepth     int
	Processing     bool
	ConversationID string // "" when unbound
	LastRollout    string // "" when unknown
}
