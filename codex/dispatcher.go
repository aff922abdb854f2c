package codex

import (
	"context"
	"encoding/json"
	"fmt"

	"codexbridge/chat"
	"codexbridge/rpc"
	"codexbridge/session"
)

const missingIDWarning = "The backend did not report a conversation id; follow-up messages will start a new conversation."

// sessionWorker is the per-chat dispatch loop. It blocks until the session
// is woken, then drains the queue one prompt at a time. This loop is the
// ordering guarantee: prompt N+1 is never dispatched before prompt N has
// fully resolved.
func (b *Bridge) sessionWorker(ctx context.Context, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Wake():
		}
		b.drain(ctx, sess)
	}
}

func (b *Bridge) drain(ctx context.Context, sess *session.Session) {
	for {
		if !b.Ready() {
			// Queued prompts stay put; Start kicks the loop again once
			// the handshake completes.
			return
		}
		prompt := sess.BeginNext()
		if prompt == nil {
			return
		}
		b.processPrompt(ctx, sess, prompt)
		sess.Finish()
	}
}

// processPrompt issues exactly one tool call for the prompt: "codex" when
// the session has no conversation binding, "codex-reply" to continue one.
func (b *Bridge) processPrompt(ctx context.Context, sess *session.Session, prompt *session.Prompt) {
	conv := sess.ConversationID()

	var params toolCallParams
	if conv == "" {
		params = toolCallParams{Name: toolNewConversation, Arguments: b.newConversationArgs(prompt.Text)}
	} else {
		params = toolCallParams{Name: toolReply, Arguments: ReplyArgs{ConversationID: conv, Prompt: prompt.Text}}
	}
	b.logger.Info("dispatching prompt", "chat", sess.ChatID, "tool", params.Name, "prompt_id", prompt.ID)

	raw, err := b.rpcClient.Call(ctx, "tools/call", params)
	if err != nil {
		b.reportCallFailure(ctx, sess, err)
		return
	}

	var res CallResult
	if err := json.Unmarshal(raw, &res); err != nil {
		b.logger.Warn("unparsable tool result", "chat", sess.ChatID, "error", err)
		b.registry.Bind(sess, "")
		b.send(ctx, sess.ChatID, fmt.Sprintf("error: backend returned an unreadable result: %v", err), chat.SendOptions{})
		return
	}

	if path := res.rolloutPath(); path != "" {
		sess.SetRollout(path)
	}

	// An explicitly typed conversation id wins; otherwise fall back to the
	// extraction heuristic over the whole result.
	id := res.conversationID()
	if id == "" {
		if extracted, ok := session.ExtractConversationIDRaw(raw); ok {
			id = extracted
		}
	}
	if id != "" && id != conv {
		b.registry.Bind(sess, id)
	}
	if sess.ConversationID() == "" {
		chatID := sess.ChatID
		b.registry.ScheduleMissingIDWarning(sess, func() {
			b.send(context.Background(), chatID, missingIDWarning, chat.SendOptions{})
		})
	}

	if res.IsError {
		// The conversation is in an unknown state; start fresh next time.
		b.registry.Bind(sess, "")
		b.send(ctx, sess.ChatID, "error: "+RenderResult(&res), chat.SendOptions{})
		return
	}

	b.send(ctx, sess.ChatID, RenderResult(&res), chat.SendOptions{})
}

// reportCallFailure turns a per-call failure into a chat message. Timeouts
// keep the conversation binding (the backend may still be working); every
// other failure clears it so the next prompt starts a fresh conversation.
func (b *Bridge) reportCallFailure(ctx context.Context, sess *session.Session, err error) {
	if rpc.IsTimeout(err) {
		b.logger.Warn("prompt timed out", "chat", sess.ChatID, "error", err)
		b.send(ctx, sess.ChatID, fmt.Sprintf(
			"%v. The backend may still be working on it. You can raise or disable call_timeout, break the task into smaller steps, or check /status.", err),
			chat.SendOptions{})
		return
	}
	b.logger.Warn("prompt failed", "chat", sess.ChatID, "error", err)
	b.registry.Bind(sess, "")
	b.send(ctx, sess.ChatID, fmt.Sprintf("error: %v", err), chat.SendOptions{})
}

// newConversationArgs builds the full argument bag for a fresh conversation
// from the configured Codex options.
func (b *Bridge) newConversationArgs(prompt string) NewConversationArgs {
	c := b.cfg.Codex
	return NewConversationArgs{
		Prompt:           prompt,
		Model:            c.Model,
		Profile:          c.Profile,
		Cwd:              c.Cwd,
		ApprovalPolicy:   c.ApprovalPolicy,
		Sandbox:          c.Sandbox,
		BaseInstructions: c.BaseInstructions,
		IncludePlanTool:  c.IncludePlanTool,
		Config:           c.Overrides,
	}
}
