// Package codex supervises the Codex app-server subprocess and dispatches
// chat prompts to it.
//
// The Bridge is the composition root of the core: it owns the subprocess
// lifecycle (spawn, crash detection, restart gating), the shared rpc
// transport, the per-chat session registry, and one dispatch loop per chat.
// Each loop delivers prompts strictly in order, one at a time, while
// independent chats progress concurrently over the same transport.
//
// Process-level failures surface through a one-shot fatal signal that hosts
// subscribe to; per-call failures are converted into chat-visible messages
// and never escape the dispatcher.
package codex
