package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"codexbridge/chat"
	"codexbridge/config"
	"codexbridge/rpc"
	"codexbridge/session"
)

// caller is the slice of the rpc transport the dispatcher needs. Tests
// substitute a scripted implementation.
type caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(method string, params any) error
}

// Bridge routes chat messages to the Codex app-server and replies back. One
// Bridge owns one backend process at a time; all sessions multiplex over its
// transport.
type Bridge struct {
	cfg       *config.Config
	messenger chat.Messenger
	logger    *slog.Logger

	registry  *session.Registry
	tail      *rpc.Tail
	transport *rpc.Transport
	rpcClient caller

	fatal *fatalNotifier

	// Process lifecycle, guarded by mu.
	mu            sync.Mutex
	state         atomic.Int32
	stopRequested bool
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	procDone      chan struct{}
	readers       sync.WaitGroup

	// initialized flips once the handshake completes; dispatch loops do
	// not pop prompts before that.
	initialized atomic.Bool

	// Worker loops live for the Bridge's lifetime, across backend
	// restarts.
	runCtx    context.Context
	runCancel context.CancelFunc
	workersMu sync.Mutex
	workers   map[string]struct{}
}

// New wires up a bridge. The backend process is not started until Start.
func New(cfg *config.Config, messenger chat.Messenger, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	tail := rpc.NewTail(cfg.TailLines)
	b := &Bridge{
		cfg:       cfg,
		messenger: messenger,
		logger:    logger,
		registry:  session.NewRegistry(logger),
		tail:      tail,
		transport: rpc.NewTransport(cfg.CallTimeout.Std(), tail, logger),
		fatal:     newFatalNotifier(),
		workers:   make(map[string]struct{}),
	}
	b.rpcClient = b.transport
	b.runCtx, b.runCancel = context.WithCancel(context.Background())

	// Unsolicited notifications carry no chat identifier; hand them to the
	// registry so conversation ids they embed get attributed to a chat.
	b.transport.OnNotification(func(method string, params json.RawMessage) {
		b.logger.Debug("backend notification", "method", method)
		var payload any
		if err := json.Unmarshal(params, &payload); err != nil {
			return
		}
		b.registry.ResolveFromPayload(payload)
	})
	return b
}

// Subscribe registers for the one-shot fatal signal. The returned cancel
// releases the subscription.
func (b *Bridge) Subscribe() (<-chan *FatalError, func()) {
	return b.fatal.subscribe()
}

// State returns the current supervisor state.
func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(s State) { b.state.Store(int32(s)) }

// Ready reports whether the backend is running and the handshake completed.
func (b *Bridge) Ready() bool {
	return b.State() == StateRunning && b.initialized.Load()
}

// Enqueue is the inbound entry point. Commands are handled inline; anything
// else joins the chat's FIFO prompt queue. Per-chat order is preserved and
// at most one prompt per chat is ever in flight.
func (b *Bridge) Enqueue(ctx context.Context, msg chat.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg.ChatID, text)
		return
	}

	sess := b.registry.GetOrCreate(msg.ChatID)
	b.ensureWorker(sess)
	sess.Enqueue(session.NewPrompt(msg.ChatID, text, msg.Sender))
	b.logger.Info("prompt queued", "chat", msg.ChatID, "sender", msg.Sender, "queued", sess.QueueLen())
}

func (b *Bridge) handleCommand(ctx context.Context, chatID, text string) {
	cmd := strings.Fields(text)[0]
	switch cmd {
	case "/new":
		b.Reset(chatID)
		b.send(ctx, chatID, "Conversation reset. The next prompt starts fresh.", chat.SendOptions{})
	case "/status":
		b.send(ctx, chatID, b.statusText(chatID), chat.SendOptions{Preformatted: true})
	case "/help", "/start":
		b.send(ctx, chatID, "Send a message to prompt Codex.\n/new - start a fresh conversation\n/status - show bridge status", chat.SendOptions{})
	default:
		b.send(ctx, chatID, fmt.Sprintf("Unknown command %s. Try /help.", cmd), chat.SendOptions{})
	}
}

// Reset clears the chat's queue and conversation binding. Always succeeds
// and is idempotent, even when nothing was bound.
func (b *Bridge) Reset(chatID string) {
	b.registry.Reset(b.registry.GetOrCreate(chatID))
	b.logger.Info("conversation reset", "chat", chatID)
}

// Status returns the synchronous snapshot for a chat.
func (b *Bridge) Status(chatID string) Status {
	st := Status{Ready: b.Ready()}
	if sess := b.registry.Get(chatID); sess != nil {
		snap := sess.Snapshot()
		st.QueueDepth = snap.QueueLen
		st.Processing = snap.Processing
		st.ConversationID = snap.ConversationID
		st.LastRollout = snap.LastRollout
	}
	return st
}

func (b *Bridge) statusText(chatID string) string {
	st := b.Status(chatID)
	ready := "not ready"
	if st.Ready {
		ready = "ready"
	}
	conv := st.ConversationID
	if conv == "" {
		conv = "none"
	}
	rollout := st.LastRollout
	if rollout == "" {
		rollout = "n/a"
	}
	return fmt.Sprintf("backend: %s\nqueue: %d\nconversation: %s\nrollout: %s",
		ready, st.QueueDepth, conv, rollout)
}

// ensureWorker lazily starts the chat's dispatch loop.
func (b *Bridge) ensureWorker(sess *session.Session) {
	b.workersMu.Lock()
	defer b.workersMu.Unlock()
	if _, ok := b.workers[sess.ChatID]; ok {
		return
	}
	b.workers[sess.ChatID] = struct{}{}
	go b.sessionWorker(b.runCtx, sess)
}

// send delivers a reply, logging delivery failures; there is nowhere else to
// report them.
func (b *Bridge) send(ctx context.Context, chatID, text string, opts chat.SendOptions) {
	if err := b.messenger.SendMessage(ctx, chatID, text, opts); err != nil {
		b.logger.Error("could not deliver reply", "chat", chatID, "error", err)
	}
}

// Close stops the backend if needed and terminates all dispatch loops. The
// Bridge cannot be reused afterwards.
func (b *Bridge) Close() {
	_ = b.Stop()
	b.runCancel()
}
