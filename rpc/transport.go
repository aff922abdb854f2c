package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"codexbridge/errors"
)

// NotificationFunc receives backend notifications (messages with a method
// and no id).
type NotificationFunc func(method string, params json.RawMessage)

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is an outstanding request awaiting its correlated response.
type pendingCall struct {
	method string
	ch     chan callResult // buffered, capacity 1
}

// Transport frames requests onto the backend's stdin and correlates the
// line-delimited responses read from its stdout. It is safe for concurrent
// use; per-session dispatch loops all multiplex over one Transport.
type Transport struct {
	timeout time.Duration
	tail    *Tail
	logger  *slog.Logger

	writeMu sync.Mutex
	w       io.Writer
	ready   bool

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	notifyMu sync.RWMutex
	onNotify NotificationFunc
}

// NewTransport creates a transport with the given per-call timeout (zero
// waits indefinitely) and tail buffer. A nil logger uses slog.Default.
func NewTransport(timeout time.Duration, tail *Tail, logger *slog.Logger) *Transport {
	if tail == nil {
		tail = NewTail(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		timeout: timeout,
		tail:    tail,
		logger:  logger,
		pending: make(map[int64]*pendingCall),
	}
}

// Tail exposes the diagnostic tail buffer.
func (t *Transport) Tail() *Tail { return t.tail }

// OnNotification registers the handler for backend notifications.
func (t *Transport) OnNotification(fn NotificationFunc) {
	t.notifyMu.Lock()
	t.onNotify = fn
	t.notifyMu.Unlock()
}

// Bind attaches the backend's stdin and marks the transport writable.
func (t *Transport) Bind(w io.Writer) {
	t.writeMu.Lock()
	t.w = w
	t.ready = true
	t.writeMu.Unlock()
}

// Shutdown marks the transport dead and fails every outstanding call with
// cause (ErrNotReady when cause is nil). Subsequent writes fail with
// ErrNotReady. Safe to call more than once.
func (t *Transport) Shutdown(cause error) {
	t.writeMu.Lock()
	t.ready = false
	t.w = nil
	t.writeMu.Unlock()

	if cause == nil {
		cause = ErrNotReady
	}
	t.pendingMu.Lock()
	stranded := t.pending
	t.pending = make(map[int64]*pendingCall)
	t.pendingMu.Unlock()
	for id, pc := range stranded {
		t.logger.Debug("failing stranded call", "id", id, "method", pc.method)
		pc.ch <- callResult{err: cause}
	}
}

// Call sends a request and blocks until the correlated response arrives, the
// configured timeout elapses, or ctx is canceled. A response carrying an
// error object fails the call with *BackendError.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	pc := &pendingCall{method: method, ch: make(chan callResult, 1)}
	t.pendingMu.Lock()
	t.pending[id] = pc
	t.pendingMu.Unlock()

	if err := t.writeLine(Request{JSONRPC: Version, ID: id, Method: method, Params: params}); err != nil {
		t.take(id)
		return nil, err
	}

	var timeoutC <-chan time.Time
	if t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case res := <-pc.ch:
		return res.result, res.err
	case <-ctx.Done():
		if t.take(id) == nil {
			// The response won the race; deliver it anyway.
			res := <-pc.ch
			return res.result, res.err
		}
		return nil, ctx.Err()
	case <-timeoutC:
		if t.take(id) == nil {
			res := <-pc.ch
			return res.result, res.err
		}
		return nil, &TimeoutError{Method: method, After: t.timeout}
	}
}

// Notify sends a notification; no id is assigned and no response is awaited.
func (t *Transport) Notify(method string, params any) error {
	return t.writeLine(Request{JSONRPC: Version, Method: method, Params: params})
}

// Respond answers a backend-initiated request. Exactly one of result and
// rpcErr should be set.
func (t *Transport) Respond(id any, result any, rpcErr *Error) error {
	resp := Response{JSONRPC: Version, ID: id, Error: rpcErr}
	if rpcErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			return errors.Wrapf(err, "could not serialize response for id %v", id)
		}
		resp.Result = data
	}
	return t.writeLine(resp)
}

// HandleLine routes one line of backend stdout. Each line is parsed
// independently; a line that fails to parse is logged and dropped.
func (t *Transport) HandleLine(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	t.tail.Add("<- " + string(trimmed))

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		t.logger.Warn("dropping unparsable backend line", "error", err, "line", string(trimmed))
		return
	}

	switch {
	case msg.IsResponse():
		t.deliver(&msg)
	case msg.IsRequest():
		// The bridge never grants interactive approvals; answer so the
		// backend does not hang waiting for one.
		t.logger.Info("declining unsolicited backend request", "method", msg.Method, "id", msg.ID)
		err := t.Respond(msg.ID, nil, &Error{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method %q not supported", msg.Method),
		})
		if err != nil {
			t.logger.Warn("could not answer backend request", "method", msg.Method, "error", err)
		}
	case msg.IsNotification():
		t.notifyMu.RLock()
		fn := t.onNotify
		t.notifyMu.RUnlock()
		if fn != nil {
			fn(msg.Method, msg.Params)
		}
	default:
		t.logger.Warn("dropping backend message with neither id nor method", "line", string(trimmed))
	}
}

// deliver resolves the pending call a response belongs to. Responses for
// unknown ids (typically calls that already timed out) are dropped.
func (t *Transport) deliver(msg *Message) {
	id, ok := wireID(msg.ID)
	if !ok {
		t.logger.Warn("dropping response with non-numeric id", "id", msg.ID)
		return
	}
	pc := t.take(id)
	if pc == nil {
		t.logger.Warn("dropping response for unknown id", "id", id)
		return
	}
	if msg.Error != nil {
		pc.ch <- callResult{err: &BackendError{
			Method:  pc.method,
			Code:    msg.Error.Code,
			Message: msg.Error.Message,
			Data:    msg.Error.Data,
		}}
		return
	}
	pc.ch <- callResult{result: msg.Result}
}

// take removes and returns the pending call for id, or nil if it is not in
// the table. Removal is a single atomic operation so a response and a
// timeout racing for the same id resolve to exactly one winner.
func (t *Transport) take(id int64) *pendingCall {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	pc := t.pending[id]
	delete(t.pending, id)
	return pc
}

// PendingCalls reports the number of outstanding requests.
func (t *Transport) PendingCalls() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

func (t *Transport) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "could not serialize message")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if !t.ready || t.w == nil {
		return ErrNotReady
	}
	t.tail.Add("-> " + string(data))
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "backend write failed")
	}
	return nil
}

// wireID normalizes a decoded JSON-RPC id to the int64 space the transport
// assigns from. JSON numbers decode as float64.
func wireID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	case int:
		return int64(id), true
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
