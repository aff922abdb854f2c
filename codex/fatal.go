package codex

import (
	"fmt"
	"sync"
)

// FatalKind distinguishes the two unrecoverable failure classes.
type FatalKind int

const (
	// FatalLaunch means the backend process could not be spawned or would
	// not complete its handshake.
	FatalLaunch FatalKind = iota
	// FatalExit means the backend process died without a stop being
	// requested.
	FatalExit
)

func (k FatalKind) String() string {
	switch k {
	case FatalLaunch:
		return "launch"
	case FatalExit:
		return "unexpected exit"
	default:
		return "unknown"
	}
}

// FatalError is the one-shot signal that the bridge cannot continue.
// Subscribers are expected to perform an orderly shutdown and exit non-zero.
type FatalError struct {
	Kind     FatalKind
	Err      error
	ExitCode int
	Signal   string
	Tail     []string // recent backend I/O for diagnostics
}

func (e *FatalError) Error() string {
	switch e.Kind {
	case FatalLaunch:
		return fmt.Sprintf("backend launch failed: %v", e.Err)
	case FatalExit:
		if e.Signal != "" {
			return fmt.Sprintf("backend exited unexpectedly (signal %s)", e.Signal)
		}
		return fmt.Sprintf("backend exited unexpectedly (code %d)", e.ExitCode)
	default:
		return fmt.Sprintf("backend fatal error: %v", e.Err)
	}
}

func (e *FatalError) Unwrap() error { return e.Err }

// fatalNotifier delivers at most one FatalError per run to every
// subscriber. A subscriber arriving after the signal fired receives it
// immediately, so there is no window where a crash can be missed.
type fatalNotifier struct {
	mu    sync.Mutex
	fired *FatalError
	subs  map[int]chan *FatalError
	next  int
}

func newFatalNotifier() *fatalNotifier {
	return &fatalNotifier{subs: make(map[int]chan *FatalError)}
}

// subscribe returns a channel that receives the fatal error (at most once)
// and a cancel function releasing the subscription.
func (n *fatalNotifier) subscribe() (<-chan *FatalError, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan *FatalError, 1)
	if n.fired != nil {
		ch <- n.fired
	}
	id := n.next
	n.next++
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// fire delivers the error to all subscribers. Only the first call per run
// has any effect.
func (n *fatalNotifier) fire(fe *FatalError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fired != nil {
		return
	}
	n.fired = fe
	for _, ch := range n.subs {
		select {
		case ch <- fe:
		default:
		}
	}
}

// rearm clears the fired guard for a new run.
func (n *fatalNotifier) rearm() {
	n.mu.Lock()
	n.fired = nil
	n.mu.Unlock()
}
