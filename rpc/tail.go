package rpc

import (
	"strings"
	"sync"
)

const defaultTailLines = 50

// Tail is a bounded ring of the most recent lines exchanged with the backend
// process, kept for crash diagnostics. Appending beyond the capacity evicts
// the oldest line.
type Tail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

// NewTail creates a tail buffer holding at most max lines. A non-positive
// max falls back to a small default.
func NewTail(max int) *Tail {
	if max <= 0 {
		max = defaultTailLines
	}
	return &Tail{max: max, lines: make([]string, 0, max)}
}

// Add appends a line, evicting the oldest when full.
func (t *Tail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == t.max {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:len(t.lines)-1]
	}
	t.lines = append(t.lines, line)
}

// Lines returns a copy of the buffered lines, oldest first.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// String joins the buffered lines for inclusion in a crash report.
func (t *Tail) String() string {
	return strings.Join(t.Lines(), "\n")
}
