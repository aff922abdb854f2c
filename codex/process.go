package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"codexbridge/errors"
)

// State is the supervisor state of the backend process.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stopGrace is how long Stop waits after SIGTERM before killing the process.
const stopGrace = 5 * time.Second

// Start spawns the backend process, wires its stdio into the transport, and
// performs the initialize handshake. A no-op when already starting or
// running. Spawn and handshake failures emit the launch fatal signal.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	switch b.State() {
	case StateStarting, StateRunning:
		b.mu.Unlock()
		return nil
	}
	b.setState(StateStarting)
	b.stopRequested = false
	b.fatal.rearm()

	cmd := exec.Command(b.cfg.Backend.Command, b.cfg.Backend.Args...)
	cmd.Dir = b.cfg.Backend.WorkingDir
	if len(b.cfg.Backend.Env) > 0 {
		cmd.Env = append(os.Environ(), b.cfg.Backend.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return b.failLaunch(errors.Wrap(err, "backend stdin pipe"))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return b.failLaunch(errors.Wrap(err, "backend stdout pipe"))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return b.failLaunch(errors.Wrap(err, "backend stderr pipe"))
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return b.failLaunch(errors.Wrapf(err, "could not launch %q", b.cfg.Backend.Command))
	}

	b.logger.Info("backend started", "command", b.cfg.Backend.Command, "pid", cmd.Process.Pid)
	b.cmd = cmd
	b.stdin = stdin
	b.procDone = make(chan struct{})
	b.transport.Bind(stdin)

	b.readers.Add(2)
	go b.readStdout(stdout)
	go b.readStderr(stderr)
	go b.watchExit(cmd)
	b.mu.Unlock()

	if err := b.handshake(ctx); err != nil {
		b.logger.Error("backend handshake failed", "error", err)
		fe := &FatalError{Kind: FatalLaunch, Err: err, Tail: b.tail.Lines()}
		_ = b.Stop()
		b.fatal.fire(fe)
		return err
	}

	b.setState(StateRunning)
	b.initialized.Store(true)

	// Prompts may have queued while the backend was down; kick their loops.
	for _, s := range b.registry.All() {
		if s.QueueLen() > 0 {
			s.Kick()
		}
	}
	return nil
}

// failLaunch is called with b.mu held.
func (b *Bridge) failLaunch(err error) error {
	b.setState(StateStopped)
	b.mu.Unlock()
	b.fatal.fire(&FatalError{Kind: FatalLaunch, Err: err})
	return err
}

// handshake performs the initialize/initialized exchange and verifies the
// expected tools are exposed.
func (b *Bridge) handshake(ctx context.Context) error {
	_, err := b.rpcClient.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]string{
			"name":    "codexbridge",
			"version": "0.1.0",
		},
	})
	if err != nil {
		return errors.Wrap(err, "initialize")
	}
	if err := b.rpcClient.Notify("initialized", nil); err != nil {
		return errors.Wrap(err, "initialized notification")
	}

	raw, err := b.rpcClient.Call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return errors.Wrap(err, "tools/list")
	}
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return errors.Wrap(err, "could not parse tools/list result")
	}
	names := make([]string, 0, len(list.Tools))
	hasCodex := false
	for _, t := range list.Tools {
		names = append(names, t.Name)
		if t.Name == toolNewConversation {
			hasCodex = true
		}
	}
	b.logger.Info("backend tools", "tools", names)
	if !hasCodex {
		b.logger.Warn("backend does not expose the codex tool", "tools", names)
	}
	return nil
}

// readStdout feeds line-delimited backend output to the transport.
func (b *Bridge) readStdout(r io.Reader) {
	defer b.readers.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		b.transport.HandleLine(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		b.logger.Debug("backend stdout closed", "error", err)
	}
}

// readStderr mirrors backend diagnostics into the log and the tail buffer.
func (b *Bridge) readStderr(r io.Reader) {
	defer b.readers.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		b.tail.Add("!! " + line)
		b.logger.Debug("backend stderr", "line", line)
	}
}

// watchExit reaps the process. An exit nobody asked for is the fatal case;
// a requested one is informational.
func (b *Bridge) watchExit(cmd *exec.Cmd) {
	b.readers.Wait()
	err := cmd.Wait()

	b.mu.Lock()
	requested := b.stopRequested
	procDone := b.procDone
	b.mu.Unlock()

	code, signal := exitInfo(cmd, err)
	if requested {
		b.logger.Info("backend exited", "code", code, "signal", signal)
	} else {
		b.logger.Error("backend exited unexpectedly", "code", code, "signal", signal)
		b.fatal.fire(&FatalError{
			Kind:     FatalExit,
			Err:      err,
			ExitCode: code,
			Signal:   signal,
			Tail:     b.tail.Lines(),
		})
	}

	close(procDone)
	// Release transport, bindings, and state even on a spontaneous death.
	_ = b.Stop()
}

// Stop shuts the backend down: it suppresses the fatal path, refuses new
// writes, fails outstanding calls, terminates the process, and clears all
// conversation bindings (they die with the process). Idempotent; a
// concurrent second call observes the state change and returns immediately.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	switch b.State() {
	case StateRunning, StateStarting:
	default:
		b.mu.Unlock()
		return nil
	}
	b.setState(StateStopping)
	b.stopRequested = true
	cmd := b.cmd
	stdin := b.stdin
	procDone := b.procDone
	b.mu.Unlock()

	b.initialized.Store(false)
	b.transport.Shutdown(nil)
	if stdin != nil {
		_ = stdin.Close() // the backend exits on stdin EOF
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	if procDone != nil {
		select {
		case <-procDone:
		case <-time.After(stopGrace):
			b.logger.Warn("backend ignored SIGTERM, killing")
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-procDone
		}
	}

	b.registry.ClearBindings()
	b.setState(StateStopped)
	b.logger.Info("backend stopped")
	return nil
}

// exitInfo extracts the exit code and terminating signal, if any.
func exitInfo(cmd *exec.Cmd, err error) (int, string) {
	state := cmd.ProcessState
	if state == nil {
		if err != nil {
			return -1, ""
		}
		return 0, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return state.ExitCode(), ws.Signal().String()
	}
	return state.ExitCode(), ""
}
