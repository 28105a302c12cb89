package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

// sentinelPrefix marks the end of a command's output in the PTY stream, so
// PersistentShell can tell "command finished" apart from "command printed a
// line that merely looks like a shell prompt." Each Run call appends
// `; printf '\n%s%d\n' sentinelPrefix $?` to the caller's command.
const sentinelPrefix = "__agentd_shell_done__"

// PersistentShell runs one long-lived shell process attached to a PTY, so
// interactive commands (REPLs, prompts asking y/n) behave as they would at
// a real terminal, across many Run calls (spec §4.2).
type PersistentShell struct {
	mu sync.Mutex

	cmd    *exec.Cmd
	ptmx   *os.File
	buf    bytes.Buffer
	closed bool

	cols, rows uint16
}

// NewPersistentShell spawns `sh` (or shellPath if set) attached to a fresh
// PTY with the given size.
func NewPersistentShell(shellPath string, cols, rows uint16) (*PersistentShell, error) {
	if shellPath == "" {
		shellPath = "/bin/sh"
	}
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	cmd := exec.Command(shellPath)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start pty shell: %w", err)
	}

	s := &PersistentShell{cmd: cmd, ptmx: ptmx, cols: cols, rows: rows}
	return s, nil
}

// Prompt is an interactive question the running command printed, together
// with a suggested default response.
type Prompt struct {
	Text    string
	Default string
}

// RunResult is the outcome of one Run call.
type RunResult struct {
	Output      string
	ExitCode    int
	TimedOut    bool
	AwaitingInput bool
	Prompt      Prompt
}

// Run writes cmd to the shell, then reads output until the completion
// sentinel appears, a prompt is detected, or timeout elapses. Only one Run
// (or SendKeys) may be in flight at a time; callers must serialize access
// via the mutex naturally by calling Run sequentially - Run itself takes
// the shell's lock so concurrent callers simply queue.
func (s *PersistentShell) Run(ctx context.Context, command string, timeout time.Duration) (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("shell: closed")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	wrapped := fmt.Sprintf("%s\nprintf '\\n%s%%d\\n' $?\n", command, sentinelPrefix)
	if _, err := s.ptmx.WriteString(wrapped); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}

	return s.readUntilDone(ctx, timeout)
}

// readUntilDone drains the PTY into s.buf, checking after each read for the
// completion sentinel (command finished) or an interactive prompt
// (command is waiting on stdin).
func (s *PersistentShell) readUntilDone(ctx context.Context, timeout time.Duration) (*RunResult, error) {
	deadline := time.Now().Add(timeout)
	readBuf := make([]byte, 4096)
	chunk := make(chan readResult, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &RunResult{Output: s.drainBuffer(), TimedOut: true}, nil
		}

		go func() {
			n, err := s.ptmx.Read(readBuf)
			chunk <- readResult{n: n, err: err}
		}()

		select {
		case <-ctx.Done():
			return &RunResult{Output: s.drainBuffer(), TimedOut: true}, ctx.Err()
		case <-time.After(remaining):
			return &RunResult{Output: s.drainBuffer(), TimedOut: true}, nil
		case r := <-chunk:
			if r.n > 0 {
				s.buf.Write(readBuf[:r.n])
			}
			if exitCode, output, ok := extractSentinel(s.buf.String()); ok {
				s.buf.Reset()
				return &RunResult{Output: output, ExitCode: exitCode}, nil
			}
			if prompt, ok := detectPrompt(s.buf.String()); ok {
				output := s.drainBuffer()
				return &RunResult{Output: output, AwaitingInput: true, Prompt: prompt}, nil
			}
			if r.err != nil {
				if r.err == io.EOF {
					return &RunResult{Output: s.drainBuffer(), ExitCode: -1}, nil
				}
				return &RunResult{Output: s.drainBuffer()}, r.err
			}
		}
	}
}

type readResult struct {
	n   int
	err error
}

func (s *PersistentShell) drainBuffer() string {
	out := s.buf.String()
	s.buf.Reset()
	return out
}

// extractSentinel looks for the completion marker and, if present, returns
// the output preceding it and the parsed exit code.
func extractSentinel(s string) (exitCode int, output string, ok bool) {
	idx := strings.Index(s, sentinelPrefix)
	if idx < 0 {
		return 0, "", false
	}
	rest := s[idx+len(sentinelPrefix):]
	nl := strings.IndexByte(rest, '\n')
	codeStr := rest
	if nl >= 0 {
		codeStr = rest[:nl]
	}
	codeStr = strings.TrimSpace(codeStr)
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		// Sentinel seen but exit code not fully written yet; keep waiting.
		return 0, "", false
	}
	return code, strings.TrimRight(s[:idx], "\r\n"), true
}

// SendKeys types literal keystrokes into the shell one character at a time,
// with a small delay between characters, matching how a human would type
// into an interactive prompt.
func (s *PersistentShell) SendKeys(ctx context.Context, keys string, interCharDelay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("shell: closed")
	}
	if interCharDelay <= 0 {
		interCharDelay = 20 * time.Millisecond
	}
	for _, r := range keys {
		if _, err := s.ptmx.WriteString(string(r)); err != nil {
			return fmt.Errorf("send key: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interCharDelay):
		}
	}
	return nil
}

// DefaultResponse returns the auto-responder's answer for a detected
// prompt: "y" for yes/no questions, an empty line (Enter) for
// press-enter-to-continue prompts, and "" (no auto-response) otherwise.
func DefaultResponse(p Prompt) string {
	return p.Default
}

// Resize updates the PTY window size.
func (s *PersistentShell) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols, s.rows = cols, rows
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close terminates the shell process and releases the PTY.
func (s *PersistentShell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.ptmx.Close()
}
