// Package orchestrator implements the per-session state machine (spec
// §4.5), tool dispatch (§4.6), and the helper-agent wiring (§4.7) that ties
// sandboxes, the conversation store, and an LLM provider into one turn
// loop.
package orchestrator

import (
	"errors"
	"fmt"
)

// Error taxonomy (spec §7). Each category is a sentinel plus a wrapper
// carrying enough context to log or surface to the wire, mirroring the
// teacher's ToolError/LoopError classification in internal/agent/errors.go.
var (
	ErrTransientTool    = errors.New("orchestrator: transient tool error")
	ErrUnsupportedTool  = errors.New("orchestrator: unsupported tool")
	ErrSandboxUnavail   = errors.New("orchestrator: sandbox unavailable")
	ErrCopyFailed       = errors.New("orchestrator: copy failed")
	ErrTimeout          = errors.New("orchestrator: timeout")
	ErrBadRequest       = errors.New("orchestrator: bad request")
	ErrCancelled        = errors.New("orchestrator: cancelled")
)

// TransientToolError wraps a tool handler failure. Per spec §7 this is
// always captured into the tool-result string rather than propagated; the
// type exists so callers can log/classify it before capture.
type TransientToolError struct {
	Tool string
	Err  error
}

func (e *TransientToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}
func (e *TransientToolError) Unwrap() error { return ErrTransientTool }

// UnsupportedToolError records an LLM call to a tool name with no
// registered handler.
type UnsupportedToolError struct {
	Tool string
}

func (e *UnsupportedToolError) Error() string { return fmt.Sprintf("unsupported tool: %s", e.Tool) }
func (e *UnsupportedToolError) Unwrap() error { return ErrUnsupportedTool }

// SandboxUnavailableError surfaces to the wire and resets session state to idle.
type SandboxUnavailableError struct {
	Err error
}

func (e *SandboxUnavailableError) Error() string { return fmt.Sprintf("sandbox unavailable: %v", e.Err) }
func (e *SandboxUnavailableError) Unwrap() error { return ErrSandboxUnavail }

// CopyFailedError surfaces a failed copy_to/copy_from to the caller.
type CopyFailedError struct {
	Err error
}

func (e *CopyFailedError) Error() string { return fmt.Sprintf("copy failed: %v", e.Err) }
func (e *CopyFailedError) Unwrap() error { return ErrCopyFailed }

// TimeoutError wraps an exec that exceeded its hard timeout; the partial
// transcript travels alongside it in the caller's result, not in the error.
type TimeoutError struct {
	Command string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("command timed out: %s", e.Command) }
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// BadRequestError is returned to the wire as {error} for unknown commands
// or malformed arguments.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.Reason) }
func (e *BadRequestError) Unwrap() error { return ErrBadRequest }

// CancelledError marks a session worker/tool/LLM call that unwound because
// of a shutdown; propagation is silent (no wire error frame).
type CancelledError struct{}

func (e *CancelledError) Error() string { return "cancelled" }
func (e *CancelledError) Unwrap() error { return ErrCancelled }
