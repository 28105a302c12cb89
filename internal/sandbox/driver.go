// Package sandbox implements the sandbox driver (spec §4.1), the VM registry
// (§4.3), and the return/notification watchers (§4.4).
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Driver is a per-user, per-session isolated Linux execution environment
// with writable bind mounts, implemented by shelling out to an external
// container runtime CLI.
type Driver interface {
	// Start is idempotent: if the named container already exists and is
	// running, it is reused; otherwise it is created and launched.
	Start(ctx context.Context) error

	// Execute runs cmd via the runtime's one-shot exec facility. No error
	// escapes Execute for ordinary command failures: the transcript captures
	// stdout/stderr/exit status and a diagnostic line is appended on timeout.
	Execute(ctx context.Context, cmd string, timeout time.Duration, stdin string) (*ExecOutput, error)

	// CopyTo copies a local file into the sandbox at remote.
	CopyTo(ctx context.Context, local, remote string) error
	// CopyFrom copies a sandbox file at remote to a local path.
	CopyFrom(ctx context.Context, remote, local string) error

	// Stop tears down the sandbox: pauses the container if persist is on,
	// otherwise removes it. Also tears down any attached persistent shell.
	Stop(ctx context.Context, persist bool) error
	// Restart stops then starts, discarding any persistent shell.
	Restart(ctx context.Context, persist bool) error

	// NotificationsDir and ReturnDir expose the bind-mounted host paths so
	// the notification poller and return watcher (§4.4) can observe them.
	NotificationsDir() string
	ReturnDir() string
}

// ExecOutput is the result of a one-shot Execute call.
type ExecOutput struct {
	Transcript string
	ExitCode   int
	TimedOut   bool
}

// maxTranscriptChars is the tail-truncation bound from spec §4.1.
const maxTranscriptChars = 10000

// truncateTranscript keeps the trailing maxTranscriptChars of s, prefixing a
// diagnostic line describing how much was elided.
func truncateTranscript(s string) string {
	if len(s) <= maxTranscriptChars {
		return s
	}
	elided := len(s) - maxTranscriptChars
	return fmt.Sprintf("[...%d characters elided...]\n%s", elided, s[len(s)-maxTranscriptChars:])
}

// Error taxonomy (spec §7).
var (
	ErrSandboxUnavailable = errors.New("sandbox: unavailable")
	ErrCopyFailed         = errors.New("sandbox: copy failed")
)

// SandboxUnavailableError wraps a runtime failure on start/exec.
type SandboxUnavailableError struct {
	Op  string
	Err error
}

func (e *SandboxUnavailableError) Error() string {
	return fmt.Sprintf("sandbox unavailable during %s: %v", e.Op, e.Err)
}
func (e *SandboxUnavailableError) Unwrap() error { return ErrSandboxUnavailable }

// CopyFailedError wraps a copy_to/copy_from failure.
type CopyFailedError struct {
	Local, Remote string
	Err           error
}

func (e *CopyFailedError) Error() string {
	return fmt.Sprintf("copy failed (%s <-> %s): %v", e.Local, e.Remote, e.Err)
}
func (e *CopyFailedError) Unwrap() error { return ErrCopyFailed }

// sanitizeForPath replaces characters unsafe in a filesystem path segment or
// a container name with "_". Used for the per-user state/notification/return
// directories and for the container name template.
func sanitizeForPath(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// ContainerName renders the config's vm_container_template with the
// sanitized (user, session) pair, e.g. "agentd-vm-%s-%s".
func ContainerName(template, user, session string) string {
	name := strings.Replace(template, "%s", sanitizeForPath(user), 1)
	return strings.Replace(name, "%s", sanitizeForPath(session), 1)
}
