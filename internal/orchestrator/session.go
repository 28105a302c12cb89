package orchestrator

import (
	"sync"
	"time"

	"agentd/internal/sandbox"
	"agentd/pkg/models"
)

// Session is the in-memory runtime state for one conversation thread: the
// state machine's current status (spec §4.5), the serialized prompt inbox a
// session's single worker pumps, and the handles a turn needs to reach the
// sandbox and the in-flight tool call it may be racing a follow-up LLM
// request against.
//
// Exactly one Session exists per (user, session) pair while that session has
// an active worker goroutine; it is not itself persisted — models.Session in
// the store is the durable row, this is the live coordination point.
type Session struct {
	UserID    string
	SessionID string

	mu     sync.Mutex
	status models.SessionStatus
	cancel func() // cancels the active worker's context, set while running

	inbox  chan inboundPrompt
	closed bool

	Sandbox sandbox.Driver // nil until the first tool call needs it
}

// inboundPrompt is one user turn waiting for the worker to pick it up.
type inboundPrompt struct {
	text   string
	events chan Event
}

// NewSession creates an idle session with a buffered prompt inbox; prompts
// queue up if the caller sends faster than the worker drains (spec §4.5 step
// 9: a prompt arriving while awaiting_tool is appended immediately, not
// rejected).
func NewSession(userID, sessionID string) *Session {
	return &Session{
		UserID:    userID,
		SessionID: sessionID,
		status:    models.StatusIdle,
		inbox:     make(chan inboundPrompt, 32),
	}
}

// Status returns the session's current state-machine status.
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status models.SessionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// IsIdle reports whether the session is not currently generating or awaiting
// a tool result — used by the helper fabric and notification poller to
// decide whether a message can be delivered immediately.
func (s *Session) IsIdle() bool {
	return s.Status() == models.StatusIdle
}

// ID satisfies helperfabric.ParentHandle.
func (s *Session) ID() string { return s.SessionID }

// Submit enqueues a user prompt and returns the channel its turn's events
// will be streamed on. The channel is closed once the turn completes.
func (s *Session) Submit(text string) chan Event {
	events := make(chan Event, 64)
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		close(events)
		return events
	}
	s.inbox <- inboundPrompt{text: text, events: events}
	return events
}

// Shutdown cancels any in-flight worker and tool/follow-up tasks, then marks
// the session closed so further Submit calls are rejected (spec §4.5
// cancellation: "discards in-flight tool output, resets to idle").
func (s *Session) Shutdown() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.closed = true
	s.status = models.StatusIdle
	s.mu.Unlock()
}

// pendingNotifications buffers sandbox notification text delivered while the
// session was busy, flushed into the log once idle (spec §4.4/§4.5 step 7).
type pendingNotifications struct {
	mu    sync.Mutex
	items []string
}

func newPendingNotifications() *pendingNotifications { return &pendingNotifications{} }

func (p *pendingNotifications) push(msg string) {
	p.mu.Lock()
	p.items = append(p.items, msg)
	p.mu.Unlock()
}

func (p *pendingNotifications) drain() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.items
	p.items = nil
	return out
}

// now exists so tests can stub time without touching the system clock.
var now = time.Now
