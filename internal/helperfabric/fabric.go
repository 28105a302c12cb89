// Package helperfabric implements spawn_agent / send_to_agent (spec §4.7):
// a bounded pool of short-lived helper agents a parent session can delegate
// sub-tasks to, each running to completion (or accepting follow-up
// messages) and reporting its result back into the parent's inbox once the
// parent is idle.
package helperfabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a helper agent's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Helper is one spawned helper agent.
type Helper struct {
	ID          string
	ParentID    string
	Name        string
	Task        string
	Status      Status
	CreatedAt   time.Time
	CompletedAt time.Time
	Result      string
	Error       string

	inbox chan inboxMessage // serial follow-up messages, consumed by the run loop
	mu    sync.Mutex
}

// CurrentStatus returns h's status under its lock, for callers outside the
// fabric that need a race-free read (the field itself is only safe to read
// while f.run/f.enqueue hold h.mu).
func (h *Helper) CurrentStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Status
}

// inboxMessage is one item in a helper's serial inbox: the message text,
// a result-promise the sender can wait on, and whether the outcome should
// also be queued for the parent's message log (spec §4.7).
type inboxMessage struct {
	text       string
	reply      chan helperReply
	enqueue    bool
}

type helperReply struct {
	text string
	err  error
}

// ParentHandle is the non-owning back-reference a Helper's completion path
// uses to find out whether its parent session is idle and, if so, deliver
// directly; the fabric holds this handle, never a pointer into the
// orchestrator's session struct, so the two packages don't cycle.
type ParentHandle interface {
	ID() string
	IsIdle() bool
	Deliver(ctx context.Context, message string) error
}

// Runner executes one helper turn: given the accumulated task (the initial
// task, or a follow-up message), it runs the helper's LLM loop to
// completion and returns its final text. The orchestrator supplies this so
// helperfabric has no dependency on the LLM provider or tool registry.
type Runner func(ctx context.Context, h *Helper, input string) (string, error)

// Fabric manages the pool of helpers, enforcing MaxHelpers per parent
// session (spec §3/§4.7's max_mini_agents, default 4): each parent may have
// at most MaxHelpers non-cancelled helpers alive at once, but a helper
// lives until its parent exits or reclaims it — Completed and Failed are
// idle states a helper can still be sent follow-up messages in, not dead
// ones. Only Cancel is terminal.
type Fabric struct {
	mu         sync.RWMutex
	helpers    map[string]*Helper
	maxHelpers int
	runner     Runner
	inbox      *Inbox
}

// NewFabric creates a Fabric with the given per-parent-session helper cap.
func NewFabric(maxHelpers int, runner Runner) *Fabric {
	if maxHelpers <= 0 {
		maxHelpers = 4
	}
	return &Fabric{
		helpers:    make(map[string]*Helper),
		maxHelpers: maxHelpers,
		runner:     runner,
		inbox:      NewInbox(),
	}
}

// ErrLimitReached is returned by Spawn when the parent session already has
// max_mini_agents live helpers.
var ErrLimitReached = fmt.Errorf("helperfabric: max active helpers reached")

// Spawn starts a new helper running task in the background, reporting its
// completion to parent once parent.IsIdle().
func (f *Fabric) Spawn(ctx context.Context, parent ParentHandle, name, task string) (*Helper, error) {
	parentID := parent.ID()

	f.mu.Lock()
	live := 0
	for _, existing := range f.helpers {
		if existing.ParentID == parentID && existing.CurrentStatus() != StatusCancelled {
			live++
		}
	}
	if live >= f.maxHelpers {
		f.mu.Unlock()
		return nil, ErrLimitReached
	}

	h := &Helper{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Name:      name,
		Task:      task,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
		inbox:     make(chan inboxMessage, 16),
	}
	f.helpers[h.ID] = h
	f.mu.Unlock()

	go f.run(context.Background(), parent, h)

	return h, nil
}

// run drives a helper's serial inbox worker: it processes the initial task,
// then any follow-up messages sent via SendToAgent, one at a time, until
// the run context is cancelled or the helper is cancelled.
func (f *Fabric) run(ctx context.Context, parent ParentHandle, h *Helper) {
	result, err := f.runner(ctx, h, h.Task)
	f.recordOutcome(h, result, err)
	f.deliver(ctx, parent, h)

	for msg := range h.inbox {
		h.mu.Lock()
		cancelled := h.Status == StatusCancelled
		h.mu.Unlock()
		if cancelled {
			if msg.reply != nil {
				msg.reply <- helperReply{err: fmt.Errorf("helperfabric: helper cancelled")}
			}
			break
		}
		result, err := f.runner(ctx, h, msg.text)
		f.recordOutcome(h, result, err)
		if msg.enqueue {
			f.deliver(ctx, parent, h)
		}
		if msg.reply != nil {
			msg.reply <- helperReply{text: result, err: err}
		}
	}
}

func (f *Fabric) recordOutcome(h *Helper, result string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CompletedAt = time.Now()
	if err != nil {
		h.Status = StatusFailed
		h.Error = err.Error()
		return
	}
	h.Status = StatusCompleted
	h.Result = result
}

// deliver hands the helper's latest outcome to the parent, either
// immediately (parent idle) or by queuing it in the per-parent inbox for
// the orchestrator to flush the next time that session goes idle.
func (f *Fabric) deliver(ctx context.Context, parent ParentHandle, h *Helper) {
	h.mu.Lock()
	outcome := HelperOutcome{
		HelperID: h.ID,
		Name:     h.Name,
		Task:     h.Task,
		Status:   h.Status,
		Result:   h.Result,
		Error:    h.Error,
		Ended:    h.CompletedAt,
	}
	h.mu.Unlock()

	message := BuildTriggerMessage(outcome)

	if parent.IsIdle() {
		_ = parent.Deliver(ctx, message)
		return
	}
	f.inbox.Enqueue(parent.ID(), message)
}

// SendToAgent enqueues message onto helper id's serial inbox and blocks
// until that turn resolves, returning the helper's reply text (spec
// §4.6: "enqueues message onto helper name's inbox and waits for its
// reply"). The outcome is also queued for the parent's helper-reply queue,
// matching the always-enqueue behavior of the initial spawn task.
func (f *Fabric) SendToAgent(ctx context.Context, id, message string) (string, error) {
	reply, err := f.enqueue(id, message, true)
	if err != nil {
		return "", err
	}
	select {
	case r, ok := <-reply:
		if !ok {
			return "", fmt.Errorf("helperfabric: helper %q cancelled before replying", id)
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// enqueue pushes msg onto helper id's inbox with a fresh reply channel. A
// helper accepts follow-ups whenever it isn't cancelled — Completed and
// Failed just mean its last turn finished, not that it's gone (spec §3:
// a helper lives until its parent exits or reclaims it). The status check
// and the send happen under the helper's own lock, the same lock Cancel
// holds while closing the inbox, so a send can never race a concurrent
// close.
func (f *Fabric) enqueue(id, msg string, enqueueToParent bool) (chan helperReply, error) {
	f.mu.RLock()
	h, ok := f.helpers[id]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("helperfabric: unknown helper %q", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Status == StatusCancelled {
		return nil, fmt.Errorf("helperfabric: helper %q is cancelled", id)
	}

	reply := make(chan helperReply, 1)
	select {
	case h.inbox <- inboxMessage{text: msg, reply: reply, enqueue: enqueueToParent}:
		return reply, nil
	default:
		return nil, fmt.Errorf("helperfabric: helper %q inbox is full", id)
	}
}

// Get returns a helper by ID.
func (f *Fabric) Get(id string) (*Helper, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.helpers[id]
	return h, ok
}

// List returns every helper spawned by parentID.
func (f *Fabric) List(parentID string) []*Helper {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Helper
	for _, h := range f.helpers {
		if h.ParentID == parentID {
			out = append(out, h)
		}
	}
	return out
}

// Cancel marks helper id cancelled and closes its inbox so its run loop
// exits after any in-flight runner call returns. Cancel works regardless of
// whether the helper is currently running or idle between turns; only an
// already-cancelled helper rejects it.
func (f *Fabric) Cancel(id string) error {
	f.mu.RLock()
	h, ok := f.helpers[id]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("helperfabric: unknown helper %q", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Status == StatusCancelled {
		return fmt.Errorf("helperfabric: helper %q is already cancelled", id)
	}
	h.Status = StatusCancelled
	h.Error = "cancelled"
	close(h.inbox)
	return nil
}

// ActiveCount returns the number of helpers that are alive (not cancelled),
// across all parent sessions.
func (f *Fabric) ActiveCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, h := range f.helpers {
		if h.CurrentStatus() != StatusCancelled {
			n++
		}
	}
	return n
}

// MaxHelpers returns the configured cap.
func (f *Fabric) MaxHelpers() int { return f.maxHelpers }

// FlushInbox drains and returns all messages queued for parentID, for the
// orchestrator to inject into that session's history once it goes idle.
func (f *Fabric) FlushInbox(parentID string) []string {
	return f.inbox.DequeueAll(parentID)
}
