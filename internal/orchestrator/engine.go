package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"agentd/internal/helperfabric"
	"agentd/internal/orchestrator/providers"
	"agentd/internal/sessions"
	"agentd/pkg/models"
)

// EngineConfig holds the tunables spec §6 exposes for the turn loop.
type EngineConfig struct {
	ModelName              string
	NumCtx                 int
	MaxToolCallDepth       int // spec's max_tool_call_depth, default 15
	SystemPrompt           string
	ToolPlaceholderContent string // spec's tool_placeholder_content, e.g. "Awaiting tool response…"
	HardTimeoutSeconds     int
	MemoryLimit            int // spec's memory_limit, default MEMORY_LIMIT bytes
}

// DefaultEngineConfig mirrors spec §6's stated defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		NumCtx:                 8192,
		MaxToolCallDepth:       15,
		SystemPrompt:           "You are a helpful autonomous agent with access to a sandboxed terminal.",
		ToolPlaceholderContent: "Awaiting tool response…",
		HardTimeoutSeconds:     120,
		MemoryLimit:            65536,
	}
}

// Engine drives every session's turn loop: one LLM round-trip, the
// tool-call/speculative-follow-up race when the model asks for a tool, and
// the idle-time flush of queued helper replies and sandbox notifications
// (spec §4.5).
type Engine struct {
	Provider providers.Provider
	Tools    *ToolRegistry
	Store    sessions.Store
	Fabric   *helperfabric.Fabric
	Locker   *SessionLocker
	Config   EngineConfig

	pending     map[string]*pendingNotifications
	sessionsMu  sync.Mutex
	sessions    map[string]*Session

	helperTools    *ToolRegistry
	helperMu       sync.Mutex
	helperSessions map[string]*helperRuntime
}

// NewEngine wires the pieces a running session needs. tools must already
// have the four built-in tools registered (RegisterBuiltinTools); a
// restricted subset containing only execute_terminal is derived for helper
// agents per spec §4.7.
func NewEngine(provider providers.Provider, tools *ToolRegistry, store sessions.Store, fabric *helperfabric.Fabric, cfg EngineConfig) *Engine {
	return &Engine{
		Provider:       provider,
		Tools:          tools,
		Store:          store,
		Fabric:         fabric,
		Locker:         NewSessionLocker(),
		Config:         cfg,
		pending:        make(map[string]*pendingNotifications),
		sessions:       make(map[string]*Session),
		helperTools:    tools.Subset("execute_terminal"),
		helperSessions: make(map[string]*helperRuntime),
	}
}

// Notifications returns the pending-notification buffer for a session,
// creating it on first use. The sandbox's notification poller pushes onto
// this from outside the turn loop; the engine drains it once idle.
func (e *Engine) Notifications(sessionID string) *pendingNotifications {
	if p, ok := e.pending[sessionID]; ok {
		return p
	}
	p := newPendingNotifications()
	e.pending[sessionID] = p
	return p
}

// Start launches the session's worker goroutine, which pumps its prompt
// inbox one turn at a time until Shutdown closes it.
func (e *Engine) Start(ctx context.Context, sess *Session) {
	e.sessionsMu.Lock()
	e.sessions[sess.SessionID] = sess
	e.sessionsMu.Unlock()
	go e.runWorker(ctx, sess)
}

// Session looks up a live, running session by ID (used by the helper
// runner to borrow its parent's sandbox, per spec §4.7).
func (e *Engine) Session(id string) (*Session, bool) {
	e.sessionsMu.Lock()
	defer e.sessionsMu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

func (e *Engine) runWorker(ctx context.Context, sess *Session) {
	for ip := range sess.inbox {
		e.runTurn(ctx, sess, ip)
	}
	e.sessionsMu.Lock()
	delete(e.sessions, sess.SessionID)
	e.sessionsMu.Unlock()
}

// runTurn processes exactly one submitted prompt through to idle, including
// any tool-call recursion and the subsequent helper/notification flush.
func (e *Engine) runTurn(ctx context.Context, sess *Session, ip inboundPrompt) {
	lock := e.Locker.Lock(sess.SessionID)
	lock.Lock()
	defer lock.Unlock()
	defer close(ip.events)

	turnCtx, cancel := context.WithCancel(ctx)
	sess.mu.Lock()
	sess.cancel = cancel
	sess.mu.Unlock()
	defer func() {
		sess.mu.Lock()
		sess.cancel = nil
		sess.mu.Unlock()
		cancel()
	}()

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.SessionID,
		Role:      models.RoleUser,
		Content:   ip.text,
		CreatedAt: now(),
	}
	if err := e.Store.AppendMessage(turnCtx, userMsg); err != nil {
		ip.events <- ErrorEvent(fmt.Errorf("orchestrator: append prompt: %w", err))
		return
	}

	tc := e.toolContext(sess)

	for {
		if !e.loop(turnCtx, sess, tc, ip.events) {
			return // turn ended on a terminal error; status already reset
		}
		if !e.flushPending(turnCtx, sess, ip.events) {
			return
		}
	}
}

func (e *Engine) toolContext(sess *Session) *ToolContext {
	return &ToolContext{
		UserID:             sess.UserID,
		SessionID:          sess.SessionID,
		Sandbox:            sess.Sandbox,
		Store:              e.Store,
		Fabric:             e.Fabric,
		Parent:             sessionParentHandle{sess: sess, store: e.Store},
		HardTimeoutSeconds: e.Config.HardTimeoutSeconds,
		MemoryLimit:        e.Config.MemoryLimit,
	}
}

// sessionParentHandle adapts a Session to helperfabric.ParentHandle: the
// non-owning back-reference a spawned helper uses to check idleness and
// deliver its outcome, without helperfabric importing the orchestrator
// package (spec §9 redesign note on cyclic references).
type sessionParentHandle struct {
	sess  *Session
	store sessions.Store
}

func (h sessionParentHandle) ID() string   { return h.sess.SessionID }
func (h sessionParentHandle) IsIdle() bool { return h.sess.IsIdle() }
func (h sessionParentHandle) Deliver(ctx context.Context, message string) error {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: h.sess.SessionID,
		Role:      models.RoleTool,
		ToolName:  "helper",
		Content:   message,
		CreatedAt: now(),
	}
	return h.store.AppendMessage(ctx, msg)
}

// loop runs LLM round-trips (and any tool-call recursion they trigger)
// until the model returns a tool-call-free response, then marks the
// session idle. Returns false if a non-recoverable error ended the turn.
func (e *Engine) loop(ctx context.Context, sess *Session, tc *ToolContext, events chan Event) bool {
	sess.setStatus(models.StatusGenerating)
	depth := 0

	for {
		resp, err := e.complete(ctx, sess)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return false // cancelled: silent, per spec §7
			}
			events <- ErrorEvent(err)
			sess.setStatus(models.StatusIdle)
			return false
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Text != "" {
				events <- TextEvent(resp.Text)
			}
			e.appendAssistant(ctx, sess, resp.Text, nil)
			sess.setStatus(models.StatusIdle)
			return true
		}

		if depth >= e.Config.MaxToolCallDepth {
			if resp.Text != "" {
				events <- TextEvent(resp.Text)
			}
			e.appendAssistant(ctx, sess, resp.Text, resp.ToolCalls)
			events <- ErrorEvent(fmt.Errorf("orchestrator: max tool call depth %d reached", e.Config.MaxToolCallDepth))
			sess.setStatus(models.StatusIdle)
			return true
		}

		if resp.Text != "" {
			events <- TextEvent(resp.Text)
		}
		e.appendAssistant(ctx, sess, resp.Text, resp.ToolCalls)

		call := resp.ToolCalls[0]
		sess.setStatus(models.StatusAwaitingTool)
		events <- TextEvent(e.Config.ToolPlaceholderContent)

		if !e.runToolRace(ctx, sess, tc, call, events) {
			return false
		}

		depth++
		sess.setStatus(models.StatusGenerating)
	}
}

// complete fetches the current history and memory, builds the request, and
// calls the provider. Split out so both the main loop and the speculative
// follow-up path build requests identically.
func (e *Engine) complete(ctx context.Context, sess *Session) (*providers.ChatResponse, error) {
	history, err := e.Store.ListMessages(ctx, sess.SessionID, sessions.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list messages: %w", err)
	}
	memory, err := e.Store.GetMemory(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load memory: %w", err)
	}

	msgs := make([]models.Message, len(history))
	for i, m := range history {
		msgs[i] = *m
	}

	req := providers.ChatRequest{
		Model:        e.Config.ModelName,
		SystemPrompt: e.buildSystemPrompt(memory),
		Messages:     msgs,
		Tools:        e.Tools.Schemas(),
		NumCtx:       e.Config.NumCtx,
	}
	return e.Provider.Complete(ctx, req)
}

func (e *Engine) buildSystemPrompt(memoryJSON string) string {
	if memoryJSON == "" {
		memoryJSON = "{}"
	}
	return e.Config.SystemPrompt + "\n\nCurrent memory:\n" + memoryJSON
}

func (e *Engine) appendAssistant(ctx context.Context, sess *Session, text string, calls []models.ToolCall) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.SessionID,
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
		CreatedAt: now(),
	}
	_ = e.Store.AppendMessage(ctx, msg)
}

func (e *Engine) appendToolResult(ctx context.Context, sess *Session, name, content string) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.SessionID,
		Role:      models.RoleTool,
		ToolName:  name,
		Content:   content,
		CreatedAt: now(),
	}
	_ = e.Store.AppendMessage(ctx, msg)
}

// runToolRace is the heart of spec §4.5's turn algorithm: the tool handler
// and a speculative follow-up LLM call run concurrently. Whichever finishes
// first dictates the narration order, but both complete and both results
// land in the log before the next (fresh) LLM call is issued. Exactly one
// placeholder is ever outstanding, and it is never persisted to the store
// (spec §9 Open Question: placeholder is in-memory only).
func (e *Engine) runToolRace(ctx context.Context, sess *Session, tc *ToolContext, call models.ToolCall, events chan Event) bool {
	followupCtx, cancelFollowup := context.WithCancel(ctx)
	defer cancelFollowup()

	toolDone := make(chan toolOutcome, 1)
	go func() {
		text, err := e.invokeTool(ctx, tc, call)
		toolDone <- toolOutcome{text: text, err: err}
	}()

	followupDone := make(chan followupOutcome, 1)
	go func() {
		resp, err := e.complete(followupCtx, sess)
		followupDone <- followupOutcome{resp: resp, err: err}
	}()

	select {
	case out := <-toolDone:
		// Tool wins: the speculative call is no longer useful, discard it.
		cancelFollowup()
		<-followupDone
		if out.err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return false
			}
			events <- ErrorEvent(out.err)
		}
		e.appendToolResult(ctx, sess, call.Name, out.text)
		return true

	case fu := <-followupDone:
		if fu.err == nil && fu.resp != nil && fu.resp.Text != "" {
			events <- TextEvent(fu.resp.Text)
			e.appendAssistant(ctx, sess, fu.resp.Text, fu.resp.ToolCalls)
		}
		// The tool is still running; await it before any further LLM call.
		out := <-toolDone
		if out.err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return false
			}
			events <- ErrorEvent(out.err)
		}
		e.appendToolResult(ctx, sess, call.Name, out.text)
		return true
	}
}

type toolOutcome struct {
	text string
	err  error
}

type followupOutcome struct {
	resp *providers.ChatResponse
	err  error
}

// invokeTool normalizes arguments and dispatches to the registered handler,
// classifying failures per spec §7: an unknown tool becomes a synthetic
// "Unsupported tool" message rather than an error, and handler failures are
// captured into the tool-result text rather than propagated.
func (e *Engine) invokeTool(ctx context.Context, tc *ToolContext, call models.ToolCall) (string, error) {
	d, ok := e.Tools.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Unsupported tool: %s", call.Name), nil
	}

	args := normalizeArgs(call.Args)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	if err := e.Tools.ValidateArgs(call.Name, args); err != nil {
		return fmt.Sprintf("tool error: %v", err), nil
	}

	result, err := d.Handler(ctx, tc, args)
	if err != nil {
		var tte *TransientToolError
		if errors.As(err, &tte) {
			return fmt.Sprintf("tool error: %v", tte.Err), nil
		}
		return "", err
	}
	return result, nil
}

// flushPending drains queued helper replies and sandbox notifications into
// the log and, if anything was flushed, returns true so the caller runs
// another LLM round (spec §4.4/§4.5: delivered only while idle, flushed via
// continue_stream). Returns false only on an unrecoverable append error.
func (e *Engine) flushPending(ctx context.Context, sess *Session, events chan Event) bool {
	flushedAny := false

	for _, msg := range e.Fabric.FlushInbox(sess.SessionID) {
		e.appendToolResult(ctx, sess, "helper", msg)
		flushedAny = true
	}

	if notif := e.Notifications(sess.SessionID); notif != nil {
		for _, msg := range notif.drain() {
			e.appendToolResult(ctx, sess, "notification", msg)
			flushedAny = true
		}
	}

	return flushedAny
}

// DeliverNotifications is called by the sandbox's notification poller
// (spec §4.4) each time fetch_notifications returns new messages. They are
// queued immediately; if the session is idle with an empty prompt queue
// they are flushed right away via Wake, otherwise they wait for the next
// idle point (end of the current turn, or the next prompt's turn-loop).
func (e *Engine) DeliverNotifications(ctx context.Context, sess *Session, messages []string) {
	if len(messages) == 0 {
		return
	}
	notif := e.Notifications(sess.SessionID)
	for _, m := range messages {
		notif.push(m)
	}
	if sess.IsIdle() && len(sess.inbox) == 0 {
		e.Wake(ctx, sess)
	}
}

// Wake flushes any queued helper replies/notifications into an idle
// session's log and, if anything was flushed, drives the resulting LLM
// round(s) to completion — without appending a new user prompt. Events
// produced are discarded here; a connected wire adapter is expected to
// call this itself when it wants to observe the stream (e.g. after
// registering a live subscriber), this variant exists for background
// wakeups with no attached client.
func (e *Engine) Wake(ctx context.Context, sess *Session) {
	lock := e.Locker.Lock(sess.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if sess.Status() != models.StatusIdle {
		return
	}

	tc := e.toolContext(sess)
	events := make(chan Event, 64)
	defer close(events)
	go func() {
		for range events {
		}
	}()

	for {
		if !e.flushPending(ctx, sess, events) {
			return
		}
		if !e.loop(ctx, sess, tc, events) {
			return
		}
	}
}
