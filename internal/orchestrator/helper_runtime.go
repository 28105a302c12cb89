package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"agentd/internal/helperfabric"
	"agentd/internal/sessions"
	"agentd/pkg/models"
)

// helperRuntime is the live state backing one spawned helper: its own
// Session (for status/placeholder bookkeeping) and its own in-memory store.
type helperRuntime struct {
	sess  *Session
	store *memStore
}

// HelperRunner implements helperfabric.Runner: it drives one helper turn
// through the same turn-loop machinery a real session uses, restricted to
// the execute_terminal tool and backed by the helper's private in-memory
// log (spec §4.7).
func (e *Engine) HelperRunner(ctx context.Context, h *helperfabric.Helper, input string) (string, error) {
	rt := e.helperRuntimeFor(h)

	if parent, ok := e.Session(h.ParentID); ok {
		rt.sess.Sandbox = parent.Sandbox
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: h.ID,
		Role:      models.RoleTool,
		ToolName:  "senior",
		Content:   input,
		CreatedAt: now(),
	}
	if err := rt.store.AppendMessage(ctx, msg); err != nil {
		return "", err
	}

	helperCfg := e.Config
	helperCfg.SystemPrompt = helperfabric.BuildHelperSystemPrompt(h.ParentID, h.ID, h.Task)
	helperEngine := &Engine{
		Provider: e.Provider,
		Tools:    e.helperTools,
		Store:    rt.store,
		Fabric:   e.Fabric,
		Locker:   e.Locker,
		Config:   helperCfg,
	}

	tc := &ToolContext{
		UserID:             h.ParentID,
		SessionID:          h.ID,
		Sandbox:            rt.sess.Sandbox,
		Store:              rt.store,
		Fabric:             e.Fabric,
		Parent:             noParent{id: h.ID},
		HardTimeoutSeconds: e.Config.HardTimeoutSeconds,
		MemoryLimit:        e.Config.MemoryLimit,
	}

	events := make(chan Event, 64)
	drained := make(chan struct{})
	go func() {
		for range events {
		}
		close(drained)
	}()

	ok := helperEngine.loop(ctx, rt.sess, tc, events)
	close(events)
	<-drained
	if !ok {
		return "", fmt.Errorf("helperfabric: helper %q turn did not complete", h.ID)
	}

	history, err := rt.store.ListMessages(ctx, h.ID, sessions.ListOptions{})
	if err != nil {
		return "", err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content, nil
		}
	}
	return "", nil
}

func (e *Engine) helperRuntimeFor(h *helperfabric.Helper) *helperRuntime {
	e.helperMu.Lock()
	defer e.helperMu.Unlock()
	rt, ok := e.helperSessions[h.ID]
	if !ok {
		rt = &helperRuntime{
			sess:  NewSession(h.ParentID, h.ID),
			store: newMemStore(),
		}
		e.helperSessions[h.ID] = rt
	}
	return rt
}
