package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"agentd/internal/helperfabric"
	"agentd/internal/orchestrator/providers"
	"agentd/internal/sessions"
	"agentd/pkg/models"
)

func newTestStore(t *testing.T) sessions.Store {
	t.Helper()
	store, err := sessions.NewSQLiteStore(":memory:", 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func drainEvents(ch chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestEngine_SimpleTurnNoTools(t *testing.T) {
	store := newTestStore(t)
	provider := providers.NewFakeProvider()
	provider.Push(&providers.ChatResponse{Text: "hello there"})

	tools := NewToolRegistry()
	RegisterBuiltinTools(tools)
	fabric := helperfabric.NewFabric(4, nil)
	engine := NewEngine(provider, tools, store, fabric, DefaultEngineConfig())

	u, _ := store.UpsertUser(context.Background(), "alice")
	row, _ := store.UpsertSession(context.Background(), u.ID, "default")
	sess := NewSession(u.ID, row.ID)
	engine.Start(context.Background(), sess)

	events := drainEvents(sess.Submit("hi"))
	if len(events) != 1 || events[0].Kind != EventTextChunk || events[0].Text != "hello there" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if sess.Status() != models.StatusIdle {
		t.Fatalf("status = %s, want idle", sess.Status())
	}
}

func TestEngine_ToolCallRoundTrip(t *testing.T) {
	store := newTestStore(t)
	provider := providers.NewFakeProvider()
	provider.Push(&providers.ChatResponse{
		ToolCalls: []models.ToolCall{{ID: "1", Name: "manage_memory", Args: json.RawMessage(`{"field":"note","value":"remember this"}`)}},
	})
	provider.Push(&providers.ChatResponse{Text: "done"})

	tools := NewToolRegistry()
	RegisterBuiltinTools(tools)
	fabric := helperfabric.NewFabric(4, nil)
	engine := NewEngine(provider, tools, store, fabric, DefaultEngineConfig())

	u, _ := store.UpsertUser(context.Background(), "bob")
	row, _ := store.UpsertSession(context.Background(), u.ID, "default")
	sess := NewSession(u.ID, row.ID)
	engine.Start(context.Background(), sess)

	events := drainEvents(sess.Submit("remember my name"))

	var sawPlaceholder, sawFinal bool
	for _, ev := range events {
		if ev.Kind == EventTextChunk && ev.Text == DefaultEngineConfig().ToolPlaceholderContent {
			sawPlaceholder = true
		}
		if ev.Kind == EventTextChunk && ev.Text == "done" {
			sawFinal = true
		}
	}
	if !sawPlaceholder {
		t.Fatalf("expected tool placeholder event, got %+v", events)
	}
	if !sawFinal {
		t.Fatalf("expected final assistant text, got %+v", events)
	}

	memory, err := store.GetMemory(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if memory == "" || memory == "{}" {
		t.Fatalf("expected memory to be set, got %q", memory)
	}
}

func TestEngine_MaxToolCallDepthStopsRecursion(t *testing.T) {
	store := newTestStore(t)
	provider := providers.NewFakeProvider()
	cfg := DefaultEngineConfig()
	cfg.MaxToolCallDepth = 2

	call := models.ToolCall{ID: "x", Name: "manage_memory", Args: json.RawMessage(`{"field":"n","value":1}`)}
	for i := 0; i < 5; i++ {
		provider.Push(&providers.ChatResponse{ToolCalls: []models.ToolCall{call}})
	}

	tools := NewToolRegistry()
	RegisterBuiltinTools(tools)
	fabric := helperfabric.NewFabric(4, nil)
	engine := NewEngine(provider, tools, store, fabric, cfg)

	u, _ := store.UpsertUser(context.Background(), "carol")
	row, _ := store.UpsertSession(context.Background(), u.ID, "default")
	sess := NewSession(u.ID, row.ID)
	engine.Start(context.Background(), sess)

	events := drainEvents(sess.Submit("loop forever"))

	var sawDepthError bool
	for _, ev := range events {
		if ev.Kind == EventError {
			sawDepthError = true
		}
	}
	if !sawDepthError {
		t.Fatalf("expected a max-depth error event, got %+v", events)
	}
	calls := provider.Calls()
	if len(calls) > cfg.MaxToolCallDepth+2 {
		t.Fatalf("provider called %d times, recursion did not stop at depth cap", len(calls))
	}
}

func TestEngine_NotificationFlushWakesIdleSession(t *testing.T) {
	store := newTestStore(t)
	provider := providers.NewFakeProvider()
	provider.Push(&providers.ChatResponse{Text: "first"})
	provider.Push(&providers.ChatResponse{Text: "saw the notification"})

	tools := NewToolRegistry()
	RegisterBuiltinTools(tools)
	fabric := helperfabric.NewFabric(4, nil)
	engine := NewEngine(provider, tools, store, fabric, DefaultEngineConfig())

	u, _ := store.UpsertUser(context.Background(), "dana")
	row, _ := store.UpsertSession(context.Background(), u.ID, "default")
	sess := NewSession(u.ID, row.ID)
	engine.Start(context.Background(), sess)

	drainEvents(sess.Submit("hi"))

	engine.DeliverNotifications(context.Background(), sess, []string{"a background job finished"})
	deadline := time.After(2 * time.Second)
	for {
		history, _ := store.ListMessages(context.Background(), row.ID, sessions.ListOptions{})
		found := false
		for _, m := range history {
			if m.Role == models.RoleAssistant && m.Content == "saw the notification" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("notification flush did not produce a follow-up turn in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSendToAgent_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	provider := providers.NewFakeProvider()
	provider.Push(&providers.ChatResponse{
		ToolCalls: []models.ToolCall{{ID: "1", Name: "spawn_agent", Args: json.RawMessage(`{"name":"researcher","details":"look something up"}`)}},
	})
	provider.Push(&providers.ChatResponse{Text: "spawned"})

	tools := NewToolRegistry()
	RegisterBuiltinTools(tools)
	engine := NewEngine(provider, tools, store, nil, DefaultEngineConfig())
	fabric := helperfabric.NewFabric(4, engine.HelperRunner)
	engine.Fabric = fabric

	u, _ := store.UpsertUser(context.Background(), "erin")
	row, _ := store.UpsertSession(context.Background(), u.ID, "default")
	sess := NewSession(u.ID, row.ID)
	engine.Start(context.Background(), sess)

	provider.Push(&providers.ChatResponse{Text: "helper's answer"})

	drainEvents(sess.Submit("go find out"))

	deadline := time.After(2 * time.Second)
	var helper *helperfabric.Helper
	for helper == nil {
		select {
		case <-deadline:
			t.Fatalf("helper never spawned")
		case <-time.After(10 * time.Millisecond):
		}
		for _, h := range fabric.List(row.ID) {
			helper = h
		}
	}

	for helper.CurrentStatus() == helperfabric.StatusRunning {
		select {
		case <-deadline:
			t.Fatalf("helper never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if helper.CurrentStatus() != helperfabric.StatusCompleted {
		t.Fatalf("helper ended in status %s, want completed", helper.CurrentStatus())
	}
}
