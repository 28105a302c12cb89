package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentd/internal/helperfabric"
)

// RegisterBuiltinTools adds the four built-in tools spec §4.6 names to reg.
// helperRunner supplies the LLM loop a spawned helper runs its turns
// through; the orchestrator wires this to its own Engine so helpers reuse
// the same provider and a restricted tool set (execute_terminal only, per
// spec §4.7).
func RegisterBuiltinTools(reg *ToolRegistry) {
	reg.Register(ToolDescriptor{
		Name:        "execute_terminal",
		Description: "Run a shell command in this session's sandbox and return its truncated transcript.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":    map[string]any{"type": "string"},
				"stdin_data": map[string]any{"type": "string"},
			},
			"required": []string{"command"},
		},
		Handler: executeTerminalHandler,
	})
	reg.Register(ToolDescriptor{
		Name:        "spawn_agent",
		Description: "Create a helper agent that works a sub-task independently and reports back.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string"},
				"details": map[string]any{"type": "string"},
				"context": map[string]any{"type": "string"},
			},
			"required": []string{"name", "details"},
		},
		Handler: spawnAgentHandler,
	})
	reg.Register(ToolDescriptor{
		Name:        "send_to_agent",
		Description: "Send a follow-up message to a running helper agent and wait for its reply.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string"},
				"message": map[string]any{"type": "string"},
			},
			"required": []string{"name", "message"},
		},
		Handler: sendToAgentHandler,
	})
	reg.Register(ToolDescriptor{
		Name:        "manage_memory",
		Description: "Read, set, or remove a field in this user's persistent memory.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"field": map[string]any{"type": "string"},
				"value": map[string]any{},
			},
			"required": []string{"field"},
		},
		Handler: manageMemoryHandler,
	})
}

type executeTerminalArgs struct {
	Command   string  `json:"command"`
	StdinData *string `json:"stdin_data,omitempty"`
}

func executeTerminalHandler(ctx context.Context, tc *ToolContext, raw json.RawMessage) (string, error) {
	var a executeTerminalArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", &TransientToolError{Tool: "execute_terminal", Err: fmt.Errorf("invalid arguments: %w", err)}
	}
	if strings.TrimSpace(a.Command) == "" {
		return "", &TransientToolError{Tool: "execute_terminal", Err: fmt.Errorf("command is required")}
	}
	if tc.Sandbox == nil {
		return "", &SandboxUnavailableError{Err: fmt.Errorf("no sandbox attached to this session")}
	}

	stdin := ""
	if a.StdinData != nil {
		stdin = *a.StdinData
	}

	timeout := time.Duration(tc.HardTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	out, err := tc.Sandbox.Execute(ctx, a.Command, timeout, stdin)
	if err != nil {
		return "", &TransientToolError{Tool: "execute_terminal", Err: err}
	}
	if out.TimedOut {
		return "", &TimeoutError{Command: a.Command}
	}
	return out.Transcript, nil
}

type spawnAgentArgs struct {
	Name    string `json:"name"`
	Details string `json:"details"`
	Context string `json:"context"`
}

func spawnAgentHandler(ctx context.Context, tc *ToolContext, raw json.RawMessage) (string, error) {
	var a spawnAgentArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", &TransientToolError{Tool: "spawn_agent", Err: fmt.Errorf("invalid arguments: %w", err)}
	}
	if strings.TrimSpace(a.Name) == "" {
		return "", &TransientToolError{Tool: "spawn_agent", Err: fmt.Errorf("name is required")}
	}

	for _, h := range tc.Fabric.List(tc.Parent.ID()) {
		if h.Name == a.Name && h.Status == helperfabric.StatusRunning {
			return "Agent limit reached", nil
		}
	}

	task := a.Details
	if strings.TrimSpace(a.Context) != "" {
		task = fmt.Sprintf("%s\n\nContext:\n%s", a.Details, a.Context)
	}
	h, err := tc.Fabric.Spawn(ctx, tc.Parent, a.Name, task)
	if err != nil {
		if err == helperfabric.ErrLimitReached {
			return "Agent limit reached", nil
		}
		return "", &TransientToolError{Tool: "spawn_agent", Err: err}
	}
	return fmt.Sprintf("spawned helper %q (id=%s)", h.Name, h.ID), nil
}

type sendToAgentArgs struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func sendToAgentHandler(ctx context.Context, tc *ToolContext, raw json.RawMessage) (string, error) {
	var a sendToAgentArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", &TransientToolError{Tool: "send_to_agent", Err: fmt.Errorf("invalid arguments: %w", err)}
	}
	if strings.TrimSpace(a.Name) == "" {
		return "", &TransientToolError{Tool: "send_to_agent", Err: fmt.Errorf("name is required")}
	}

	var target string
	for _, h := range tc.Fabric.List(tc.Parent.ID()) {
		if h.Name == a.Name {
			target = h.ID
			break
		}
	}
	if target == "" {
		return "", &TransientToolError{Tool: "send_to_agent", Err: fmt.Errorf("no such helper: %s", a.Name)}
	}

	reply, err := tc.Fabric.SendToAgent(ctx, target, a.Message)
	if err != nil {
		return "", &TransientToolError{Tool: "send_to_agent", Err: err}
	}
	return reply, nil
}

type manageMemoryArgs struct {
	Field string           `json:"field"`
	Value *json.RawMessage `json:"value,omitempty"`
}

const protectedMemoryField = "protected_memory"

func manageMemoryHandler(ctx context.Context, tc *ToolContext, raw json.RawMessage) (string, error) {
	var a manageMemoryArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", &TransientToolError{Tool: "manage_memory", Err: fmt.Errorf("invalid arguments: %w", err)}
	}
	if strings.TrimSpace(a.Field) == "" {
		return "", &TransientToolError{Tool: "manage_memory", Err: fmt.Errorf("field is required")}
	}
	if a.Field == protectedMemoryField || strings.HasPrefix(a.Field, protectedMemoryField+".") {
		return "", &TransientToolError{Tool: "manage_memory", Err: fmt.Errorf("%s is only writable by host code", protectedMemoryField)}
	}

	rawBlob, err := tc.Store.GetMemory(ctx, tc.UserID)
	if err != nil {
		return "", &TransientToolError{Tool: "manage_memory", Err: err}
	}
	blob := map[string]any{}
	if rawBlob != "" {
		_ = json.Unmarshal([]byte(rawBlob), &blob)
	}

	if a.Value == nil {
		delete(blob, a.Field)
	} else {
		var v any
		if err := json.Unmarshal(*a.Value, &v); err != nil {
			return "", &TransientToolError{Tool: "manage_memory", Err: fmt.Errorf("invalid value: %w", err)}
		}
		blob[a.Field] = v
	}

	encoded, err := json.Marshal(blob)
	if err != nil {
		return "", &TransientToolError{Tool: "manage_memory", Err: err}
	}
	limit := tc.MemoryLimit
	if limit > 0 && len(encoded) > limit {
		encoded = encoded[:limit]
	}

	if err := tc.Store.SetMemory(ctx, tc.UserID, string(encoded)); err != nil {
		return "", &TransientToolError{Tool: "manage_memory", Err: err}
	}
	if a.Value == nil {
		return fmt.Sprintf("removed %s", a.Field), nil
	}
	return fmt.Sprintf("set %s", a.Field), nil
}
