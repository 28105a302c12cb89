package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestSessionStatus_Constants(t *testing.T) {
	if StatusIdle != "idle" || StatusGenerating != "generating" || StatusAwaitingTool != "awaiting_tool" {
		t.Fatalf("unexpected status constants: %q %q %q", StatusIdle, StatusGenerating, StatusAwaitingTool)
	}
}

func TestMessage_ToolCallRoundTrip(t *testing.T) {
	msg := Message{
		ID:        "m1",
		SessionID: "s1",
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "tc1", Name: "execute_terminal", Args: json.RawMessage(`{"command":"echo hi"}`)}},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Message
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "execute_terminal" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}
