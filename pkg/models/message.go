package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in a session's append-only log.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"` // display name for role=tool messages
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// SessionStatus is one of the three states a session's worker can be in.
type SessionStatus string

const (
	StatusIdle         SessionStatus = "idle"
	StatusGenerating   SessionStatus = "generating"
	StatusAwaitingTool SessionStatus = "awaiting_tool"
)

// Session represents one conversation thread owned by a user.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Name      string        `json:"name"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// User represents the owner of sessions and documents.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	PasswordHash string  `json:"password_hash,omitempty"`
	Memory     string    `json:"memory"` // opaque JSON blob, <= MEMORY_LIMIT bytes
	CreatedAt  time.Time `json:"created_at"`
}
