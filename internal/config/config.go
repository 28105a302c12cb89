// Package config loads the engine's YAML configuration, including $include
// directive resolution (see loader.go).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document. Field names mirror the
// Configuration options table: model_name, llm_host, etc.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Session      SessionConfig      `yaml:"session"`
	Memory       MemoryConfig       `yaml:"memory"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the WebSocket/REST gateway.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LLMConfig configures the chat backend.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // "anthropic" or "openai"
	ModelName string `yaml:"model_name"`
	LLMHost   string `yaml:"llm_host"`
	NumCtx    int    `yaml:"num_ctx"`
	APIKey    string `yaml:"api_key"`

	SystemPrompt     string `yaml:"system_prompt"`
	MiniAgentPrompt  string `yaml:"mini_agent_prompt"`
	MaxToolCallDepth int    `yaml:"max_tool_call_depth"`
}

// SandboxConfig configures the sandbox driver and VM registry.
type SandboxConfig struct {
	Backend              string        `yaml:"backend"` // "docker" (default) or "firecracker"
	UploadDir            string        `yaml:"upload_dir"`
	VMImage              string        `yaml:"vm_image"`
	VMContainerTemplate  string        `yaml:"vm_container_template"`
	PersistVMs           bool          `yaml:"persist_vms"`
	VMStateDir           string        `yaml:"vm_state_dir"`
	VMDockerHost         string        `yaml:"vm_docker_host"`
	ReturnDir            string        `yaml:"return_dir"`
	HardTimeout          time.Duration `yaml:"hard_timeout"`
	ToolPlaceholderContent string      `yaml:"tool_placeholder_content"`
	Firecracker          FirecrackerConfig `yaml:"firecracker"`
}

// FirecrackerConfig configures the optional microVM sandbox backend.
type FirecrackerConfig struct {
	KernelPath     string `yaml:"kernel_path"`
	RootFSPath     string `yaml:"rootfs_path"`
	SocketDir      string `yaml:"socket_dir"` // defaults to vm_state_dir
	VCPUCount      int64  `yaml:"vcpu_count"`
	MemSizeMiB     int64  `yaml:"mem_size_mib"`
	NetworkEnabled bool   `yaml:"network_enabled"`
}

// SessionConfig configures the helper-agent fabric and per-session limits.
type SessionConfig struct {
	MaxMiniAgents int `yaml:"max_mini_agents"`
}

// MemoryConfig configures the per-user memory blob.
type MemoryConfig struct {
	MemoryLimit           int    `yaml:"memory_limit"`
	DefaultMemoryTemplate string `yaml:"default_memory_template"`
}

// NotificationConfig configures the notification/return-file poller.
type NotificationConfig struct {
	PollInterval time.Duration `yaml:"notification_poll_interval"`
}

// LoggingConfig mirrors the teacher's observability.LogConfig shape.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // "json" or "text"
	AddSource bool   `yaml:"add_source"`
}

// Defaults matching spec.md's Configuration options table.
const (
	DefaultMaxToolCallDepth       = 15
	DefaultMaxMiniAgents          = 4
	DefaultMemoryLimit            = 64 * 1024
	DefaultHardTimeout            = 120 * time.Second
	DefaultNotificationPoll       = 2 * time.Second
	DefaultToolPlaceholderContent = "Awaiting tool response…"
	DefaultVMContainerTemplate    = "agentd-vm-%s-%s"
)

// Load reads, resolves $include directives, and decodes the config at path,
// applying defaults for anything left zero-valued.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.MaxToolCallDepth <= 0 {
		cfg.LLM.MaxToolCallDepth = DefaultMaxToolCallDepth
	}
	if cfg.Session.MaxMiniAgents <= 0 {
		cfg.Session.MaxMiniAgents = DefaultMaxMiniAgents
	}
	if cfg.Memory.MemoryLimit <= 0 {
		cfg.Memory.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.Memory.DefaultMemoryTemplate == "" {
		cfg.Memory.DefaultMemoryTemplate = "{}"
	}
	if cfg.Sandbox.HardTimeout <= 0 {
		cfg.Sandbox.HardTimeout = DefaultHardTimeout
	}
	if cfg.Sandbox.ToolPlaceholderContent == "" {
		cfg.Sandbox.ToolPlaceholderContent = DefaultToolPlaceholderContent
	}
	if cfg.Sandbox.VMContainerTemplate == "" {
		cfg.Sandbox.VMContainerTemplate = DefaultVMContainerTemplate
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = "docker"
	}
	if cfg.Sandbox.Firecracker.VCPUCount <= 0 {
		cfg.Sandbox.Firecracker.VCPUCount = 1
	}
	if cfg.Sandbox.Firecracker.MemSizeMiB <= 0 {
		cfg.Sandbox.Firecracker.MemSizeMiB = 512
	}
	if cfg.Notification.PollInterval <= 0 {
		cfg.Notification.PollInterval = DefaultNotificationPoll
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
