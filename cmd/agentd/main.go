// Command agentd runs the autonomous conversational-agent orchestration
// runtime: the WebSocket gateway, the per-session turn loop, the sandbox
// registry, and the helper-agent fabric (spec §6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"agentd/internal/config"
	"agentd/internal/gateway"
	"agentd/internal/helperfabric"
	"agentd/internal/observability"
	"agentd/internal/orchestrator"
	"agentd/internal/orchestrator/providers"
	"agentd/internal/sandbox"
	"agentd/internal/sandbox/firecracker"
	"agentd/internal/sessions"
	"agentd/internal/shell"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "agentd",
		Short:   "Autonomous conversational-agent orchestration runtime",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "agentd.yaml", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("agentd exited with error", "error", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	logger.Info(ctx, "starting agentd", "version", version, "config", configPath)

	metrics := observability.NewMetrics()

	stateDir := os.Getenv("AGENTD_STATE_DIR")
	if stateDir == "" {
		stateDir = "./state"
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	store, err := sessions.NewSQLiteStore(stateDir+"/agentd.db", cfg.Memory.MemoryLimit)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	var provider providers.Provider
	switch cfg.LLM.Provider {
	case "openai":
		provider = providers.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.LLMHost, cfg.LLM.ModelName)
	default:
		provider = providers.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.LLMHost, cfg.LLM.ModelName)
	}
	provider = providers.NewInstrumentedProvider(providers.NewRetryingProvider(provider, providers.DefaultRetryConfig()), metrics)

	registry := sandbox.NewRegistry(func(key sandbox.Key) (sandbox.Driver, error) {
		upload, state, notifications, sandboxReturn, hostReturn := sandbox.UserDirs(
			cfg.Sandbox.UploadDir, cfg.Sandbox.VMStateDir, cfg.Sandbox.ReturnDir, key.User)
		scope := sandbox.ContainerName(cfg.Sandbox.VMContainerTemplate, key.User, key.Session)

		if cfg.Sandbox.Backend == "firecracker" {
			socketDir := cfg.Sandbox.Firecracker.SocketDir
			if socketDir == "" {
				socketDir = state
			}
			if err := os.MkdirAll(socketDir, 0o755); err != nil {
				return nil, fmt.Errorf("create firecracker socket dir: %w", err)
			}
			return firecracker.NewDriver(firecracker.Config{
				KernelPath:       cfg.Sandbox.Firecracker.KernelPath,
				RootFSPath:       cfg.Sandbox.Firecracker.RootFSPath,
				SocketPath:       filepath.Join(socketDir, scope+".sock"),
				VsockPath:        filepath.Join(socketDir, scope+".vsock"),
				VCPUCount:        cfg.Sandbox.Firecracker.VCPUCount,
				MemSizeMiB:       cfg.Sandbox.Firecracker.MemSizeMiB,
				NetworkEnabled:   cfg.Sandbox.Firecracker.NetworkEnabled,
				NotificationsDir: notifications,
				SandboxReturnDir: sandboxReturn,
			})
		}

		return sandbox.NewDockerDriver(sandbox.DockerConfig{
			Image:            cfg.Sandbox.VMImage,
			ContainerName:    scope,
			DockerHost:       cfg.Sandbox.VMDockerHost,
			UploadDir:        upload,
			StateDir:         state,
			NotificationsDir: notifications,
			SandboxReturnDir: sandboxReturn,
			HostReturnDir:    hostReturn,
		})
	}, cfg.Sandbox.PersistVMs)
	defer registry.ShutdownAll(context.Background())

	tools := orchestrator.NewToolRegistry()
	orchestrator.RegisterBuiltinTools(tools)

	engineCfg := orchestrator.DefaultEngineConfig()
	engineCfg.ModelName = cfg.LLM.ModelName
	engineCfg.NumCtx = cfg.LLM.NumCtx
	engineCfg.MaxToolCallDepth = cfg.LLM.MaxToolCallDepth
	engineCfg.SystemPrompt = cfg.LLM.SystemPrompt
	engineCfg.ToolPlaceholderContent = cfg.Sandbox.ToolPlaceholderContent
	engineCfg.HardTimeoutSeconds = int(cfg.Sandbox.HardTimeout / time.Second)
	engineCfg.MemoryLimit = cfg.Memory.MemoryLimit

	// Engine and Fabric each need the other: build the engine first with a
	// nil Fabric, construct the Fabric around the engine's helper runner,
	// then attach it.
	engine := orchestrator.NewEngine(provider, tools, store, nil, engineCfg)
	fabric := helperfabric.NewFabric(cfg.Session.MaxMiniAgents, engine.HelperRunner)
	engine.Fabric = fabric

	srv := &gateway.Server{
		Engine:    engine,
		Store:     store,
		Sandboxes: registry,
		Processes: shell.NewProcessRegistry(nil),
		UploadDir: cfg.Sandbox.UploadDir,
	}

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() { errCh <- httpServer.ListenAndServe() }()
	go func() { errCh <- metricsServer.ListenAndServe() }()

	slog.Info("agentd listening", "addr", cfg.Server.ListenAddr, "metrics_addr", cfg.Server.MetricsAddr)

	select {
	case <-ctx.Done():
		slog.Info("shutting down agentd")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}
