package main

import (
	"context"
	"fmt"
	"hybridcore/pkg/api"
	"hybridcore/pkg/breaker"
	"hybridcore/pkg/bridge"
	"hybridcore/pkg/channels"
	_ "hybridcore/pkg/channels/autoload" // Auto-register Channels
	"hybridcore/pkg/config"
	"hybridcore/pkg/engine"
	"hybridcore/pkg/gateway"
	"hybridcore/pkg/inference"
	"hybridcore/pkg/llm"
	_ "hybridcore/pkg/llm/autoload" // Auto-register LLM Providers
	"hybridcore/pkg/monitor"
	"hybridcore/pkg/router"
	"hybridcore/pkg/tools"
	ostools "hybridcore/pkg/tools/os" // Aliased to avoid conflict with "os"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

func main() {
	// Create context listening for system signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initial configuration load to get log level before loop
	// This acts as a fallback or initial console setup.
	_, sysCfg, err := config.Load()
	if err == nil {
		monitor.SetupEnvironment(sysCfg.LogLevel)
	}

	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")

	for {
		err := runAgent(ctx, reloadCh)

		if err != nil {
			slog.Error("System crashed or failed to load config", "error", err)
			slog.Info("Waiting 5 seconds before retrying...")
			// Wait for 5 seconds, or for a file change, or user interrupt
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				slog.Info("Configuration change detected while waiting. Retrying immediately...")
			case <-time.After(5 * time.Second):
			}
		} else {
			// Normal exit from runAgent (either manual exit or config reloaded)
			select {
			case <-ctx.Done():
				return // User requested exit
			default:
				slog.Info("==== Configuration Reloaded ====")
			}
		}
	}
}

// runAgent executes a single lifecycle of the agent
func runAgent(ctx context.Context, reloadCh <-chan struct{}) error {
	// --- 0. Load Configuration ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		monitor.PrintBanner()
		monitor.SetupSlog("info")
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	hybridCfg := config.LoadHybridConfigEnv()

	// --- 0a. Setup Environment (logger + monitor) ---
	m := monitor.SetupEnvironment(sysCfg.LogLevel)
	slog.Info("==========================================")

	// --- 2. Core Services ---
	// --- 2a. Session Management ---
	sessionsDir := filepath.Join("data", "sessions")
	sessionManager := llm.NewSessionManager(sessionsDir)
	historyStore := bridge.NewSessionManagerHistoryStore(sessionManager)
	profileStore := api.NewInMemoryProfileStore()

	// --- 2b. LLM Clients, one per routing role ---
	roleClients, err := llm.NewRoleMapFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		return fmt.Errorf("failed to init LLM clients: %w", err)
	}

	// --- 2c. Tools ---
	toolManifest := tools.LoadToolManifest("tools.yaml")
	toolRegistry := api.NewToolRegistry()
	if toolManifest.IsEnabled("os") {
		toolRegistry.Register(tools.NewOSTool(
			ostools.NewOSWorker(),
			tools.WithTimeout(time.Duration(toolManifest.OS.TimeoutSeconds)*time.Second),
		))
	}

	// --- 2d. Hybrid inference stack ---
	manager := inference.New(
		inference.WithBreaker(breaker.New(
			breaker.WithFailureThreshold(hybridCfg.CircuitFailureThreshold),
			breaker.WithRecoverySeconds(hybridCfg.CircuitRecoverySeconds),
		)),
		inference.WithRouter(router.New(
			router.WithExtendedContextThreshold(hybridCfg.ExtendedContextThreshold),
		)),
	)
	sessionFactory := bridge.NewRoleSessionFactory(roleClients, toolRegistry)

	convEngine := engine.New(
		manager,
		toolRegistry,
		historyStore,
		profileStore,
		sessionFactory,
		engine.WithSystemPromptTemplate(cfg.SystemPrompt),
		engine.WithMaxRounds(hybridCfg.MaxFunctionCalls),
	)

	// --- 2e. Channels & Handler ---
	chs := channels.NewSource(cfg.Channels, sessionManager, sysCfg).Load()
	h := bridge.NewHandler(convEngine)

	// --- 3. Gateway Initialization ---
	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(m).
		WithChannel(chs...).
		WithHandler(h).
		Build()

	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	// Wait for shutdown signal or reload signal
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal. Stopping services...")
		gw.StopAll()
		slog.Info("Bye!")
		return nil
	case <-reloadCh:
		slog.Info("Configuration changes detected, stopping services...")
		gw.StopAll()

		slog.Info("Draining connections before restart...")
		time.Sleep(1 * time.Second)

		// Let runAgent return nil to trigger outer loop restart
		return nil
	}
}
