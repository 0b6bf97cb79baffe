package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"toolchat/pkg/agent"
	"toolchat/pkg/config"
	"toolchat/pkg/llm"
	_ "toolchat/pkg/llm/gemini" // registers the "gemini" provider
	_ "toolchat/pkg/llm/ollama" // registers the "ollama" provider
	_ "toolchat/pkg/llm/openailm" // registers the "openai" provider
	"toolchat/pkg/monitor"
	"toolchat/pkg/prompt"
	"toolchat/pkg/server"
	"toolchat/pkg/tools"
)

const (
	configPath = "config.json"
	systemPath = "system.json"
)

func main() {
	// --- 0. Configuration ---
	cfg, sysCfg, err := config.Load(configPath, systemPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level := monitor.SetupSlog(sysCfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := config.NewSystemStore(systemPath, sysCfg)
	store.OnReload = func(next *config.SystemConfig) {
		level.Set(monitor.ParseLevel(next.LogLevel))
	}
	store.Watch(ctx, func(next *config.SystemConfig) {
		config.ApplyEnv(&config.Config{}, next, os.Getenv)
		next.Normalize()
	})

	// --- 1. Model clients ---
	router, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		slog.Error("Failed to init LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM providers ready", "groups", router.Len(), "registered", llm.ProviderNames())

	// --- 2. Tools and prompt ---
	registry, err := tools.NewRegistry(tools.Builtin(nil, sysCfg.DisabledTools...)...)
	if err != nil {
		slog.Error("Failed to build tool registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Tools registered", "tools", registry.Names())

	builder, err := prompt.NewBuilder(cfg.SystemPrompt, nil)
	if err != nil {
		slog.Error("Failed to build prompt", "error", err)
		os.Exit(1)
	}

	// --- 3. Agent and HTTP surface ---
	runner := agent.NewRunner(router, registry, builder, store.Get)

	var mon monitor.Monitor = monitor.Nop{}
	if sysCfg.CLIMonitor {
		mon = monitor.NewCLIMonitor()
	}

	srv, err := server.NewBuilder(cfg).
		WithSystemConfig(store.Get).
		WithRunner(runner).
		WithBackend(router).
		WithMonitor(mon).
		Build()
	if err != nil {
		slog.Error("Failed to build server", "error", err)
		os.Exit(1)
	}

	monitor.PrintBanner(cfg.Server.Addr)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("HTTP server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Bye!")
}
