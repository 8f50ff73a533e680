// Command clawforge starts the full agent-runtime pipeline: bus, scheduler,
// planner, executor, supervisor/event store, and the HTTP API, wired
// together and shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	clawforge "github.com/clawforge/clawforge"
	"github.com/clawforge/clawforge/api"
	"github.com/clawforge/clawforge/config"
	"github.com/clawforge/clawforge/eventstore"
	"github.com/clawforge/clawforge/executor"
	"github.com/clawforge/clawforge/executor/tools/file"
	"github.com/clawforge/clawforge/executor/tools/shell"
	"github.com/clawforge/clawforge/planner"
	"github.com/clawforge/clawforge/provider"
	"github.com/clawforge/clawforge/provider/ollama"
	"github.com/clawforge/clawforge/provider/openrouter"
	"github.com/clawforge/clawforge/scheduler"
	"github.com/clawforge/clawforge/supervisor"
	"github.com/clawforge/clawforge/telemetry"
)

func main() {
	cfg := config.Load(os.Getenv("CLAWFORGE_CONFIG"))

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := eventstore.Open(ctx, cfg.Store.DBPath)
	if err != nil {
		log.Error("failed to open event store", "path", cfg.Store.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ins, shutdownTelemetry, err := telemetry.Init(ctx, "clawforge")
	if err != nil {
		log.Warn("telemetry initialization failed, continuing without tracing/metrics", "error", err)
		ins = nil
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown error", "error", err)
			}
		}()
	}
	var tracer clawforge.Tracer
	if ins != nil {
		tracer = telemetry.NewTracer()
	}

	bus := clawforge.NewBus(cfg.Runtime.BusCapacity)

	registry := provider.NewRegistry()
	if cfg.Provider.OpenRouterAPIKey != "" {
		registry.Register(openrouter.New(cfg.Provider.OpenRouterAPIKey))
	}
	if cfg.Provider.OllamaURL != "" {
		registry.Register(ollama.New(ollama.WithBaseURL(cfg.Provider.OllamaURL)))
	} else {
		registry.Register(ollama.New())
	}

	tools := executor.NewToolRegistry()
	tools.Register(shell.New(".", 30))
	tools.Register(file.NewReadTool("."))
	tools.Register(file.NewWriteTool("."))

	sup := supervisor.New(bus, store,
		supervisor.WithLogger(log),
		supervisor.WithTracer(tracer),
		supervisor.WithInstruments(ins),
		supervisor.WithBudgetSoftLimit(cfg.Runtime.BudgetSoftLimitTokens),
		supervisor.WithBudgetEnforcement(cfg.Runtime.BudgetEnforcementEnabled),
	)
	sched := scheduler.New(bus,
		scheduler.WithLogger(log),
		scheduler.WithTracer(tracer),
		scheduler.WithInstruments(ins),
	)
	plan := planner.New(bus, registry,
		planner.WithLogger(log),
		planner.WithTracer(tracer),
		planner.WithInstruments(ins),
	)
	exec := executor.New(bus, sup, tools,
		executor.WithLogger(log),
		executor.WithTracer(tracer),
	)

	if err := restoreAgents(ctx, sup, sched, log); err != nil {
		log.Error("failed to restore registered agents", "error", err)
	}

	go sup.Run(ctx)
	go sched.Run(ctx)
	go plan.Run(ctx)
	go exec.Run(ctx)

	addr := cfg.Server.BindAddress + ":" + strconv.Itoa(cfg.Server.Port)
	server := api.New(addr, bus, sup, sched, api.WithLogger(log))
	server.Start()

	log.Info("clawforge started", "addr", addr)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("api server shutdown error", "error", err)
	}
	bus.Close()
}

// restoreAgents loads every previously registered agent from the store and
// re-registers it with the Scheduler, so cron/interval triggers resume
// firing across a restart.
func restoreAgents(ctx context.Context, sup *supervisor.Supervisor, sched *scheduler.Scheduler, log *slog.Logger) error {
	agents, err := sup.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		sched.Register(agent)
	}
	log.Info("restored registered agents", "count", len(agents))
	return nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
