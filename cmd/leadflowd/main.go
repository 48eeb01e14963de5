package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadflow/engine/internal/actions"
	"github.com/leadflow/engine/internal/collab"
	"github.com/leadflow/engine/internal/engine"
	"github.com/leadflow/engine/internal/expressions"
	"github.com/leadflow/engine/internal/logging"
	"github.com/leadflow/engine/internal/scheduler"
	"github.com/leadflow/engine/internal/store"
	"github.com/leadflow/engine/internal/trigger"
)

func main() {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("store ready", slog.String("db_path", cfg.DBPath))

	// Standalone mode wires the in-memory collaborators. Production
	// deployments embed the engine and supply the real CRM services.
	mem := collab.NewMemory()

	registry := actions.NewRegistry()
	if err := registerActions(registry, mem); err != nil {
		return err
	}

	eng := engine.New(st, registry, mem, engine.Config{StepBudget: cfg.StepBudget}, logger)

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}
	matcher := trigger.NewMatcher(st, cel, expressions.NewGoJQEngine(), logger)

	sweeper := scheduler.NewSweeper(st, eng, matcher, scheduler.SweeperConfig{
		Interval:   time.Duration(cfg.SweepSeconds) * time.Second,
		ClaimLimit: cfg.ClaimLimit,
	}, logger)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	logger.Info("leadflowd running", slog.Int("actions", len(registry.Kinds())))

	<-ctx.Done()
	logger.Info("shutting down")
	return sweeper.Stop()
}

func registerActions(registry *actions.Registry, mem *collab.Memory) error {
	all := []actions.Action{
		&actions.SendMessage{Queue: mem},
		&actions.AddTag{Tags: mem},
		&actions.RemoveTag{Tags: mem},
		&actions.AssignUser{Leads: mem},
		&actions.ChangeStage{Leads: mem},
		&actions.UpdateField{Leads: mem},
		&actions.AgentTask{Tasks: mem.TaskQueue()},
		&actions.SendWebhook{},
		&actions.AddAudience{Audiences: mem},
		&actions.RemoveAudience{Audiences: mem},
		&actions.WaitUntil{},
		&actions.IncrementScore{Scorer: mem},
		&actions.DecrementScore{Scorer: mem},
	}
	for _, a := range all {
		if err := registry.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
