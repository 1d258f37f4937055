package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/helmsmith/conveyor/internal/engine"
	"github.com/helmsmith/conveyor/internal/executors"
	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/internal/identity"
	"github.com/helmsmith/conveyor/internal/logging"
	"github.com/helmsmith/conveyor/internal/queue"
	"github.com/helmsmith/conveyor/internal/scheduler"
	"github.com/helmsmith/conveyor/internal/secrets"
	"github.com/helmsmith/conveyor/internal/store"
	"github.com/helmsmith/conveyor/internal/streaming"
	"github.com/helmsmith/conveyor/internal/validation"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// defaultVaultSalt keeps restarts decrypting the same secrets when no
// per-deployment salt is configured.
const defaultVaultSalt = "conveyor.vault.v1"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		printVersion()
		return
	}

	cfg := loadConfig()

	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(cfg.LogFormat, level)
	slog.SetDefault(logger)

	if err := run(cfg, level, logger); err != nil {
		logger.Error("conveyor exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
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

func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}

func run(cfg Config, level *slog.LevelVar, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(conveyorDir(), 0o755); err != nil {
		return fmt.Errorf("create conveyor dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	if err := os.MkdirAll(cfg.FilesRoot, 0o755); err != nil {
		return fmt.Errorf("create files root: %w", err)
	}
	writePID(logger)
	defer removePID()

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	origin := identity.NewOrigin()
	hub := streaming.NewMemoryHub()
	sink := &eventFanout{
		origin: origin.ID,
		log:    store.NewEventLog(st),
		hub:    hub,
		logger: logger,
	}

	var vault secrets.Vault
	if cfg.VaultPassphrase != "" {
		salt := cfg.VaultSalt
		if salt == "" {
			salt = defaultVaultSalt
		}
		v, err := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(salt),
		})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		vault = v
	}

	router, err := expressions.NewRouter()
	if err != nil {
		return fmt.Errorf("build expression router: %w", err)
	}
	interpolator := expressions.NewInterpolator(vault)

	registry := executors.NewRegistry()
	if err := executors.RegisterBuiltins(registry, executors.BuiltinConfig{
		File:   executors.FileConfig{Root: cfg.FilesRoot},
		Vault:  vault,
		Router: router,
	}); err != nil {
		return fmt.Errorf("register executors: %w", err)
	}
	subflow, err := executors.RegisterSubflow(registry)
	if err != nil {
		return fmt.Errorf("register subflow executor: %w", err)
	}

	validator, err := validation.NewGraphValidator(registry, router)
	if err != nil {
		return fmt.Errorf("build graph validator: %w", err)
	}

	breakerCfg := engine.DefaultCircuitBreakerConfig()
	breakerCfg.OnStateChange = func(nodeType string, from, to engine.CircuitState) {
		// The callback fires from inside a run; the event is process telemetry,
		// not part of that run.
		sink.Emit(context.Background(), &schema.Event{
			Type:      engine.CircuitEventType(to),
			Timestamp: time.Now().UTC(),
			Payload: map[string]any{
				"node_type": nodeType,
				"from":      from.String(),
				"to":        to.String(),
			},
		})
	}
	breakers := engine.NewCircuitBreakerRegistry(breakerCfg)

	orchestrator := engine.NewOrchestrator(registry, router, interpolator, breakers, sink, logger)
	door := engine.NewFrontDoor(orchestrator, st, engine.FrontDoorConfig{
		MaxConcurrentExecutions: cfg.MaxConcurrentExecutions,
	}, logger)
	subflow.Bind(st.GetWorkflow, door.Execute)

	source := queue.NewMemorySource(cfg.QueueCapacity)
	consumer := queue.NewConsumer(source, door, validator, logger)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start queue consumer: %w", err)
	}

	sched := scheduler.NewScheduler(st, door, sink, logger)
	if cfg.SchedulerEnabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	logger.Info("conveyor engine started",
		slog.String("version", version),
		slog.String("origin", origin.ID),
		slog.String("db_path", cfg.DBPath),
		slog.Int("max_concurrent_executions", cfg.MaxConcurrentExecutions),
		slog.Bool("scheduler", cfg.SchedulerEnabled),
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			next := loadConfig()
			diff := diffConfigs(cfg, next)
			if diff.LogLevelChanged {
				level.Set(parseLogLevel(next.LogLevel))
				logger.Info("log level changed", slog.String("level", next.LogLevel))
			}
			if diff.SchedulerChanged {
				if next.SchedulerEnabled {
					if err := sched.Start(ctx); err != nil {
						logger.Error("restart scheduler", slog.String("error", err.Error()))
					}
				} else if err := sched.Stop(); err != nil {
					logger.Error("stop scheduler", slog.String("error", err.Error()))
				}
				logger.Info("scheduler toggled", slog.Bool("enabled", next.SchedulerEnabled))
			}
			if len(diff.RestartNeeded) > 0 {
				logger.Warn("config changes need a restart to apply",
					slog.Any("fields", diff.RestartNeeded))
			}
			cfg = next
		}
	}

	logger.Info("shutting down")

	if err := consumer.Stop(); err != nil {
		logger.Error("stop queue consumer", slog.String("error", err.Error()))
	}
	if err := sched.Stop(); err != nil {
		logger.Error("stop scheduler", slog.String("error", err.Error()))
	}
	if err := source.Close(); err != nil {
		logger.Error("close queue source", slog.String("error", err.Error()))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.DrainTimeoutSeconds)*time.Second)
	defer cancel()
	if err := door.Shutdown(drainCtx); err != nil {
		logger.Warn("drain incomplete", slog.String("error", err.Error()))
	}

	logger.Info("conveyor engine stopped")
	return nil
}

func writePID(logger *slog.Logger) {
	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Warn("write pid file", slog.String("error", err.Error()))
	}
}

func removePID() {
	_ = os.Remove(pidPath())
}
