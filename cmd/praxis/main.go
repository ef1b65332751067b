// Praxis is an autonomous loop agent.
//
// It runs a continuous observe-orient-decide-act cycle: gathering
// events from its providers, weighing them against its goals and
// resource budget, asking a local model what to do, and dispatching
// the chosen actions. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	praxis serve             Start the autonomous loop
//	praxis version           Print version and build information
//	praxis -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/praxislabs/praxis-agent/internal/act"
	"github.com/praxislabs/praxis-agent/internal/buildinfo"
	"github.com/praxislabs/praxis-agent/internal/config"
	"github.com/praxislabs/praxis-agent/internal/decide"
	"github.com/praxislabs/praxis-agent/internal/goals"
	"github.com/praxislabs/praxis-agent/internal/llm"
	"github.com/praxislabs/praxis-agent/internal/loop"
	"github.com/praxislabs/praxis-agent/internal/memory"
	"github.com/praxislabs/praxis-agent/internal/mqtt"
	"github.com/praxislabs/praxis-agent/internal/observe"
	"github.com/praxislabs/praxis-agent/internal/orient"
	"github.com/praxislabs/praxis-agent/internal/provider"
	"github.com/praxislabs/praxis-agent/internal/reflect"
	"github.com/praxislabs/praxis-agent/internal/resource"
	"github.com/praxislabs/praxis-agent/internal/tasks"
	"github.com/praxislabs/praxis-agent/internal/wsfeed"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the praxis command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the loop and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Optional .env file for local development; environment overrides
	// still apply through config.ApplyEnv.
	_ = godotenv.Load()

	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "commit", "build_time", "go_version", "platform"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Praxis - Autonomous Loop Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: praxis [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the autonomous loop")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./praxis.yaml, ~/.config/praxis/praxis.yaml, /etc/praxis/praxis.yaml")
	return nil
}

// runServe handles the "praxis serve" subcommand. It is the primary
// operating mode: loads config, opens the database, starts the
// resource monitor and event providers, wires the loop phases, and
// blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Praxis",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, lerr := config.ParseLogLevel(cfg.LogLevel)
		if lerr != nil {
			return lerr
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"interval_ms", cfg.Loop.IntervalMS,
		"model", cfg.Inference.Model,
		"inference_url", cfg.Inference.BaseURL,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// Signal handling: SIGINT/SIGTERM cancellation flows through the
	// same ctx used by every component.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Persistence ---
	// One SQLite database holds conversational records, rooms, and the
	// task backlog. Persists across restarts so history accumulates.
	dbPath := filepath.Join(cfg.DataDir, "praxis.db")
	db, err := memory.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()
	logger.Info("database opened", "path", dbPath)

	memStore, err := memory.NewStore(db)
	if err != nil {
		return fmt.Errorf("init memory store: %w", err)
	}
	taskStore, err := tasks.NewStore(db)
	if err != nil {
		return fmt.Errorf("init task store: %w", err)
	}

	// --- Resource monitor ---
	// Samples on its own timer, independent of the loop's cycle timer.
	monitor := resource.NewMonitor(
		time.Duration(cfg.Resource.SampleIntervalSec)*time.Second,
		cfg.Resource.TaskSlots,
		cfg.Resource.DiskPath,
		logger,
	)
	go monitor.Start(ctx)

	// --- Event providers ---
	registry := provider.NewRegistry()
	if cfg.Feed.URL != "" {
		feed := wsfeed.NewProvider(cfg.Feed, logger)
		feed.Start(ctx)
		registry.Register(feed)
		logger.Info("feed provider enabled", "url", cfg.Feed.URL)
	} else {
		logger.Info("feed provider disabled (not configured)")
	}
	if cfg.MQTT.Broker != "" {
		clientID, ierr := mqtt.ClientID(cfg.DataDir)
		if ierr != nil {
			return fmt.Errorf("mqtt client identity: %w", ierr)
		}
		mq := mqtt.NewProvider(cfg.MQTT, clientID, logger)
		if merr := mq.Start(ctx); merr != nil {
			logger.Warn("mqtt provider failed to start", "error", merr)
		} else {
			registry.Register(mq)
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				if serr := mq.Stop(stopCtx); serr != nil {
					logger.Warn("mqtt shutdown failed", "error", serr)
				}
			}()
			logger.Info("mqtt provider enabled", "broker", cfg.MQTT.Broker, "topics", cfg.MQTT.Topics)
		}
	} else {
		logger.Info("mqtt provider disabled (not configured)")
	}

	// --- Inference client ---
	inference := llm.NewOllamaClient(
		cfg.Inference.BaseURL,
		cfg.Inference.Model,
		time.Duration(cfg.Inference.TimeoutSec)*time.Second,
	)
	if perr := inference.Ping(ctx); perr != nil {
		logger.Warn("inference endpoint unreachable at startup, cycles will degrade", "error", perr)
	}

	// --- Loop phases ---
	goalSet := goalsFromConfig(cfg.Goals)
	history := orient.NewHistory()
	collector := observe.NewCollector(registry, taskStore, monitor, goalSet, "feed", logger)
	engine := decide.NewEngine(inference, memStore, monitor, logger)
	executor := act.NewExecutor(
		newReplyDispatcher(logger),
		memStore,
		time.Duration(cfg.Loop.ActionTimeoutMS)*time.Millisecond,
		logger,
	)

	reflector := reflect.NewEngine(history, goalSet, logger)
	reflector.SetTargetCycleTime(time.Duration(cfg.Loop.TargetCycleTimeMS) * time.Millisecond)

	sched := loop.NewScheduler(cfg.Loop, loop.Deps{
		Collector: collector,
		Builder:   orient.NewBuilder(goalSet, history, logger),
		Decider:   engine,
		Executor:  executor,
		Reflector: reflector,
		Rooms:     memStore,
		Records:   memStore,
		Monitor:   monitor,
	}, logger)
	sched.RegisterEvaluator(loop.OutcomeEvaluator{})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start loop: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	sched.Stop()

	logger.Info("Praxis stopped")
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise, [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// goalsFromConfig seeds the process-lifetime goal set. An empty config
// section falls back to the built-in defaults.
func goalsFromConfig(cfgGoals []config.GoalConfig) *goals.Set {
	if len(cfgGoals) == 0 {
		return goals.NewSet(nil)
	}
	gs := make([]*goals.Goal, 0, len(cfgGoals))
	for _, g := range cfgGoals {
		gs = append(gs, &goals.Goal{
			ID:          g.ID,
			Description: g.Description,
			Priority:    g.Priority,
		})
	}
	return goals.NewSet(gs)
}
