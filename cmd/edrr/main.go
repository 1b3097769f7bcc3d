// Edrr runs recursive Expand-Differentiate-Refine-Retrospect cycles over a
// task context and prints the cycle report.
//
// The stage work itself is delegated to an external workflow command; edrr
// owns the cycle state machine, recursion budget, and termination policy.
//
// Usage:
//
//	# Run a cycle over a task file with defaults
//	edrr -task task.json
//
//	# Use a config file and persist cycle context
//	edrr -config ~/.config/edrr/config.yaml -task task.json
//
//	# Resume a persisted cycle
//	edrr -task task.json -cycle-id 7b9e...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/edrr/internal/config"
	"github.com/fyrsmithlabs/edrr/internal/coordinator"
	"github.com/fyrsmithlabs/edrr/internal/logging"
	"github.com/fyrsmithlabs/edrr/internal/store"
	"github.com/fyrsmithlabs/edrr/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/edrr/config.yaml)")
	taskPath := flag.String("task", "", "path to the JSON task context (required)")
	cycleID := flag.String("cycle-id", "", "resume a persisted cycle by id")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("edrr %s (%s, %s)\n", version, gitCommit, buildDate)
		return
	}
	if *taskPath == "" {
		fmt.Fprintln(os.Stderr, "edrr: -task is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, stopping cycle...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *taskPath, *cycleID); err != nil {
		log.Fatalf("edrr: %v", err)
	}
}

// run wires configuration, logging, telemetry, persistence, and the
// coordinator, then executes one macro-cycle and prints its report.
func run(ctx context.Context, configPath, taskPath, cycleID string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.Enabled
	telCfg.Endpoint = cfg.Observability.Endpoint
	telCfg.Protocol = cfg.Observability.Protocol
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = cfg.Observability.ServiceVersion
	telCfg.Insecure = cfg.Observability.Insecure
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	initial, err := loadTask(taskPath)
	if err != nil {
		return err
	}
	if cycleID != "" {
		initial["cycle_id"] = cycleID
	}

	coord, err := buildCoordinator(cfg, logger, tel)
	if err != nil {
		return err
	}

	result, err := coord.StartCycle(ctx, initial)
	if err != nil {
		return fmt.Errorf("starting cycle: %w", err)
	}

	out, err := json.MarshalIndent(result.Report, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	fmt.Println(string(out))

	if result.Status == coordinator.StatusEarlyTermination {
		logger.Info(ctx, "cycle terminated early", zap.String("reason", result.Reason))
	}
	return nil
}

// buildCoordinator assembles the coordinator from config.
func buildCoordinator(cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (*coordinator.CycleCoordinator, error) {
	opts := []coordinator.Option{
		coordinator.WithLogger(logger.Named("coordinator")),
		coordinator.WithThresholds(cfg.Coordinator.Thresholds.ToThresholdConfig()),
		coordinator.WithTracer(tel.Tracer("edrr/coordinator")),
	}

	if inst, err := coordinator.NewInstruments(tel.Meter("edrr/coordinator")); err == nil {
		opts = append(opts, coordinator.WithInstruments(inst))
	}

	overrides, err := cfg.Coordinator.StageOverrides()
	if err != nil {
		return nil, fmt.Errorf("building stage overrides: %w", err)
	}
	if len(overrides) > 0 {
		factory, err := coordinator.NewMicroCycleFactory(overrides)
		if err != nil {
			return nil, fmt.Errorf("building micro-cycle factory: %w", err)
		}
		opts = append(opts, coordinator.WithMicroCycles(factory))
	}

	if cfg.Store.Enabled {
		fs, err := store.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening context store: %w", err)
		}
		opts = append(opts, coordinator.WithContextStore(fs))
	}

	executor := coordinator.StageExecutorFunc(stageWork)
	coord, err := coordinator.New(executor, opts...)
	if err != nil {
		return nil, fmt.Errorf("building coordinator: %w", err)
	}
	return coord, nil
}

// stageWork derives stage metrics from whatever the task context already
// holds for the stage. External integrations plug in richer executors; the
// CLI default keeps cycles runnable without one.
func stageWork(_ context.Context, stage coordinator.Stage, cycleCtx coordinator.Context) (coordinator.PhaseMetrics, error) {
	if raw, ok := cycleCtx[string(stage)].(map[string]any); ok {
		return coordinator.CollectMetrics(stage, raw), nil
	}
	return coordinator.PhaseMetrics{}, nil
}

// loadTask reads the initial cycle context from a JSON file.
func loadTask(path string) (coordinator.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	var initial coordinator.Context
	if err := json.Unmarshal(data, &initial); err != nil {
		return nil, fmt.Errorf("parsing task file %s: %w", path, err)
	}
	if initial == nil {
		initial = coordinator.Context{}
	}
	return initial, nil
}
