package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"forgemind/internal/ace"
	"forgemind/internal/build"
	"forgemind/internal/config"
	"forgemind/internal/crdt"
	"forgemind/internal/embedding"
	"forgemind/internal/handoff"
	"forgemind/internal/hooks"
	"forgemind/internal/llm"
	"forgemind/internal/logging"
	"forgemind/internal/memory"
	"forgemind/internal/playbook"
	"forgemind/internal/prompt"
	"forgemind/internal/telemetry"
	"forgemind/internal/types"
)

// runCmd executes a PRD build
var runCmd = &cobra.Command{
	Use:   "run [prd-file]",
	Short: "Run a PRD build through the agent roster",
	Long: `Loads the PRD task list and drives it to completion:
  1. Tasks are grouped into phases and run in dependency order
  2. Each task's prompt is assembled from its template, playbook rules,
     dependency outputs, and relevant memory
  3. Completed work feeds the reflect/curate learning loop
  4. Agent transitions move context across the handoff bus

Example:
  forge run ./prd.yaml
  forge run ./prd.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

var dryRun bool

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print the schedule without executing")
}

func runBuild(cmd *cobra.Command, args []string) error {
	prd, err := types.LoadPRD(args[0])
	if err != nil {
		return err
	}

	if dryRun {
		printSchedule(prd)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, cleanup, err := buildDriver(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := driver.StartBuild(ctx, prd, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Build %s finished\n", result.BuildID)
	fmt.Printf("  Tasks:      %d total, %d succeeded, %d failed, %d blocked, %d timed out\n",
		result.TotalTasks, result.SuccessfulTasks, result.FailedTasks,
		result.BlockedTasks, result.TimedOutTasks)
	fmt.Printf("  Duration:   %dms\n", result.TotalDurationMs)
	if result.AverageAceScore > 0 {
		fmt.Printf("  Avg score:  %.2f\n", result.AverageAceScore)
	}
	if unfinished := result.TotalTasks - result.SuccessfulTasks; unfinished > 0 {
		return fmt.Errorf("%d task(s) did not complete", unfinished)
	}
	return nil
}

// buildDriver assembles the full orchestration stack from configuration.
func buildDriver(cfg *config.Config) (*build.Driver, func(), error) {
	telemetry.Register(prometheus.DefaultRegisterer)

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Playbook store with optional persistence and directory watching.
	storeOpts := []playbook.Option{
		playbook.WithMaxRules(cfg.Playbook.MaxRules),
		playbook.WithEvictionObserver(func(agent, ruleID string) {
			telemetry.RuleEvictions.Inc()
		}),
	}
	if cfg.Playbook.Persistence {
		persister, err := playbook.NewPersister(filepath.Join(workspace, cfg.Playbook.Dir))
		if err != nil {
			return nil, nil, fmt.Errorf("playbook persistence: %w", err)
		}
		storeOpts = append(storeOpts, playbook.WithPersistence(persister))
	}
	pbStore := playbook.NewStore(storeOpts...)
	if cfg.Playbook.Persistence && cfg.Playbook.WatchDir {
		watcher, err := playbook.NewWatcher(pbStore, filepath.Join(workspace, cfg.Playbook.Dir))
		if err != nil {
			logging.BootError("Playbook watcher unavailable: %v", err)
		} else {
			cleanups = append(cleanups, func() { watcher.Close() })
		}
	}

	// Embedding engine and memory.
	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		Dimensions:     cfg.Embedding.Dimensions,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("embedding engine: %w", err)
	}

	storage, err := openMemoryStorage(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, func() { storage.Close() })
	mem := memory.NewManager(storage, engine)

	// LLM client shared by the executor and the learning loop.
	client := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.LLMTimeoutDuration(),
	})

	// ACE cycle and prompt assembly.
	generator := ace.NewGenerator(pbStore)
	reflector := ace.NewReflector(client)
	curator := ace.NewCurator(pbStore, nil)
	assembler := prompt.NewAssembler(generator, prompt.WithMemory(mem))

	// Hook registry with the feature catalog wired for observation.
	registry := hooks.NewRegistry(cfg.Build.HookTimeoutDuration())
	enabled := make(map[string]bool)
	for _, entry := range hooks.Catalog() {
		enabled[entry.ModuleName] = true
	}
	hooks.WireFeatureHooks(registry, hooks.WiringOptions{Enabled: enabled})
	registry.SetFaultObserver(func(module string, err error) {
		telemetry.HookFaults.WithLabelValues(module).Inc()
	})

	bus := handoff.NewBus()
	wireCollaboration(bus)

	opts := []build.DriverOption{
		build.WithRegistry(registry),
		build.WithHandoffBus(bus),
		build.WithAssembler(assembler),
		build.WithACE(pbStore, reflector, curator),
		build.WithMemory(mem),
		build.WithConcurrency(cfg.Build.Concurrency),
		build.WithOutputDir(filepath.Join(workspace, ".forge", "outputs")),
		build.WithTaskTimeout(cfg.Build.TaskTimeoutDuration()),
		build.WithMaxRetries(cfg.Build.MaxRetries),
	}
	if cfg.Build.EnableEventStore {
		es := telemetry.NewEventStore(filepath.Join(workspace, ".forge", "logs"))
		cleanups = append(cleanups, func() { es.Close() })
		opts = append(opts, build.WithEventStore(es))
	}

	driver := build.NewDriver(build.NewLLMExecutor(client), opts...)
	return driver, cleanup, nil
}

// wireCollaboration keeps a shared build-log document that every agent
// writes a node into at handoff time. The receiving side restores the
// document version and surfaces any open conflicts before its next task.
func wireCollaboration(bus *handoff.Bus) {
	store := crdt.NewStore()
	doc := store.CreateDocument("build-log")

	bus.RegisterCollector("crdtCollaboration", "collab_state", func(fromAgent, toAgent, taskID string) (any, error) {
		if _, err := store.JoinSession(doc.ID, fromAgent); err != nil {
			return nil, err
		}
		result, err := store.ApplyChange(doc.ID, crdt.Operation{
			Type:         crdt.OpInsert,
			TargetNodeID: "task:" + taskID,
			Content:      fmt.Sprintf("%s handed off to %s", fromAgent, toAgent),
			PeerID:       fromAgent,
			Clock:        crdt.VectorClock{fromAgent: 1},
		})
		if err != nil {
			return nil, err
		}
		conflicts, _ := store.GetConflicts(doc.ID)
		return map[string]any{
			"doc_id":         doc.ID,
			"version":        result.Version,
			"open_conflicts": len(conflicts),
		}, nil
	})

	bus.RegisterRestorer("crdtCollaboration", "collab_state", func(state any) error {
		m, ok := state.(map[string]any)
		if !ok {
			return fmt.Errorf("unexpected collab state %T", state)
		}
		if n, _ := m["open_conflicts"].(int); n > 0 {
			logging.HandoffWarn("Restored collab state for %v with %d open conflict(s)", m["doc_id"], n)
		} else {
			logging.HandoffDebug("Restored collab state for %v at version %v", m["doc_id"], m["version"])
		}
		return nil
	})
}

func openMemoryStorage(cfg *config.Config) (memory.Storage, error) {
	weights := memory.Weights{
		Similarity: cfg.Memory.SimilarityWeight,
		Recency:    cfg.Memory.RecencyWeight,
		Frequency:  cfg.Memory.FrequencyWeight,
	}
	switch cfg.Memory.Adapter {
	case "sqlite":
		s := memory.NewSQLiteStorage(filepath.Join(workspace, cfg.Memory.DBPath), cfg.Memory.Dimensions, weights)
		if err := s.Initialize(context.Background()); err != nil {
			return nil, fmt.Errorf("open memory db: %w", err)
		}
		return s, nil
	default:
		return memory.NewInMemoryStorage(
			memory.WithCapacity(cfg.Memory.Capacity),
			memory.WithDimensions(cfg.Memory.Dimensions),
			memory.WithWeights(weights),
			memory.WithEvictionObserver(func(namespace, id string) {
				telemetry.MemoryEvictions.WithLabelValues(namespace).Inc()
			}),
		), nil
	}
}

func printSchedule(prd *types.PRD) {
	fmt.Printf("PRD: %s (%d tasks)\n", prd.Meta.Name, len(prd.Tasks))
	for _, group := range build.PhaseGroups(prd) {
		fmt.Printf("Phase %d:\n", group.Phase)
		for _, id := range group.Tasks {
			task := prd.TaskByID(id)
			deps := ""
			if len(task.Dependencies) > 0 {
				deps = fmt.Sprintf(" (after %v)", task.Dependencies)
			}
			fmt.Printf("  %-12s agent=%-10s %s%s\n", task.ID, task.Agent, task.Title, deps)
		}
	}
}
