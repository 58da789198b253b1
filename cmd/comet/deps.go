package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/pkg/logging"
	"github.com/comet-forge/comet/services/analyzer"
	"github.com/comet-forge/comet/services/builddriver"
	"github.com/comet-forge/comet/services/evaluator"
	"github.com/comet-forge/comet/services/knowledge"
	"github.com/comet-forge/comet/services/knowledge/vectorstore"
	"github.com/comet-forge/comet/services/llm"
	"github.com/comet-forge/comet/services/planner"
	"github.com/comet-forge/comet/services/sandbox"
	"github.com/comet-forge/comet/services/scanner"
	"github.com/comet-forge/comet/services/store"
	"github.com/comet-forge/comet/services/telemetry"
)

// parseLogLevel maps config.LoggingConfig's YAML string onto
// logging.Level's typed enum. pkg/logging exposes Level.String() but no
// inverse: this is CLI-local glue rather than a case of skipping a
// corpus library, since nothing in the retrieval pack parses a level out
// of a config string either.
func parseLogLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:   parseLogLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.LogDir,
		Service: "comet",
		JSON:    cfg.Logging.JSON,
	})
}

// buildDeps wires every spec.md §2 component into a planner.Deps from a
// loaded Config, following the platform's cmd/aleutian pattern of
// constructing collaborators inline in the command's Run function rather
// than through a DI container. cleanup must be called (deferred) once the
// caller is done with the returned Deps.
func buildDeps(cfg *config.Config, logger *logging.Logger) (planner.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sc := scanner.New()

	var az *analyzer.Bridge
	analyzerCfg := analyzer.DefaultConfig()
	if bridge, err := analyzer.New(analyzerCfg, logger); err != nil {
		logger.Warn("analyzer bridge unavailable, structural facts will come from the scanner alone", "error", err)
	} else {
		az = bridge
	}

	sandboxDir := filepath.Join(cfg.ProjectPath, cfg.Paths.SandboxDir)
	sandboxes := sandbox.New(cfg.ProjectPath, sandboxDir, logger)

	buildCfg := builddriver.DefaultConfig()
	if cfg.Execution.BuildTool != "" {
		buildCfg.Tool = cfg.Execution.BuildTool
	}
	buildCfg.Home = cfg.Execution.BuildToolHome
	buildCfg.CompileTimeout = cfg.Execution.BuildTimeout
	buildCfg.TestTimeout = cfg.Execution.TestTimeout

	build, err := builddriver.New(buildCfg, logger)
	if err != nil {
		cleanup()
		return planner.Deps{}, func() {}, fmt.Errorf("build driver: %w", err)
	}

	dataDir := filepath.Join(cfg.ProjectPath, cfg.Paths.DataDir)
	db, err := store.Open(filepath.Join(dataDir, "comet.db"))
	if err != nil {
		cleanup()
		return planner.Deps{}, func() {}, fmt.Errorf("data store: %w", err)
	}
	closers = append(closers, func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing data store", "error", err)
		}
	})

	eval := evaluator.New(sandboxes, build, db, logger)

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		cleanup()
		return planner.Deps{}, func() {}, fmt.Errorf("llm client: %w", err)
	}
	prompts := llm.NewPromptManager()

	var retriever *knowledge.Retriever
	if cfg.Knowledge.Enabled {
		vsClient, err := vectorstore.New(vectorstore.Config{URL: cfg.Knowledge.WeaviateURL}, logger)
		if err != nil {
			cleanup()
			return planner.Deps{}, func() {}, fmt.Errorf("vector store: %w", err)
		}
		kstore := knowledge.NewStore(vsClient, logger)
		retriever = knowledge.NewRetriever(kstore, cfg.Knowledge.TopKContracts, cfg.Knowledge.PatternConfidenceThreshold, cfg.Knowledge.Alpha)
	}

	journal, err := store.OpenCheckpointJournal(filepath.Join(dataDir, "checkpoint"))
	if err != nil {
		cleanup()
		return planner.Deps{}, func() {}, fmt.Errorf("checkpoint journal: %w", err)
	}
	closers = append(closers, func() {
		if err := journal.Close(); err != nil {
			logger.Warn("closing checkpoint journal", "error", err)
		}
	})

	return planner.Deps{
		Scanner:     sc,
		Analyzer:    az,
		Sandboxes:   sandboxes,
		Build:       build,
		Eval:        eval,
		LLM:         llmClient,
		Prompts:     prompts,
		Retriever:   retriever,
		Store:       db,
		Checkpoints: journal,
		Logger:      logger,
	}, cleanup, nil
}

// initTelemetry starts the OTel exporters described by cfg.Telemetry and
// returns a shutdown func safe to defer unconditionally.
func initTelemetry(cfg *config.Config, logger *logging.Logger) func() {
	shutdown, err := telemetry.Init(context.Background(), telemetry.FromConfig(cfg.Telemetry))
	if err != nil {
		logger.Warn("telemetry init failed, continuing without it", "error", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}
}
