package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/pkg/errkind"
	"github.com/comet-forge/comet/services/planner"
)

var runFlags struct {
	projectPath     string
	maxIterations   int
	budget          int
	parallel        bool
	parallelTargets int
	bugReportsDir   string
	resume          string
	debug           bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mutation/test co-evolution loop to completion",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.projectPath, "project-path", "", "path to the Java project under test (required)")
	runCmd.Flags().IntVar(&runFlags.maxIterations, "max-iterations", 0, "override agent.max_iterations")
	runCmd.Flags().IntVar(&runFlags.budget, "budget", 0, "override agent.budget_llm_calls")
	runCmd.Flags().BoolVar(&runFlags.parallel, "parallel", false, "allow --parallel-targets to set agent.parallel_targets (targets are still evaluated one at a time)")
	runCmd.Flags().IntVar(&runFlags.parallelTargets, "parallel-targets", 0, "override agent.parallel_targets (applied only together with --parallel)")
	runCmd.Flags().StringVar(&runFlags.bugReportsDir, "bug-reports-dir", "", "override bug_reports_dir")
	runCmd.Flags().StringVar(&runFlags.resume, "resume", "", "resume from the checkpoint journal in the data directory instead of starting fresh (any non-empty value enables this; the value itself is not read)")
	runCmd.Flags().BoolVar(&runFlags.debug, "debug", false, "force debug-level logging regardless of the config file")
	_ = runCmd.MarkFlagRequired("project-path")
}

// applyRunFlags layers run's flag overrides on top of a loaded Config.
// Flags win over the config file, per spec.md §6.
func applyRunFlags(cfg *config.Config) {
	cfg.ProjectPath = runFlags.projectPath
	if runFlags.maxIterations > 0 {
		cfg.Agent.MaxIterations = runFlags.maxIterations
	}
	if runFlags.budget > 0 {
		cfg.Agent.BudgetLLMCalls = runFlags.budget
	}
	if runFlags.parallel && runFlags.parallelTargets > 0 {
		cfg.Agent.ParallelTargets = runFlags.parallelTargets
	}
	if runFlags.bugReportsDir != "" {
		cfg.BugReportsDir = runFlags.bugReportsDir
	}
	if runFlags.debug {
		cfg.Logging.Level = "debug"
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: loading config: %v\n", err)
		exitCode = 1
		return nil
	}
	applyRunFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "comet: invalid config: %v\n", err)
		exitCode = 1
		return nil
	}

	logger := newLogger(cfg)
	stopTelemetry := initTelemetry(cfg, logger)
	defer stopTelemetry()

	deps, cleanup, err := buildDeps(cfg, logger)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: %v\n", err)
		exitCode = 1
		return nil
	}

	p, err := planner.New(cfg, deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: %v\n", err)
		exitCode = 1
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var summary planner.Summary
	if runFlags.resume != "" {
		summary, err = p.Resume(ctx)
	} else {
		summary, err = p.Run(ctx)
	}

	printSummary(summary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: %v\n", err)
	}
	exitCode = exitCodeFor(ctx, err)
	return nil
}

// exitCodeFor maps a run/resume outcome onto spec.md §6's exit codes:
// 0 clean stop, 1 fatal initialization error, 2 user cancellation,
// 3 unreliable evaluation (the evaluator could not trust its own
// mutation-score signal, surfaced as errkind.BaselineRegressed since no
// StopReason models it).
func exitCodeFor(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return 2
	}
	if kind, ok := errkind.KindOf(err); ok {
		if kind == errkind.BaselineRegressed {
			return 3
		}
	}
	return 1
}

func printSummary(s planner.Summary) {
	fmt.Printf("stop reason: %s\n", s.StopReason)
	fmt.Printf("rounds: %d\n", s.Rounds)
	fmt.Printf("llm calls: %d\n", s.LLMCalls)
	for _, t := range s.Targets {
		fmt.Printf("  %s  mutation=%.1f%% line=%.1f%% branch=%.1f%% surviving=%d\n",
			t.Target, t.MutationScore*100, t.LineCoverage*100, t.BranchCoverage*100, t.SurvivingMutants)
	}
}
