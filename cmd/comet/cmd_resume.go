package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/services/planner"
)

var resumeFlags struct {
	projectPath string
	debug       bool
}

// resumeCmd is a thin alias over "run --resume": it skips the scan and
// preprocessing phases and picks the round loop back up from the last
// checkpoint, per spec.md S4 (round 4 starts with identical queue order
// as if no crash had occurred).
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a previously checkpointed run",
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFlags.projectPath, "project-path", "", "path to the Java project under test (required)")
	resumeCmd.Flags().BoolVar(&resumeFlags.debug, "debug", false, "force debug-level logging regardless of the config file")
	_ = resumeCmd.MarkFlagRequired("project-path")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: loading config: %v\n", err)
		exitCode = 1
		return nil
	}
	cfg.ProjectPath = resumeFlags.projectPath
	if resumeFlags.debug {
		cfg.Logging.Level = "debug"
	}
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

	summary, err := p.Resume(ctx)
	printSummary(summary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: %v\n", err)
	}
	exitCode = exitCodeFor(ctx, err)
	return nil
}
