package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/services/store"
)

var reportFlags struct {
	projectPath string
}

// reportCmd reads the persisted store from a prior run/resume and prints
// a per-target summary without touching sandboxes, the build tool, or an
// LLM: it is safe to run against a project mid-loop or long after a run
// has finished.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a summary of the last recorded run for a project",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFlags.projectPath, "project-path", "", "path to the Java project under test (required)")
	_ = reportCmd.MarkFlagRequired("project-path")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.ProjectPath = reportFlags.projectPath

	dataDir := filepath.Join(cfg.ProjectPath, cfg.Paths.DataDir)
	db, err := store.Open(filepath.Join(dataDir, "comet.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: opening store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	targets, err := db.AllTargets()
	if err != nil {
		return fmt.Errorf("reading targets: %w", err)
	}
	if len(targets) == 0 {
		fmt.Println("no recorded targets for this project")
		return nil
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].ID.String() < targets[j].ID.String() })

	budget, err := db.LoadBudget()
	if err != nil {
		return fmt.Errorf("reading budget: %w", err)
	}
	fmt.Printf("rounds used: %d, llm calls used: %d\n\n", budget.RoundsUsed, budget.LLMCallsUsed)

	for _, t := range targets {
		snap, ok, err := db.LatestCoverageSnapshot(t.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "comet: reading coverage for %s: %v\n", t.ID, err)
			continue
		}
		if !ok {
			fmt.Printf("%s  (no evaluation recorded yet)\n", t.ID.String())
			continue
		}
		fmt.Printf("%s  mutation=%.1f%% line=%.1f%% branch=%.1f%% killed=%d survived=%d tests=%d\n",
			t.ID.String(), snap.MutationScore()*100, snap.LineCoverage*100, snap.BranchCoverage*100,
			snap.KilledMutants, snap.SurvivedMutants, snap.TestsCount)
	}
	return nil
}
