package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "comet",
	Short: "Adversarial mutation/test co-evolution engine",
	Long: `comet drives an LLM-guided loop that alternates between generating
mutants of a Java codebase and generating (or refining) unit tests until a
mutation-score/coverage stop condition is reached, or a run-level budget is
exhausted.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "comet.yaml",
		"path to the YAML configuration document")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(checkConfigCmd)
}
