package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comet-forge/comet/pkg/config"
)

// checkConfigCmd loads and validates the config document without wiring
// any collaborators, so it can report exactly what is wrong instead of
// failing before it gets a chance to (unlike run/resume, this command
// never calls PersistentPreRun-style fatal loading).
var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration file and report any errors",
	RunE:  runCheckConfig,
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comet: %s: %v\n", configPath, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "comet: %s is invalid: %v\n", configPath, err)
		os.Exit(1)
	}
	fmt.Printf("%s is valid\n", configPath)
	return nil
}
