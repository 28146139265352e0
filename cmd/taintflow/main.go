// Package main implements the taintflow CLI tool.
//
// The taintflow tool manages the provenance engine around a monitored
// program:
//
//	taintflow version            # Show version information
//	taintflow config show        # Print the effective configuration
//	taintflow config init        # Write a default taintflow.yaml
//	taintflow link [dir]         # Require the engine from a module's go.mod
//	taintflow demo               # Run the lineage scenarios on a live engine
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kolkov/taintflow/internal/taint/config"
	"github.com/kolkov/taintflow/internal/taint/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "taintflow",
	Short: "taintflow - dynamic provenance tracking for LLM pipelines",
	Long: `taintflow tracks which upstream LLM and tool calls every value of a
program was derived from.

A program rewriter lowers the monitored program's operations onto the
engine's runtime API (package taint); this tool configures the engine,
links it into a module and demonstrates its lineage rules.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logger, err = logging.New(cfg.Logging, verbose); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(demoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
